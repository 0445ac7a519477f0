package permission

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allBits = []Bit{ManageUsers, ManageClasses, ManageGrades, ManageStudents, ManageSettings, ManageRoles, PortalSettings}

func TestBitValues(t *testing.T) {
	want := []Bit{1, 2, 4, 8, 16, 32, 64}
	assert.Equal(t, want, allBits)
	assert.Equal(t, Value(127), AllPermissionsAggregate())
	assert.NotEqual(t, UnrestrictedValue, AllPermissionsAggregate())
}

func TestHasPermission(t *testing.T) {
	for _, b := range allBits {
		assert.True(t, HasPermission(0, b), "sentinel must grant %d", b)
		assert.True(t, HasPermission(AllPermissionsAggregate(), b), "aggregate must grant %d", b)
	}

	// every non-zero value only grants its own bits
	for v := Value(1); v <= AllPermissionsAggregate(); v++ {
		for _, b := range allBits {
			want := v&Value(b) != 0
			if got := HasPermission(v, b); got != want {
				t.Errorf("HasPermission(%d, %d) = %v, want %v", v, b, got, want)
			}
		}
	}

	tests := []struct {
		name  string
		value Value
		bit   Bit
		want  bool
	}{
		{name: "teacher grades", value: 4, bit: ManageGrades, want: true},
		{name: "teacher users", value: 4, bit: ManageUsers},
		{name: "grades and classes", value: 6, bit: ManageClasses, want: true},
		{name: "negative grants nothing", value: -1, bit: ManageUsers},
		{name: "undefined high bit", value: 128, bit: PortalSettings},
		{name: "multi-bit requirement", value: 4, bit: Bit(6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.value, tt.bit))
			assert.Equal(t, tt.want, tt.value.Has(tt.bit))
		})
	}
}

func TestGrant(t *testing.T) {
	g := GrantOf(0)
	assert.True(t, g.IsUnrestricted())
	for _, b := range allBits {
		assert.True(t, g.Has(b))
	}
	v, err := g.Encode()
	require.NoError(t, err)
	assert.Equal(t, UnrestrictedValue, v)

	g = GrantOf(AllPermissionsAggregate())
	assert.False(t, g.IsUnrestricted())
	assert.Equal(t, Value(127), g.Mask())

	g = GrantOf(6)
	assert.True(t, g.Has(ManageGrades))
	assert.False(t, g.Has(ManageUsers))
	v, err = g.Encode()
	require.NoError(t, err)
	assert.Equal(t, Value(6), v)

	_, err = Bits(0).Encode()
	assert.Equal(t, ErrEmptyMask, err)
	assert.False(t, Bits(0).Has(ManageUsers))

	data, err := Unrestricted().MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"unrestricted": true, "value": 0}`, string(data))
}

func TestGrant_Covers(t *testing.T) {
	tests := []struct {
		holder, other Value
		want          bool
	}{
		{holder: 0, other: 0, want: true},
		{holder: 0, other: 127, want: true},
		{holder: 127, other: 0, want: false},
		{holder: 127, other: 6, want: true},
		{holder: 6, other: 4, want: true},
		{holder: 6, other: 8, want: false},
		{holder: 6, other: 12, want: false},
		{holder: 4, other: -1, want: true},
		{holder: -1, other: 4, want: false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d covers %d", tt.holder, tt.other), func(t *testing.T) {
			assert.Equal(t, tt.want, GrantOf(tt.holder).Covers(GrantOf(tt.other)))
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Run("invalid definitions", func(t *testing.T) {
		_, err := NewRegistry(1, Definition{Name: "A", Bit: 3})
		assert.Error(t, err, "not a power of two")
		_, err = NewRegistry(1, Definition{Name: "A", Bit: 1}, Definition{Name: "a", Bit: 2})
		assert.Error(t, err, "duplicate name")
		_, err = NewRegistry(1, Definition{Name: "A", Bit: 1}, Definition{Name: "B", Bit: 1})
		assert.Error(t, err, "duplicate bit")
		_, err = NewRegistry(1, Definition{Name: " ", Bit: 1})
		assert.Error(t, err, "empty name")
		_, err = NewRegistry(0)
		assert.Error(t, err, "version")
	})

	t.Run("extend is append-only", func(t *testing.T) {
		next, err := Default.Extend(2, Definition{Name: "MANAGE_REPORTS", Bit: 128})
		require.NoError(t, err)
		assert.Equal(t, 2, next.Version())
		assert.Equal(t, Value(255), next.Aggregate())
		assert.Equal(t, Value(127), Default.Aggregate(), "Default must not change")
		assert.Len(t, Default.Definitions(), 7)
		assert.Len(t, next.Definitions(), 8)

		bit, ok := next.Lookup("manage_reports")
		assert.True(t, ok)
		assert.Equal(t, Bit(128), bit)
		assert.Equal(t, 2, next.Definitions()[7].Since)
		assert.Equal(t, 1, next.Definitions()[0].Since)

		_, err = next.Extend(2, Definition{Name: "X", Bit: 256})
		assert.Error(t, err, "version must increase")
		_, err = next.Extend(3, Definition{Name: "X", Bit: 4})
		assert.Error(t, err, "bits cannot be reused")
	})

	t.Run("validate", func(t *testing.T) {
		for _, v := range []Value{0, 1, 6, 127} {
			assert.NoError(t, Default.Validate(v), "value %d", v)
		}
		for _, v := range []Value{-1, 128, 129, 1 << 40} {
			assert.Equal(t, ErrInvalidValue, errors.Cause(Default.Validate(v)), "value %d", v)
		}
	})

	t.Run("names and parse", func(t *testing.T) {
		assert.Equal(t, []string{ManageClassesName, ManageGradesName}, Default.Names(6))
		assert.Len(t, Default.Names(0), 7)
		assert.Equal(t, ManageRolesName, Default.Name(ManageRoles))
		assert.Equal(t, "", Default.Name(Bit(3)))

		g, err := Default.Parse([]string{"manage_grades", ManageClassesName})
		require.NoError(t, err)
		assert.Equal(t, Value(6), g.Mask())

		_, err = Default.Parse([]string{"LOL"})
		assert.Equal(t, ErrUnknownName, errors.Cause(err))
	})
}
