package permission

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrEmptyMask is returned when encoding a grant without any bit: it would read back as Unrestricted.
var ErrEmptyMask = errors.New("a permission mask needs at least one bit (0 means unrestricted)")

// Grant is the decoded form of a Value: either Unrestricted or an explicit bit mask.
type Grant struct {
	unrestricted bool
	mask         Value
}

func Unrestricted() Grant { return Grant{unrestricted: true} }

func Bits(mask Value) Grant { return Grant{mask: mask} }

// GrantOf decodes a persisted value.
func GrantOf(v Value) Grant {
	if v == UnrestrictedValue {
		return Unrestricted()
	}
	return Bits(v)
}

func (g Grant) IsUnrestricted() bool { return g.unrestricted }

// Mask returns the explicit bits; it is 0 for an unrestricted grant.
func (g Grant) Mask() Value { return g.mask }

func (g Grant) Has(bit Bit) bool {
	if g.unrestricted {
		return true
	}
	return g.mask >= 0 && g.mask&Value(bit) == Value(bit)
}

// Encode returns the persisted value of g.
func (g Grant) Encode() (Value, error) {
	if g.unrestricted {
		return UnrestrictedValue, nil
	}
	if g.mask == 0 {
		return 0, ErrEmptyMask
	}
	return g.mask, nil
}

type grantJSON struct {
	Unrestricted bool  `json:"unrestricted"`
	Value        Value `json:"value"`
}

func (g Grant) MarshalJSON() ([]byte, error) {
	return json.Marshal(grantJSON{Unrestricted: g.unrestricted, Value: g.mask})
}

// Covers reports whether g grants every bit other grants. Only an unrestricted grant covers an unrestricted one.
func (g Grant) Covers(other Grant) bool {
	switch {
	case g.unrestricted:
		return true
	case other.unrestricted:
		return false
	case other.mask <= 0: // grants nothing
		return true
	case g.mask < 0:
		return false
	}
	return other.mask&^g.mask == 0
}
