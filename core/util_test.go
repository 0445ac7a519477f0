package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type valueDep struct{}

func TestIsProvided(t *testing.T) {
	var nilPtr *valueDep
	var nilIface interface{}

	tests := []struct {
		name     string
		obtained interface{}
		want     bool
	}{
		{name: "nil", obtained: nilIface, want: false},
		{name: "nil pointer", obtained: nilPtr, want: false},
		{name: "nil map", obtained: map[string]int(nil), want: false},
		{name: "pointer", obtained: &valueDep{}, want: true},
		{name: "struct value", obtained: valueDep{}, want: true},
		{name: "empty string", obtained: "", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := IsProvided(tt.obtained, "dep")()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "Parameter was nil: dep", msg)
		})
	}
}
