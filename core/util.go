package core

import (
	"reflect"
	"strings"

	"github.com/kat-co/vala"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// IsProvided is vala.IsNotNil for dependencies: values of kinds that cannot be nil (e.g. a struct
// implementing an interface) count as provided instead of panicking.
func IsProvided(obtained interface{}, paramName string) vala.Checker {
	return func() (bool, string) {
		provided := obtained != nil
		if provided {
			switch v := reflect.ValueOf(obtained); v.Kind() {
			case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
				provided = !v.IsNil()
			}
		}
		return provided, "Parameter was nil: " + paramName
	}
}
