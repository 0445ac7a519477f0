package permission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidValue = errors.New("invalid permission value")
	ErrUnknownName  = errors.New("unknown permission")
)

// Definition names a permission bit. Since is the registry version that introduced it.
type Definition struct {
	Name  string `json:"name"`
	Bit   Bit    `json:"bit"`
	Label string `json:"label"`
	Since int    `json:"since"`
}

// Registry is an immutable, versioned, append-only set of permission definitions.
// It is built once at startup and injected where permissions are validated.
type Registry struct {
	version   int
	defs      []Definition
	byName    map[string]Definition
	aggregate Value
}

// NewRegistry validates defs and returns a registry at the given version.
func NewRegistry(version int, defs ...Definition) (*Registry, error) {
	r := &Registry{byName: make(map[string]Definition, len(defs))}
	return r.extend(version, defs)
}

// MustNewRegistry is NewRegistry that panics on invalid definitions.
func MustNewRegistry(version int, defs ...Definition) *Registry {
	r, err := NewRegistry(version, defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Extend returns a new registry holding r's definitions plus defs.
// The version must increase; existing bits keep their names and values.
func (r *Registry) Extend(version int, defs ...Definition) (*Registry, error) {
	if version <= r.version {
		return nil, errors.Errorf("registry version must increase: %d <= %d", version, r.version)
	}
	next := &Registry{
		version:   r.version,
		defs:      make([]Definition, len(r.defs), len(r.defs)+len(defs)),
		byName:    make(map[string]Definition, len(r.defs)+len(defs)),
		aggregate: r.aggregate,
	}
	copy(next.defs, r.defs)
	for name, def := range r.byName {
		next.byName[name] = def
	}
	return next.extend(version, defs)
}

func (r *Registry) extend(version int, defs []Definition) (*Registry, error) {
	if version < 1 {
		return nil, errors.Errorf("invalid registry version %d", version)
	}
	for _, def := range defs {
		def.Name = strings.ToUpper(strings.TrimSpace(def.Name))
		if def.Name == "" {
			return nil, errors.New("permission name cannot be empty")
		}
		if !def.Bit.isPowerOfTwo() {
			return nil, errors.Errorf("permission %s: bit %d is not a power of two", def.Name, def.Bit)
		}
		if _, exists := r.byName[def.Name]; exists {
			return nil, errors.Errorf("permission %s already registered", def.Name)
		}
		if r.aggregate&Value(def.Bit) != 0 {
			return nil, errors.Errorf("permission %s: bit %d already in use", def.Name, def.Bit)
		}
		if def.Since == 0 {
			def.Since = version
		}
		r.defs = append(r.defs, def)
		r.byName[def.Name] = def
		r.aggregate |= Value(def.Bit)
	}
	sort.Slice(r.defs, func(i, j int) bool { return r.defs[i].Bit < r.defs[j].Bit })
	r.version = version
	return r, nil
}

func (r *Registry) Version() int { return r.version }

// Aggregate returns the bitwise OR of every defined bit. It is never the Unrestricted sentinel.
func (r *Registry) Aggregate() Value { return r.aggregate }

// Definitions returns the definitions ordered by bit.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

func (r *Registry) Lookup(name string) (Bit, bool) {
	def, ok := r.byName[strings.ToUpper(strings.TrimSpace(name))]
	return def.Bit, ok
}

// Name returns the name of bit, or "" if it is not defined.
func (r *Registry) Name(bit Bit) string {
	for _, def := range r.defs {
		if def.Bit == bit {
			return def.Name
		}
	}
	return ""
}

// Validate checks that v is the Unrestricted sentinel or a combination of defined bits.
func (r *Registry) Validate(v Value) error {
	if v < 0 || v&^r.aggregate != 0 {
		return errors.Wrapf(ErrInvalidValue, "%d is outside [0, %d] or sets undefined bits", v, r.aggregate)
	}
	return nil
}

// Names lists the names of the bits granted by v. Unrestricted lists every name.
func (r *Registry) Names(v Value) []string {
	names := make([]string, 0, len(r.defs))
	for _, def := range r.defs {
		if HasPermission(v, def.Bit) {
			names = append(names, def.Name)
		}
	}
	return names
}

// Parse ORs the bits of names together. An empty list yields Bits(0), which cannot be persisted.
func (r *Registry) Parse(names []string) (Grant, error) {
	var mask Value
	for _, name := range names {
		bit, ok := r.Lookup(name)
		if !ok {
			return Grant{}, errors.Wrap(ErrUnknownName, fmt.Sprintf("%q", name))
		}
		mask |= Value(bit)
	}
	return Bits(mask), nil
}
