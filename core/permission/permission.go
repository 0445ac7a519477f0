// Package permission defines the portal's permission bits, the registry they live in and the
// evaluator used by every protected action.
//
// A permission Value is the integer persisted on roles and copied onto users. The value 0 is a
// sentinel meaning "every permission granted"; it is NOT the same as the aggregate of all defined
// bits, which literally sets each bit. Use Grant to handle both cases without comparing against 0.
package permission

// Value is a persisted permission integer: either Unrestricted (0) or an OR-combination of bits.
type Value int64

// Bit is a single named capability; always a power of two.
type Bit int64

// UnrestrictedValue is the sentinel value granting every permission, including bits added later.
const UnrestrictedValue Value = 0

// Permission bits. Never renumber or reuse a value: roles and users persist them.
const (
	ManageUsers Bit = 1 << iota
	ManageClasses
	ManageGrades
	ManageStudents
	ManageSettings
	ManageRoles
	PortalSettings
)

// Permission names, as used by the API and the CLI.
const (
	ManageUsersName    = "MANAGE_USERS"
	ManageClassesName  = "MANAGE_CLASSES"
	ManageGradesName   = "MANAGE_GRADES"
	ManageStudentsName = "MANAGE_STUDENTS"
	ManageSettingsName = "MANAGE_SETTINGS"
	ManageRolesName    = "MANAGE_ROLES"
	PortalSettingsName = "PORTAL_SETTINGS"
)

// Default is the registry of the bits above, at schema version 1.
var Default = MustNewRegistry(1,
	Definition{Name: ManageUsersName, Bit: ManageUsers, Label: "Manage users"},
	Definition{Name: ManageClassesName, Bit: ManageClasses, Label: "Manage classes"},
	Definition{Name: ManageGradesName, Bit: ManageGrades, Label: "Manage grades"},
	Definition{Name: ManageStudentsName, Bit: ManageStudents, Label: "Manage students"},
	Definition{Name: ManageSettingsName, Bit: ManageSettings, Label: "Manage settings"},
	Definition{Name: ManageRolesName, Bit: ManageRoles, Label: "Manage roles"},
	Definition{Name: PortalSettingsName, Bit: PortalSettings, Label: "Portal settings"},
)

// AllPermissionsAggregate returns the bitwise OR of every bit of the Default registry.
func AllPermissionsAggregate() Value {
	return Default.Aggregate()
}

// HasPermission reports whether value grants bit.
// 0 grants everything; negative values grant nothing.
func HasPermission(value Value, bit Bit) bool {
	if value == UnrestrictedValue {
		return true
	}
	if value < 0 {
		return false
	}
	return value&Value(bit) == Value(bit)
}

// Has is HasPermission(v, bit).
func (v Value) Has(bit Bit) bool {
	return HasPermission(v, bit)
}

// Ptr returns a pointer to a copy of v, for optional form fields.
func (v Value) Ptr() *Value {
	return &v
}

func (b Bit) isPowerOfTwo() bool {
	return b > 0 && b&(b-1) == 0
}
