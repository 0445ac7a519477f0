package role

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
)

type Role struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Permission permission.Value `json:"permission"`
	CreatedAt  time.Time        `json:"created_at"` // UTC
	UpdatedAt  time.Time        `json:"updated_at"` // UTC
}

func (r Role) Grant() permission.Grant {
	return permission.GrantOf(r.Permission)
}

func (r Role) HasPermission(bit permission.Bit) bool {
	return permission.HasPermission(r.Permission, bit)
}

// NewRole contains information needed to create a new Role.
// The permission is given either as an integer (0 = unrestricted) or as a list of permission names, never both.
type NewRole struct {
	Name        string            `json:"name" validate:"required,max=64"`
	Permission  *permission.Value `json:"permission" validate:"omitempty,permission"`
	Permissions []string          `json:"permissions" validate:"omitempty,dive,required"`

	// GrantLimit, when set, is what the requester holds: the role may not grant more.
	GrantLimit *permission.Grant `json:"-"`
}

// Validate cleans nr and resolves Permissions into Permission.
func (nr *NewRole) Validate(validate *validator.Validate, perms *permission.Registry) error {
	nr.Name = core.CleanString(nr.Name)
	if err := validate.Struct(nr); err != nil {
		return err
	}
	value, err := resolvePermission(nr.Permission, nr.Permissions, perms)
	if err != nil {
		return err
	}
	nr.Permission, nr.Permissions = value.Ptr(), nil
	return checkGrantLimit(nr.GrantLimit, value)
}

// UpdateRole defines what information may be provided to modify an existing Role.
// Both the name and the permission are required and written as given.
type UpdateRole struct {
	Name        string            `json:"name" validate:"required,max=64"`
	Permission  *permission.Value `json:"permission" validate:"omitempty,permission"`
	Permissions []string          `json:"permissions" validate:"omitempty,dive,required"`

	// GrantLimit, when set, is what the requester holds: the role may not grant more, before or after the update.
	GrantLimit *permission.Grant `json:"-"`
}

// Validate cleans ur and resolves Permissions into Permission.
func (ur *UpdateRole) Validate(validate *validator.Validate, perms *permission.Registry) error {
	ur.Name = core.CleanString(ur.Name)
	if err := validate.Struct(ur); err != nil {
		return err
	}
	value, err := resolvePermission(ur.Permission, ur.Permissions, perms)
	if err != nil {
		return err
	}
	ur.Permission, ur.Permissions = value.Ptr(), nil
	return checkGrantLimit(ur.GrantLimit, value)
}

// resolvePermission returns the value given either directly or by names.
// A missing permission is an error: it must not default to 0, which is unrestricted.
func resolvePermission(value *permission.Value, names []string, perms *permission.Registry) (permission.Value, error) {
	switch {
	case value == nil && names == nil:
		return 0, core.NewValidationError(ErrPermissionRequired,
			core.FieldError{Field: "permission", Error: ErrPermissionRequired.Error()})
	case value != nil && names != nil:
		return 0, core.NewValidationError(ErrPermissionAmbiguous,
			core.FieldError{Field: "permission", Error: ErrPermissionAmbiguous.Error()})
	case value != nil:
		return *value, nil
	}

	grant, err := perms.Parse(names)
	if err != nil {
		return 0, core.NewValidationError(err, core.FieldError{Field: "permissions", Error: err.Error()})
	}
	encoded, err := grant.Encode()
	if err != nil {
		return 0, core.NewValidationError(err, core.FieldError{Field: "permissions", Error: err.Error()})
	}
	return encoded, nil
}

func checkGrantLimit(limit *permission.Grant, value permission.Value) error {
	if limit == nil || limit.Covers(permission.GrantOf(value)) {
		return nil
	}
	return core.NewValidationError(ErrCannotGrant, core.FieldError{Field: "permission", Error: ErrCannotGrant.Error()})
}

type QueryFilter struct {
	Search string `query:"search"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf == nil || qf.Search == ""
}

// IsNotFound reports whether err means the role does not exist.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}
