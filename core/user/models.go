package user

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
)

type User struct {
	ID         string `json:"id"`
	UID        string `json:"uid"` // auth identity, stable across email changes
	EmployeeID string `json:"employee_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	// Role is the name of the role the user holds, empty if none.
	Role string `json:"role"`
	// Permissions is the user's stored permission value, copied from their role on assignment.
	Permissions  permission.Value `json:"permissions"`
	IsActive     bool             `json:"is_active"`
	IsLocked     bool             `json:"is_locked"`
	PasswordHash []byte           `json:"-"`
	CreatedAt    time.Time        `json:"created_at"` // UTC
	UpdatedAt    time.Time        `json:"updated_at"` // UTC
	LastLogin    null.Time        `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) Grant() permission.Grant {
	return permission.GrantOf(u.Permissions)
}

func (u User) HasPermission(bit permission.Bit) bool {
	return permission.HasPermission(u.Permissions, bit)
}

// CanLogin reports whether the account may authenticate.
func (u User) CanLogin() bool {
	return u.IsActive && !u.IsLocked
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string `json:"name" validate:"required"`
	EmployeeID      string `json:"employee_id" validate:"omitempty,alphanum_"`
	Email           string `json:"email" validate:"required,email"`
	Role            string `json:"role" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.EmployeeID = core.CleanString(nu.EmployeeID)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Role = core.CleanString(nu.Role)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Email, nu.EmployeeID)
}

// UpdateUser defines what information may be provided to modify an existing User.
// Empty strings and nil pointers leave the field unchanged.
type UpdateUser struct {
	Name            string  `json:"name"`
	EmployeeID      string  `json:"employee_id" validate:"omitempty,alphanum_"`
	Email           string  `json:"email" validate:"omitempty,email"`
	Role            *string `json:"role"`
	IsActive        *bool   `json:"is_active"`
	IsLocked        *bool   `json:"is_locked"`
	Password        string  `json:"password" validate:"omitempty"`
	PasswordConfirm string  `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc Service) error {
	name := core.CleanString(uu.Name)
	if name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}

	empID := core.CleanString(uu.EmployeeID)
	if empID != "" {
		uu.EmployeeID = empID
	} else {
		uu.EmployeeID = origUsr.EmployeeID
	}

	email := core.CleanString(uu.Email, true /* lower */)
	if email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if uu.Role != nil {
		r := core.CleanString(*uu.Role)
		if r == "" {
			return core.NewValidationError(nil, core.FieldError{Field: "role", Error: "this field is required"})
		}
		uu.Role = &r
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Email, uu.EmployeeID, origUsr)
}

// SetUserPermissions overwrites a user's permission value.
type SetUserPermissions struct {
	Permissions permission.Value `json:"permissions"`
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

type QueryFilter struct {
	Search   string `query:"search"`
	Role     string `query:"role"`
	IsActive *bool  `query:"is_active"`
	IsLocked *bool  `query:"is_locked"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf == nil || (qf.Search == "" && qf.Role == "" && qf.IsActive == nil && qf.IsLocked == nil)
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Role = core.CleanString(qf.Role)
}

// GetFilter selects a single user; the first non-empty field wins.
type GetFilter struct {
	ID                string
	UID               string
	Email             string
	EmployeeID        string
	EmailOrEmployeeID string
}
