package user

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
	"github.com/trezcool/shule/core/role"
)

var (
	// errors
	ErrNotFound         = errors.New("user not found")
	ErrEmailExists      = errors.New("a user with this email already exists")
	ErrEmployeeIDExists = errors.New("a user with this employee ID already exists")
	ErrUnknownRole      = errors.New("role does not exist")

	passwordResetTemplate = "password_reset"
)

type (
	Repository interface {
		CheckUniqueness(ctx context.Context, email, employeeID string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User, batch ...*core.Batch) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.EmployeeID or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		// UpdateUser writes the profile, status, password and last login fields; role and permissions are left untouched.
		UpdateUser(ctx context.Context, usr User, batch ...*core.Batch) (User, error)
		SetUserRole(ctx context.Context, id, roleName string, batch ...*core.Batch) error
		SetUserPermissions(ctx context.Context, id string, value permission.Value, batch ...*core.Batch) error
		DeleteUsersByID(ctx context.Context, ids []string) (int, error)
		SubscribeUsers(onChange func(core.Change)) (core.Unsubscribe, error)
	}

	Service interface {
		CheckUniqueness(ctx context.Context, email, employeeID string, exclUsers ...User) error
		Create(ctx context.Context, nu NewUser) (User, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		GetByEmailOrEmployeeID(ctx context.Context, login string) (User, error)
		Update(ctx context.Context, id string, uu UpdateUser) (User, error)
		// SetPermissions overwrites the user's permission value; it may desynchronize the user from their role.
		SetPermissions(ctx context.Context, id string, value permission.Value) (User, error)
		// EffectivePermission returns the stored permission value, never re-derived from the role.
		EffectivePermission(usr User) permission.Value
		SetLastLogin(ctx context.Context, usr User) (User, error)
		Delete(ctx context.Context, ids ...string) error
		// Orphans returns the users whose role names no existing role.
		Orphans(ctx context.Context) ([]User, error)
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, data ResetUserPassword) error
		Subscribe(onChange func(core.Change)) (core.Unsubscribe, error)
	}

	service struct {
		store    core.Store
		repo     Repository
		roles    role.Repository
		perms    *permission.Registry
		validate *validator.Validate
		mailSvc  core.EmailService
		conf     *core.Config
		logger   core.Logger
		tokens   tokenGenerator
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(
	store core.Store,
	repo Repository,
	roles role.Repository,
	perms *permission.Registry,
	validate *validator.Validate,
	mailSvc core.EmailService,
	conf *core.Config,
	logger core.Logger,
) Service {
	return newService(store, repo, roles, perms, validate, mailSvc, conf, logger)
}

func newService(
	store core.Store,
	repo Repository,
	roles role.Repository,
	perms *permission.Registry,
	validate *validator.Validate,
	mailSvc core.EmailService,
	conf *core.Config,
	logger core.Logger,
) *service {
	vala.BeginValidation().Validate(
		core.IsProvided(store, "store"),
		core.IsProvided(repo, "repo"),
		core.IsProvided(roles, "roles"),
		core.IsProvided(perms, "perms"),
		core.IsProvided(validate, "validate"),
		core.IsProvided(mailSvc, "mailSvc"),
		core.IsProvided(conf, "conf"),
		core.IsProvided(logger, "logger"),
		vala.StringNotEmpty(conf.SecretKey, "conf.SecretKey"),
	).CheckAndPanic()

	return &service{
		store:    store,
		repo:     repo,
		roles:    roles,
		perms:    perms,
		validate: validate,
		mailSvc:  mailSvc,
		conf:     conf,
		logger:   logger,
		tokens:   newTokenGenerator(conf.SecretKey, conf.PasswordResetTimeoutDelta),
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, email, employeeID string, exclUsers ...User) error {
	if err := svc.repo.CheckUniqueness(ctx, email, employeeID, exclUsers...); err != nil {
		var field string
		switch err {
		case ErrEmailExists:
			field = "email"
		case ErrEmployeeIDExists:
			field = "employee_id"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

// getRole returns the role named name, reporting an unknown name as a validation error.
func (svc *service) getRole(ctx context.Context, name string) (role.Role, error) {
	r, err := svc.roles.GetRoleByName(ctx, name)
	if err != nil {
		if role.IsNotFound(err) {
			return role.Role{}, core.NewValidationError(ErrUnknownRole, core.FieldError{Field: "role", Error: ErrUnknownRole.Error()})
		}
		return role.Role{}, errors.Wrap(err, "finding role by name")
	}
	return r, nil
}

func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	if err := nu.Validate(ctx, svc.validate, svc); err != nil {
		return User{}, err
	}

	now := nowFunc().UTC()
	usr := User{
		ID:         uuid.New().String(),
		UID:        uuid.New().String(),
		EmployeeID: nu.EmployeeID,
		Email:      nu.Email,
		Name:       nu.Name,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r, err := svc.getRole(ctx, nu.Role)
	if err != nil {
		return User{}, err
	}
	usr.Role = r.Name
	usr.Permissions = r.Permission

	if err = usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *service) GetByEmailOrEmployeeID(ctx context.Context, login string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{EmailOrEmployeeID: core.CleanString(login)})
}

func (svc *service) Update(ctx context.Context, id string, uu UpdateUser) (User, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err = uu.Validate(ctx, usr, svc.validate, svc); err != nil {
		return User{}, err
	}

	usr.Name = uu.Name
	usr.EmployeeID = uu.EmployeeID
	usr.Email = uu.Email
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.IsLocked != nil {
		usr.IsLocked = *uu.IsLocked
	}
	if uu.Password != "" {
		if err = usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	usr.UpdatedAt = nowFunc().UTC()

	batch := core.NewBatch()
	if usr, err = svc.repo.UpdateUser(ctx, usr, batch); err != nil {
		return User{}, err
	}

	if uu.Role != nil && *uu.Role != usr.Role {
		r, err := svc.getRole(ctx, *uu.Role)
		if err != nil {
			return User{}, err
		}
		usr.Role = r.Name
		usr.Permissions = r.Permission
		if err = svc.repo.SetUserRole(ctx, usr.ID, usr.Role, batch); err != nil {
			return User{}, err
		}
		if err = svc.repo.SetUserPermissions(ctx, usr.ID, usr.Permissions, batch); err != nil {
			return User{}, err
		}
	}

	if err = batch.Commit(ctx, svc.store, "updating user"); err != nil {
		return User{}, err
	}
	return usr, nil
}

func (svc *service) SetPermissions(ctx context.Context, id string, value permission.Value) (User, error) {
	if err := svc.perms.Validate(value); err != nil {
		return User{}, core.NewValidationError(err, core.FieldError{Field: "permissions", Error: err.Error()})
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err = svc.repo.SetUserPermissions(ctx, usr.ID, value); err != nil {
		return User{}, err
	}
	usr.Permissions = value
	return usr, nil
}

func (svc *service) EffectivePermission(usr User) permission.Value {
	return usr.Permissions
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = null.TimeFrom(nowFunc().UTC())
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := svc.repo.DeleteUsersByID(ctx, ids)
	return err
}

func (svc *service) Orphans(ctx context.Context) ([]User, error) {
	users, err := svc.repo.QueryUsers(ctx, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	roles, err := svc.roles.QueryRoles(ctx, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying roles")
	}

	names := make(map[string]bool, len(roles))
	for _, r := range roles {
		names[r.Name] = true
	}
	orphans := make([]User, 0)
	for _, usr := range users {
		if usr.Role != "" && !names[usr.Role] {
			orphans = append(orphans, usr)
		}
	}
	return orphans, nil
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.CanLogin() {
		return ErrNotFound
	}
	go svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *service) sendPasswordResetMail(usr User) {
	msg := &core.EmailMessage{
		To:              []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:         "Password Reset",
		TemplateName:    passwordResetTemplate,
		FrontendBaseURL: svc.conf.FrontendBaseURL,
		TemplateData: map[string]string{
			"Name": usr.Name,
			"Path": fmt.Sprintf("/password-reset/%s/%s", EncodeUID(usr), svc.tokens.makeToken(usr)),
		},
	}
	svc.mailSvc.SendMessages(msg)
}

func (svc *service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	id, err := decodeUID(data.UID)
	if err != nil {
		return core.NewValidationError(errInvalidToken)
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return core.NewValidationError(errInvalidToken)
		}
		return err
	}
	if err = svc.tokens.verifyToken(usr, data.Token); err != nil {
		return core.NewValidationError(err)
	}

	if err = usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = nowFunc().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return err
}

func (svc *service) Subscribe(onChange func(core.Change)) (core.Unsubscribe, error) {
	return svc.repo.SubscribeUsers(onChange)
}
