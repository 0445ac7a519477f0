package role

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
)

var (
	// errors
	ErrNotFound   = errors.New("role not found")
	ErrNameExists = errors.New("a role with this name already exists")
	ErrRoleInUse  = errors.New("role is still assigned to users")

	ErrPermissionRequired  = errors.New("permission or permissions is required")
	ErrPermissionAmbiguous = errors.New("give either permission or permissions, not both")
	ErrCannotGrant         = errors.New("cannot grant permissions you do not hold")
)

type (
	Repository interface {
		GetRole(ctx context.Context, id string) (Role, error)
		// GetRoleByName returns the first role (by ID) named name.
		GetRoleByName(ctx context.Context, name string) (Role, error)
		// QueryRoles does a case-insensitive match of QueryFilter.Search on Role.Name.
		QueryRoles(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Role, error)
		CreateRole(ctx context.Context, r Role, batch ...*core.Batch) (Role, error)
		UpdateRole(ctx context.Context, r Role, batch ...*core.Batch) (Role, error)
		DeleteRole(ctx context.Context, id string, batch ...*core.Batch) error
		SubscribeRoles(onChange func(core.Change)) (core.Unsubscribe, error)
	}

	// MemberRepository gives access to the users holding a role, matched by role name.
	MemberRepository interface {
		QueryMemberIDs(ctx context.Context, roleName string) ([]string, error)
		SetMemberPermissions(ctx context.Context, userID string, value permission.Value, batch ...*core.Batch) error
		SetMemberRole(ctx context.Context, userID, roleName string, batch ...*core.Batch) error
	}

	Service interface {
		Registry() *permission.Registry
		Create(ctx context.Context, nr NewRole) (Role, error)
		Get(ctx context.Context, id string) (Role, error)
		GetByName(ctx context.Context, name string) (Role, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Role, error)
		// Members returns the IDs of the users holding the role.
		Members(ctx context.Context, id string) ([]string, error)
		// Update writes the role and copies its permission onto every user holding it in one atomic batch.
		Update(ctx context.Context, id string, ur UpdateRole) (Role, error)
		// Resync copies the role's permission onto its current members. It returns the number of members written.
		Resync(ctx context.Context, id string) (int, error)
		Delete(ctx context.Context, id string) error
		Subscribe(onChange func(core.Change)) (core.Unsubscribe, error)
	}

	service struct {
		store    core.Store
		repo     Repository
		members  MemberRepository
		perms    *permission.Registry
		validate *validator.Validate
		conf     core.RolesConfig
		logger   core.Logger
		metrics  core.Metrics
	}
)

var (
	_ Service = (*service)(nil) // interface compliance check

	nowFunc = time.Now // mockable
)

func NewService(
	store core.Store,
	repo Repository,
	members MemberRepository,
	perms *permission.Registry,
	validate *validator.Validate,
	conf *core.Config,
	logger core.Logger,
	metrics core.Metrics,
) Service {
	vala.BeginValidation().Validate(
		core.IsProvided(store, "store"),
		core.IsProvided(repo, "repo"),
		core.IsProvided(members, "members"),
		core.IsProvided(perms, "perms"),
		core.IsProvided(validate, "validate"),
		core.IsProvided(conf, "conf"),
		core.IsProvided(logger, "logger"),
	).CheckAndPanic()

	if metrics == nil {
		metrics = core.NopMetrics
	}
	return &service{
		store:    store,
		repo:     repo,
		members:  members,
		perms:    perms,
		validate: validate,
		conf:     conf.Roles,
		logger:   logger,
		metrics:  metrics,
	}
}

func (svc *service) Registry() *permission.Registry {
	return svc.perms
}

// checkNameUniqueness is best-effort: two concurrent creates may still both succeed.
func (svc *service) checkNameUniqueness(ctx context.Context, name string, excludedID string) error {
	r, err := svc.repo.GetRoleByName(ctx, name)
	switch {
	case IsNotFound(err):
		return nil
	case err != nil:
		return errors.Wrap(err, "finding role by name")
	case r.ID == excludedID:
		return nil
	}
	return core.NewValidationError(ErrNameExists, core.FieldError{Field: "name", Error: ErrNameExists.Error()})
}

func (svc *service) Create(ctx context.Context, nr NewRole) (Role, error) {
	if err := nr.Validate(svc.validate, svc.perms); err != nil {
		return Role{}, err
	}
	if err := svc.checkNameUniqueness(ctx, nr.Name, ""); err != nil {
		return Role{}, err
	}

	now := nowFunc().UTC()
	r := Role{
		ID:         uuid.New().String(),
		Name:       nr.Name,
		Permission: *nr.Permission,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return svc.repo.CreateRole(ctx, r)
}

func (svc *service) Get(ctx context.Context, id string) (Role, error) {
	return svc.repo.GetRole(ctx, id)
}

func (svc *service) GetByName(ctx context.Context, name string) (Role, error) {
	return svc.repo.GetRoleByName(ctx, core.CleanString(name))
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Role, error) {
	return svc.repo.QueryRoles(ctx, filter, ordering)
}

func (svc *service) Members(ctx context.Context, id string) ([]string, error) {
	r, err := svc.repo.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	ids, err := svc.members.QueryMemberIDs(ctx, r.Name)
	return ids, errors.Wrap(err, "querying role members")
}

func (svc *service) Update(ctx context.Context, id string, ur UpdateRole) (Role, error) {
	if err := ur.Validate(svc.validate, svc.perms); err != nil {
		return Role{}, err
	}

	// members are matched on the name the role had before this update
	orig, err := svc.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if err = checkGrantLimit(ur.GrantLimit, orig.Permission); err != nil {
		return Role{}, err
	}
	renamed := ur.Name != orig.Name
	if renamed {
		if err = svc.checkNameUniqueness(ctx, ur.Name, orig.ID); err != nil {
			return Role{}, err
		}
	}

	memberIDs, err := svc.members.QueryMemberIDs(ctx, orig.Name)
	if err != nil {
		return Role{}, errors.Wrap(err, "querying role members")
	}

	r := orig
	r.Name = ur.Name
	r.Permission = *ur.Permission
	r.UpdatedAt = nowFunc().UTC()

	batch := core.NewBatch()
	if r, err = svc.repo.UpdateRole(ctx, r, batch); err != nil {
		return Role{}, err
	}
	rewrite := renamed && svc.conf.RewriteMembersOnRename
	for _, uid := range memberIDs {
		if err = svc.members.SetMemberPermissions(ctx, uid, r.Permission, batch); err != nil {
			return Role{}, err
		}
		if rewrite {
			if err = svc.members.SetMemberRole(ctx, uid, r.Name, batch); err != nil {
				return Role{}, err
			}
		}
	}

	err = batch.Commit(ctx, svc.store, "updating role")
	svc.metrics.ObservePropagation(len(memberIDs), err)
	if err != nil {
		return Role{}, err
	}

	if renamed && !rewrite && len(memberIDs) > 0 {
		svc.logger.Warn(
			fmt.Sprintf("role %q renamed to %q: %d member(s) still reference the old name", orig.Name, r.Name, len(memberIDs)),
			map[string]interface{}{"role_id": r.ID, "members": memberIDs},
		)
	}
	return r, nil
}

func (svc *service) Resync(ctx context.Context, id string) (int, error) {
	r, err := svc.repo.GetRole(ctx, id)
	if err != nil {
		return 0, err
	}
	memberIDs, err := svc.members.QueryMemberIDs(ctx, r.Name)
	if err != nil {
		return 0, errors.Wrap(err, "querying role members")
	}

	batch := core.NewBatch()
	for _, uid := range memberIDs {
		if err = svc.members.SetMemberPermissions(ctx, uid, r.Permission, batch); err != nil {
			return 0, err
		}
	}
	err = batch.Commit(ctx, svc.store, "resyncing role")
	svc.metrics.ObservePropagation(len(memberIDs), err)
	if err != nil {
		return 0, err
	}
	return len(memberIDs), nil
}

func (svc *service) Delete(ctx context.Context, id string) error {
	r, err := svc.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	memberIDs, err := svc.members.QueryMemberIDs(ctx, r.Name)
	if err != nil {
		return errors.Wrap(err, "querying role members")
	}

	batch := core.NewBatch()
	switch svc.conf.DeletePolicy {
	case core.DeletePolicyAllow:
		if len(memberIDs) > 0 {
			svc.logger.Warn(
				fmt.Sprintf("role %q deleted: %d member(s) keep a dangling reference", r.Name, len(memberIDs)),
				map[string]interface{}{"role_id": r.ID, "members": memberIDs},
			)
		}
	case core.DeletePolicyDetach:
		for _, uid := range memberIDs {
			if err = svc.members.SetMemberRole(ctx, uid, "", batch); err != nil {
				return err
			}
		}
	default: // forbid
		if len(memberIDs) > 0 {
			msg := fmt.Sprintf("role is assigned to %d user(s)", len(memberIDs))
			return core.NewValidationError(ErrRoleInUse, core.FieldError{Field: "role", Error: msg})
		}
	}

	if err = svc.repo.DeleteRole(ctx, r.ID, batch); err != nil {
		return err
	}
	return batch.Commit(ctx, svc.store, "deleting role")
}

func (svc *service) Subscribe(onChange func(core.Change)) (core.Unsubscribe, error) {
	return svc.repo.SubscribeRoles(onChange)
}
