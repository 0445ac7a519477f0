package docrepos

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
	"github.com/trezcool/shule/core/role"
	"github.com/trezcool/shule/core/user"
)

// field names of the user documents
const (
	userRoleField        = "role"
	userPermissionsField = "permissions"
)

type userDocument struct {
	UID          string           `json:"uid"`
	EmployeeID   string           `json:"employeeId"`
	Email        string           `json:"email"`
	Name         string           `json:"name"`
	Role         string           `json:"role"`
	Permissions  permission.Value `json:"permissions"`
	Active       bool             `json:"active"`
	IsLocked     bool             `json:"isLocked"`
	PasswordHash []byte           `json:"passwordHash"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	LastLogin    null.Time        `json:"lastLogin"`
}

type userRepository struct {
	docRepository
}

var (
	_ user.Repository       = (*userRepository)(nil) // interface compliance check
	_ role.MemberRepository = (*userRepository)(nil)
)

func NewUserRepository(store core.Store) *userRepository {
	return &userRepository{docRepository{store: store}}
}

func (repo userRepository) boil(usr user.User) (core.Write, error) {
	lastLogin := usr.LastLogin
	if lastLogin.Valid {
		lastLogin.Time = lastLogin.Time.UTC()
	}
	doc, err := core.EncodeDocument(userDocument{
		UID:          usr.UID,
		EmployeeID:   usr.EmployeeID,
		Email:        usr.Email,
		Name:         usr.Name,
		Role:         usr.Role,
		Permissions:  usr.Permissions,
		Active:       usr.IsActive,
		IsLocked:     usr.IsLocked,
		PasswordHash: usr.PasswordHash,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    lastLogin,
	})
	if err != nil {
		return core.Write{}, errors.Wrap(err, "boiling user")
	}
	return core.Write{Collection: core.UsersCollection, ID: usr.ID, Fields: doc}, nil
}

func (repo userRepository) unboil(doc core.Document) (user.User, error) {
	var ud userDocument
	if err := core.DecodeDocument(doc, &ud); err != nil {
		return user.User{}, errors.Wrap(err, "decoding user")
	}
	id, _ := doc["id"].(string)
	return user.User{
		ID:           id,
		UID:          ud.UID,
		EmployeeID:   ud.EmployeeID,
		Email:        ud.Email,
		Name:         ud.Name,
		Role:         ud.Role,
		Permissions:  ud.Permissions,
		IsActive:     ud.Active,
		IsLocked:     ud.IsLocked,
		PasswordHash: ud.PasswordHash,
		CreatedAt:    ud.CreatedAt,
		UpdatedAt:    ud.UpdatedAt,
		LastLogin:    ud.LastLogin,
	}, nil
}

func (repo userRepository) unboilSlice(docs []core.Document) ([]user.User, error) {
	users := make([]user.User, 0, len(docs))
	for _, doc := range docs {
		usr, err := repo.unboil(doc)
		if err != nil {
			return nil, err
		}
		users = append(users, usr)
	}
	return users, nil
}

func (repo userRepository) queryUsers(ctx context.Context, filters ...core.Filter) ([]user.User, error) {
	docs, err := repo.store.Query(ctx, core.UsersCollection, filters...)
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return repo.unboilSlice(docs)
}

func (repo userRepository) CheckUniqueness(ctx context.Context, email, employeeID string, excludedUsers ...user.User) error {
	excluded := make(map[string]bool, len(excludedUsers))
	for _, usr := range excludedUsers {
		excluded[usr.ID] = true
	}

	check := func(field, value string, errExists error) error {
		if value == "" {
			return nil
		}
		users, err := repo.queryUsers(ctx, core.Filter{Field: field, Value: value})
		if err != nil {
			return errors.Wrap(err, "checking user uniqueness")
		}
		for _, usr := range users {
			if !excluded[usr.ID] {
				return errExists
			}
		}
		return nil
	}

	if err := check("email", email, user.ErrEmailExists); err != nil {
		return err
	}
	return check("employeeId", employeeID, user.ErrEmployeeIDExists)
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, batch ...*core.Batch) (user.User, error) {
	w, err := repo.boil(usr)
	if err != nil {
		return user.User{}, err
	}
	w.Op = core.OpSet
	if err = repo.write(ctx, "inserting user", w, batch); err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var filters []core.Filter
	var search string
	if filter != nil {
		search = strings.ToLower(filter.Search)
		if filter.Role != "" {
			filters = append(filters, core.Filter{Field: userRoleField, Value: filter.Role})
		}
		if filter.IsActive != nil {
			filters = append(filters, core.Filter{Field: "active", Value: *filter.IsActive})
		}
		if filter.IsLocked != nil {
			filters = append(filters, core.Filter{Field: "isLocked", Value: *filter.IsLocked})
		}
	}

	all, err := repo.queryUsers(ctx, filters...)
	if err != nil {
		return nil, err
	}

	// users with Name, EmployeeID or Email matching the search keyword
	users := all[:0]
	for _, usr := range all {
		if search != "" && !(containsFold(usr.Name, search) || containsFold(usr.EmployeeID, search) || containsFold(usr.Email, search)) {
			continue
		}
		users = append(users, usr)
	}

	orderBy(len(users), func(i, j int) { users[i], users[j] = users[j], users[i] }, ordering,
		func(i, j int, field string) (bool, bool) {
			switch field {
			case "name":
				return strings.ToLower(users[i].Name) < strings.ToLower(users[j].Name), true
			case "email":
				return users[i].Email < users[j].Email, true
			case "employee_id":
				return users[i].EmployeeID < users[j].EmployeeID, true
			case "role":
				return users[i].Role < users[j].Role, true
			case "created_at":
				return users[i].CreatedAt.Before(users[j].CreatedAt), true
			case "updated_at":
				return users[i].UpdatedAt.Before(users[j].UpdatedAt), true
			case "last_login":
				return users[i].LastLogin.Time.Before(users[j].LastLogin.Time), true
			}
			return false, false
		},
		core.DBOrdering{Field: "name", Ascending: true},
	)
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	if filter.ID != "" {
		doc, err := repo.store.Read(ctx, core.UsersCollection, filter.ID)
		if err != nil {
			return user.User{}, trapNotFoundErr(err, user.ErrNotFound, "finding user by ID")
		}
		return repo.unboil(doc)
	}

	var candidates []core.Filter
	switch {
	case filter.UID != "":
		candidates = []core.Filter{{Field: "uid", Value: filter.UID}}
	case filter.Email != "":
		candidates = []core.Filter{{Field: "email", Value: filter.Email}}
	case filter.EmployeeID != "":
		candidates = []core.Filter{{Field: "employeeId", Value: filter.EmployeeID}}
	case filter.EmailOrEmployeeID != "":
		candidates = []core.Filter{
			{Field: "email", Value: strings.ToLower(filter.EmailOrEmployeeID)},
			{Field: "employeeId", Value: filter.EmailOrEmployeeID},
		}
	}

	// the first candidate filter matching a user wins
	for _, f := range candidates {
		users, err := repo.queryUsers(ctx, f)
		if err != nil {
			return user.User{}, errors.Wrap(err, "finding user")
		}
		if len(users) > 0 {
			return users[0], nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, batch ...*core.Batch) (user.User, error) {
	w, err := repo.boil(usr)
	if err != nil {
		return user.User{}, err
	}
	w.Op = core.OpUpdate
	// role and permissions only change through SetUserRole and SetUserPermissions
	delete(w.Fields, userRoleField)
	delete(w.Fields, userPermissionsField)
	if err = repo.write(ctx, "updating user", w, batch); err != nil {
		return user.User{}, trapNotFoundErr(err, user.ErrNotFound, "updating user")
	}
	return usr, nil
}

func (repo userRepository) SetUserRole(ctx context.Context, id, roleName string, batch ...*core.Batch) error {
	w := core.Write{
		Op:         core.OpUpdate,
		Collection: core.UsersCollection,
		ID:         id,
		Fields:     core.Document{userRoleField: roleName},
	}
	if err := repo.write(ctx, "setting user role", w, batch); err != nil {
		return trapNotFoundErr(err, user.ErrNotFound, "setting user role")
	}
	return nil
}

func (repo userRepository) SetUserPermissions(ctx context.Context, id string, value permission.Value, batch ...*core.Batch) error {
	w := core.Write{
		Op:         core.OpUpdate,
		Collection: core.UsersCollection,
		ID:         id,
		Fields:     core.Document{userPermissionsField: value},
	}
	if err := repo.write(ctx, "setting user permissions", w, batch); err != nil {
		return trapNotFoundErr(err, user.ErrNotFound, "setting user permissions")
	}
	return nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids []string) (int, error) {
	writes := make([]core.Write, 0, len(ids))
	for _, id := range ids {
		if _, err := repo.store.Read(ctx, core.UsersCollection, id); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return 0, errors.Wrap(err, "deleting users")
		}
		writes = append(writes, core.Write{Op: core.OpDelete, Collection: core.UsersCollection, ID: id})
	}
	if err := repo.store.WriteBatch(ctx, writes...); err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	return len(writes), nil
}

func (repo userRepository) SubscribeUsers(onChange func(core.Change)) (core.Unsubscribe, error) {
	return repo.store.Subscribe(core.UsersCollection, onChange)
}

// role.MemberRepository

func (repo userRepository) QueryMemberIDs(ctx context.Context, roleName string) ([]string, error) {
	docs, err := repo.store.Query(ctx, core.UsersCollection, core.Filter{Field: userRoleField, Value: roleName})
	if err != nil {
		return nil, errors.Wrap(err, "querying role members")
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if id, ok := doc["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (repo userRepository) SetMemberPermissions(ctx context.Context, userID string, value permission.Value, batch ...*core.Batch) error {
	return repo.SetUserPermissions(ctx, userID, value, batch...)
}

func (repo userRepository) SetMemberRole(ctx context.Context, userID, roleName string, batch ...*core.Batch) error {
	return repo.SetUserRole(ctx, userID, roleName, batch...)
}
