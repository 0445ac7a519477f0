package docrepos

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
	"github.com/trezcool/shule/core/role"
)

type roleDocument struct {
	Name       string           `json:"name"`
	Permission permission.Value `json:"permission"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

type roleRepository struct {
	docRepository
}

var _ role.Repository = (*roleRepository)(nil) // interface compliance check

func NewRoleRepository(store core.Store) *roleRepository {
	return &roleRepository{docRepository{store: store}}
}

func (repo roleRepository) boil(r role.Role) (core.Write, error) {
	doc, err := core.EncodeDocument(roleDocument{
		Name:       r.Name,
		Permission: r.Permission,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	})
	if err != nil {
		return core.Write{}, errors.Wrap(err, "boiling role")
	}
	return core.Write{Collection: core.RolesCollection, ID: r.ID, Fields: doc}, nil
}

func (repo roleRepository) unboil(doc core.Document) (role.Role, error) {
	var rd roleDocument
	if err := core.DecodeDocument(doc, &rd); err != nil {
		return role.Role{}, errors.Wrap(err, "decoding role")
	}
	id, _ := doc["id"].(string)
	return role.Role{
		ID:         id,
		Name:       rd.Name,
		Permission: rd.Permission,
		CreatedAt:  rd.CreatedAt,
		UpdatedAt:  rd.UpdatedAt,
	}, nil
}

func (repo roleRepository) unboilSlice(docs []core.Document) ([]role.Role, error) {
	roles := make([]role.Role, 0, len(docs))
	for _, doc := range docs {
		r, err := repo.unboil(doc)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}

func (repo roleRepository) GetRole(ctx context.Context, id string) (role.Role, error) {
	if id == "" {
		return role.Role{}, role.ErrNotFound
	}
	doc, err := repo.store.Read(ctx, core.RolesCollection, id)
	if err != nil {
		return role.Role{}, trapNotFoundErr(err, role.ErrNotFound, "reading role")
	}
	return repo.unboil(doc)
}

func (repo roleRepository) GetRoleByName(ctx context.Context, name string) (role.Role, error) {
	docs, err := repo.store.Query(ctx, core.RolesCollection, core.Filter{Field: "name", Value: name})
	if err != nil {
		return role.Role{}, errors.Wrap(err, "finding role by name")
	}
	if len(docs) == 0 {
		return role.Role{}, role.ErrNotFound
	}
	return repo.unboil(docs[0])
}

func (repo roleRepository) QueryRoles(ctx context.Context, filter *role.QueryFilter, ordering []core.DBOrdering) ([]role.Role, error) {
	docs, err := repo.store.Query(ctx, core.RolesCollection)
	if err != nil {
		return nil, errors.Wrap(err, "querying roles")
	}
	all, err := repo.unboilSlice(docs)
	if err != nil {
		return nil, err
	}

	roles := all[:0]
	for _, r := range all {
		if filter != nil && filter.Search != "" && !containsFold(r.Name, filter.Search) {
			continue
		}
		roles = append(roles, r)
	}

	orderBy(len(roles), func(i, j int) { roles[i], roles[j] = roles[j], roles[i] }, ordering,
		func(i, j int, field string) (bool, bool) {
			switch field {
			case "name":
				return strings.ToLower(roles[i].Name) < strings.ToLower(roles[j].Name), true
			case "permission":
				return roles[i].Permission < roles[j].Permission, true
			case "created_at":
				return roles[i].CreatedAt.Before(roles[j].CreatedAt), true
			case "updated_at":
				return roles[i].UpdatedAt.Before(roles[j].UpdatedAt), true
			}
			return false, false
		},
		core.DBOrdering{Field: "name", Ascending: true},
	)
	return roles, nil
}

func (repo roleRepository) CreateRole(ctx context.Context, r role.Role, batch ...*core.Batch) (role.Role, error) {
	w, err := repo.boil(r)
	if err != nil {
		return role.Role{}, err
	}
	w.Op = core.OpSet
	if err = repo.write(ctx, "inserting role", w, batch); err != nil {
		return role.Role{}, err
	}
	return r, nil
}

func (repo roleRepository) UpdateRole(ctx context.Context, r role.Role, batch ...*core.Batch) (role.Role, error) {
	w, err := repo.boil(r)
	if err != nil {
		return role.Role{}, err
	}
	w.Op = core.OpUpdate
	if err = repo.write(ctx, "updating role", w, batch); err != nil {
		return role.Role{}, trapNotFoundErr(err, role.ErrNotFound, "updating role")
	}
	return r, nil
}

func (repo roleRepository) DeleteRole(ctx context.Context, id string, batch ...*core.Batch) error {
	w := core.Write{Op: core.OpDelete, Collection: core.RolesCollection, ID: id}
	return repo.write(ctx, "deleting role", w, batch)
}

func (repo roleRepository) SubscribeRoles(onChange func(core.Change)) (core.Unsubscribe, error) {
	return repo.store.Subscribe(core.RolesCollection, onChange)
}
