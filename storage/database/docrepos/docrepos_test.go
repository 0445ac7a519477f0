package docrepos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/role"
	"github.com/trezcool/shule/core/user"
	inmemdb "github.com/trezcool/shule/storage/database/inmem"
)

// time.Time cannot be encoded outside of years [0, 9999]
var unencodable = time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRoleRepository_encodingErrors(t *testing.T) {
	ctx := context.Background()
	store := inmemdb.Open()
	repo := NewRoleRepository(store)

	now := time.Now().UTC()
	r, err := repo.CreateRole(ctx, role.Role{ID: "r1", Name: "Teacher", Permission: 4, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	_, err = repo.CreateRole(ctx, role.Role{ID: "r2", Name: "Bursar", Permission: 1, CreatedAt: unencodable})
	assert.Error(t, err)
	_, err = store.Read(ctx, core.RolesCollection, "r2")
	assert.Equal(t, core.ErrNotFound, err)

	r.Name, r.UpdatedAt = "Instructor", unencodable
	_, err = repo.UpdateRole(ctx, r)
	assert.Error(t, err)
	got, err := repo.GetRole(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Teacher", got.Name)
}

func TestUserRepository_encodingErrors(t *testing.T) {
	ctx := context.Background()
	store := inmemdb.Open()
	repo := NewUserRepository(store)

	now := time.Now().UTC()
	usr, err := repo.CreateUser(ctx, user.User{ID: "u1", Name: "John", Email: "john@test.cd", Role: "Teacher", Permissions: 4, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, user.User{ID: "u2", Name: "Jane", Email: "jane@test.cd", CreatedAt: unencodable})
	assert.Error(t, err)
	_, err = store.Read(ctx, core.UsersCollection, "u2")
	assert.Equal(t, core.ErrNotFound, err)

	usr.Name, usr.UpdatedAt = "Johnny", unencodable
	_, err = repo.UpdateUser(ctx, usr)
	assert.Error(t, err)
	doc, err := store.Read(ctx, core.UsersCollection, "u1")
	require.NoError(t, err)
	assert.Equal(t, "John", doc["name"])
}
