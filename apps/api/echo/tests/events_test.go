package tests

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
)

func Test_eventsApi(t *testing.T) {
	app, env := setup(t)
	fx := createUsers(t, env)

	runHTTPTests(t, app, []httpTest{
		{name: "auth required", path: "/v1/events/users", wantCode: http.StatusUnauthorized},
		{name: "MANAGE_USERS required", path: "/v1/events/users", token: getToken(t, env, fx.teacher), wantCode: http.StatusForbidden},
		{name: "MANAGE_ROLES required", path: "/v1/events/roles", token: getToken(t, env, fx.teacher), wantCode: http.StatusForbidden},
		{name: "unknown collection", path: "/v1/events/lol", token: getToken(t, env, fx.admin), wantCode: http.StatusNotFound},
	})

	ts := httptest.NewServer(app)
	defer ts.Close()

	stream := func(t *testing.T, collection string) (*bufio.Reader, func()) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events/"+collection, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+getToken(t, env, fx.principal))

		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
		return bufio.NewReader(resp.Body), func() {
			cancel()
			_ = resp.Body.Close()
		}
	}
	nextChange := func(t *testing.T, r *bufio.Reader) core.Change {
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			if data := strings.TrimPrefix(line, "data: "); data != line {
				var c core.Change
				require.NoError(t, json.Unmarshal([]byte(data), &c))
				return c
			}
		}
	}

	t.Run("users", func(t *testing.T) {
		r, stop := stream(t, "users")
		defer stop()

		_, err := env.UserSvc.SetPermissions(context.Background(), fx.student.ID, permission.Value(permission.ManageClasses))
		require.NoError(t, err)
		assert.Equal(t, core.Change{Collection: core.UsersCollection, ID: fx.student.ID}, nextChange(t, r))

		require.NoError(t, env.UserSvc.Delete(context.Background(), fx.naughty.ID))
		assert.Equal(t, core.Change{Collection: core.UsersCollection, ID: fx.naughty.ID, Deleted: true}, nextChange(t, r))
	})

	t.Run("roles", func(t *testing.T) {
		r, stop := stream(t, "Roles")
		defer stop()

		_, err := env.RoleSvc.Resync(context.Background(), "role-Teacher")
		require.NoError(t, err)
		env.CreateRole(t, "Clerk", permission.Value(permission.ManageStudents))
		assert.Equal(t, core.Change{Collection: core.RolesCollection, ID: "role-Clerk"}, nextChange(t, r))
	})
}
