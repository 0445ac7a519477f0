package tests

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core/permission"
	"github.com/trezcool/shule/core/user"
	testutil "github.com/trezcool/shule/tests"
)

type fixtures struct {
	admin, principal, teacher, student, naughty user.User
}

func createUsers(t *testing.T, env *testutil.Env) fixtures {
	return fixtures{
		admin:     env.CreateUser(t, "Admin", "admin@test.cd", "adm01", pwd, "Admin", permission.UnrestrictedValue, true),
		principal: env.CreateUser(t, "Principal", "principal@test.cd", "prc01", pwd, "Principal", permission.Value(permission.ManageUsers|permission.ManageClasses|permission.ManageGrades|permission.ManageRoles), true),
		teacher:   env.CreateUser(t, "Teacher", "teacher@test.cd", "tch01", pwd, "Teacher", permission.Value(permission.ManageGrades|permission.ManageClasses), true),
		student:   env.CreateUser(t, "Student", "student@test.cd", "", pwd, "Student", permission.Value(permission.ManageGrades), true),
		naughty:   env.CreateUser(t, "Naughty", "naughty@test.cd", "", pwd, "Student", permission.Value(permission.ManageGrades), false), // 😂
	}
}

func Test_userApi_login(t *testing.T) {
	app, env := setup(t)
	fx := createUsers(t, env)

	body := func(login, password string) []byte {
		return marshalObj(t, echoapi.LoginRequest{Login: login, Password: password})
	}
	authFailed := marshalObj(t, httpErr{Error: "authentication failed"})

	tests := []httpTest{
		{name: "login required", body: body("", pwd), wantCode: http.StatusBadRequest},
		{name: "unknown user", body: body("lol@test.cd", pwd), wantCode: http.StatusBadRequest, wantData: authFailed},
		{name: "wrong password", body: body(fx.teacher.Email, "lol"), wantCode: http.StatusBadRequest, wantData: authFailed},
		{
			name: "inactive user", body: body(fx.naughty.Email, pwd), wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "account deactivated or locked"}),
		},
		{name: "by email", body: body(" TEACHER@test.cd ", pwd)},
		{name: "by employee ID", body: body(fx.teacher.EmployeeID, pwd)},
	}
	for _, tt := range tests {
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				var resp echoapi.LoginResponse
				unmarshal(t, rec, &resp)
				assert.NotEmpty(t, resp.Token)
				assert.True(t, env.GetUser(t, fx.teacher.ID).LastLogin.Valid)
			}
		})
	}
}

func Test_userApi_query(t *testing.T) {
	app, env := setup(t)
	fx := createUsers(t, env)

	path := func(search, ordering, role string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		if role != "" {
			v.Add("role", role)
		}
		return "/v1/users?" + v.Encode()
	}
	adminToken := getToken(t, env, fx.admin)

	runHTTPTests(t, app, []httpTest{
		{name: "auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "MANAGE_USERS required", path: "/v1/users", token: getToken(t, env, fx.teacher), wantCode: http.StatusForbidden, wantData: marshalObj(t, errForbidden)},
		{
			name: "inactive user refused", path: "/v1/users", token: getToken(t, env, fx.naughty), wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "account deactivated or locked"}),
		},
		{
			name: "get all (unrestricted)", path: "/v1/users", token: adminToken,
			wantData: marshalList(t, fx.admin, fx.naughty, fx.principal, fx.student, fx.teacher),
		},
		{
			name: "get all (MANAGE_USERS)", path: "/v1/users", token: getToken(t, env, fx.principal),
			wantData: marshalList(t, fx.admin, fx.naughty, fx.principal, fx.student, fx.teacher),
		},
		{name: "search (unknown)", path: path("lol", "", ""), token: adminToken, wantData: marshalList(t)},
		{name: "search", path: path("TEACH", "", ""), token: adminToken, wantData: marshalList(t, fx.teacher)},
		{name: "role", path: path("", "", "Student"), token: adminToken, wantData: marshalList(t, fx.naughty, fx.student)},
		{
			name: "ordering", path: path("", "-email", ""), token: adminToken,
			wantData: marshalList(t, fx.teacher, fx.student, fx.principal, fx.naughty, fx.admin),
		},
	})
}

func Test_userApi_storedPermissionsApply(t *testing.T) {
	app, env := setup(t)
	fx := createUsers(t, env)
	token := getToken(t, env, fx.principal)

	req, rec := newAuthRequest(http.MethodGet, "/v1/users", token)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// the token still claims MANAGE_USERS, the store no longer does
	_, err := env.UserSvc.SetPermissions(req.Context(), fx.principal.ID, permission.Value(permission.ManageRoles))
	require.NoError(t, err)

	req, rec = newAuthRequest(http.MethodGet, "/v1/users", token)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// deleted users are logged out
	require.NoError(t, env.UserSvc.Delete(req.Context(), fx.principal.ID))
	req, rec = newAuthRequest(http.MethodGet, "/v1/me", token)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_userApi_create(t *testing.T) {
	app, env := setup(t)
	fx := createUsers(t, env)

	body := func(email, role string) []byte {
		return marshalObj(t, user.NewUser{
			Name:            "New User",
			Email:           email,
			Role:            role,
			Password:        pwd,
			PasswordConfirm: pwd,
		})
	}
	cannotGrant := marshalObj(t, map[string]string{"role": "cannot grant permissions you do not hold"})

	tests := []httpTest{
		{name: "MANAGE_USERS required", body: body("new@test.cd", "Student"), token: getToken(t, env, fx.teacher), wantCode: http.StatusForbidden},
		{name: "role required", body: body("new@test.cd", ""), token: getToken(t, env, fx.admin), wantCode: http.StatusBadRequest},
		{name: "unknown role", body: body("new@test.cd", "lol"), token: getToken(t, env, fx.admin), wantCode: http.StatusBadRequest},
		{name: "duplicate email", body: body(fx.student.Email, "Student"), token: getToken(t, env, fx.admin), wantCode: http.StatusBadRequest},
		{
			name: "cannot assign a more powerful role", body: body("new@test.cd", "Admin"), token: getToken(t, env, fx.principal),
			wantCode: http.StatusBadRequest, wantData: cannotGrant,
		},
		{name: "assign a covered role", body: body("new1@test.cd", "Teacher"), token: getToken(t, env, fx.principal), wantCode: http.StatusCreated},
		{name: "unrestricted assigns anything", body: body("new2@test.cd", "Admin"), token: getToken(t, env, fx.admin), wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/users", tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusCreated {
				var usr user.User
				unmarshal(t, rec, &usr)
				r, err := env.RoleSvc.GetByName(req.Context(), usr.Role)
				require.NoError(t, err)
				assert.Equal(t, r.Permission, usr.Permissions)
				assert.Equal(t, r.Permission, env.GetUser(t, usr.ID).Permissions)
			}
		})
	}
}

func Test_userApi_update(t *testing.T) {
	app, env := setup(t)
	fx := createUsers(t, env)

	strPtr := func(s string) *string { return &s }
	boolPtr := func(b bool) *bool { return &b }
	path := func(usr user.User) string { return "/v1/users/" + usr.ID }

	tests := []struct {
		name     string
		caller   user.User
		target   user.User
		data     user.UpdateUser
		wantCode int
		check    func(t *testing.T, usr user.User)
	}{
		{name: "others are hidden", caller: fx.teacher, target: fx.student, data: user.UpdateUser{Name: "Lol"}, wantCode: http.StatusNotFound},
		{name: "own role", caller: fx.teacher, target: fx.teacher, data: user.UpdateUser{Role: strPtr("Admin")}, wantCode: http.StatusForbidden},
		{name: "own status", caller: fx.admin, target: fx.admin, data: user.UpdateUser{IsActive: boolPtr(false)}, wantCode: http.StatusForbidden},
		{name: "unknown role", caller: fx.admin, target: fx.student, data: user.UpdateUser{Role: strPtr("lol")}, wantCode: http.StatusBadRequest},
		{
			name: "role granting more than the caller", caller: fx.principal, target: fx.student,
			data: user.UpdateUser{Role: strPtr("Admin")}, wantCode: http.StatusBadRequest,
		},
		{
			name: "own name", caller: fx.teacher, target: fx.teacher, data: user.UpdateUser{Name: "Mr Teacher"}, wantCode: http.StatusOK,
			check: func(t *testing.T, usr user.User) {
				assert.Equal(t, "Mr Teacher", usr.Name)
				assert.Equal(t, fx.teacher.Role, usr.Role)
				assert.Equal(t, fx.teacher.Permissions, usr.Permissions)
			},
		},
		{
			name: "role change copies the permission", caller: fx.principal, target: fx.student,
			data: user.UpdateUser{Role: strPtr("Teacher")}, wantCode: http.StatusOK,
			check: func(t *testing.T, usr user.User) {
				assert.Equal(t, "Teacher", usr.Role)
				assert.Equal(t, permission.Value(permission.ManageGrades|permission.ManageClasses), usr.Permissions)
			},
		},
		{
			name: "lock someone else", caller: fx.admin, target: fx.principal, data: user.UpdateUser{IsLocked: boolPtr(true)}, wantCode: http.StatusOK,
			check: func(t *testing.T, usr user.User) {
				assert.True(t, usr.IsLocked)
				assert.False(t, usr.CanLogin())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPut, path(tt.target), getToken(t, env, tt.caller), marshalObj(t, tt.data))
			app.ServeHTTP(rec, req)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.check != nil {
				var usr user.User
				unmarshal(t, rec, &usr)
				tt.check(t, usr)
				tt.check(t, env.GetUser(t, tt.target.ID))
			}
		})
	}
}

func Test_userApi_setPermissions(t *testing.T) {
	app, env := setup(t)
	fx := createUsers(t, env)

	path := "/v1/users/" + fx.teacher.ID + "/permissions"
	body := func(v permission.Value) []byte { return marshalObj(t, user.SetUserPermissions{Permissions: v}) }

	runHTTPTests(t, app, []httpTest{
		{name: "MANAGE_USERS required", method: http.MethodPut, path: path, body: body(1), token: getToken(t, env, fx.student), wantCode: http.StatusNotFound},
		{
			name: "cannot grant unheld bits", method: http.MethodPut, path: path, body: body(permission.Value(permission.PortalSettings)),
			token: getToken(t, env, fx.principal), wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"permissions": "cannot grant permissions you do not hold"}),
		},
		{
			name: "cannot grant unrestricted", method: http.MethodPut, path: path, body: body(permission.UnrestrictedValue),
			token: getToken(t, env, fx.principal), wantCode: http.StatusBadRequest,
		},
		{name: "undefined bits", method: http.MethodPut, path: path, body: body(128), token: getToken(t, env, fx.admin), wantCode: http.StatusBadRequest},
		{name: "granted", method: http.MethodPut, path: path, body: body(permission.Value(permission.ManageUsers)), token: getToken(t, env, fx.principal)},
	})

	usr := env.GetUser(t, fx.teacher.ID)
	assert.Equal(t, permission.Value(permission.ManageUsers), usr.Permissions)
	assert.Equal(t, "Teacher", usr.Role)
}

func Test_userApi_destroy(t *testing.T) {
	app, env := setup(t)
	fx := createUsers(t, env)
	adminToken := getToken(t, env, fx.admin)

	runHTTPTests(t, app, []httpTest{
		{name: "MANAGE_USERS required", method: http.MethodDelete, path: "/v1/users/" + fx.teacher.ID, token: getToken(t, env, fx.teacher), wantCode: http.StatusForbidden},
		{name: "not oneself", method: http.MethodDelete, path: "/v1/users/" + fx.admin.ID, token: adminToken, wantCode: http.StatusForbidden},
		{name: "unknown", method: http.MethodDelete, path: "/v1/users/lol", token: adminToken, wantCode: http.StatusNotFound, wantData: marshalObj(t, errNotFound)},
		{name: "deleted", method: http.MethodDelete, path: "/v1/users/" + fx.teacher.ID, token: adminToken, wantCode: http.StatusNoContent},
		{name: "gone", path: "/v1/users/" + fx.teacher.ID, token: adminToken, wantCode: http.StatusNotFound},
		{
			name: "multiple: not oneself", method: http.MethodDelete, path: "/v1/users?id=" + fx.student.ID + "&id=" + fx.admin.ID,
			token: adminToken, wantCode: http.StatusForbidden,
		},
		{
			name: "multiple", method: http.MethodDelete, path: "/v1/users?id=" + fx.student.ID + "&id=" + fx.naughty.ID,
			token: adminToken, wantCode: http.StatusNoContent,
		},
		{name: "multiple: gone", path: "/v1/users", token: adminToken, wantData: marshalList(t, fx.admin, fx.principal)},
	})
}

func Test_userApi_orphans(t *testing.T) {
	app, env := setup(t)
	fx := createUsers(t, env)
	ghost := env.CreateUser(t, "Ghost", "ghost@test.cd", "", pwd, "Ghost", permission.Value(permission.ManageGrades), true)

	runHTTPTests(t, app, []httpTest{
		{name: "MANAGE_ROLES required", path: "/v1/users/orphans", token: getToken(t, env, fx.teacher), wantCode: http.StatusForbidden},
		{name: "found", path: "/v1/users/orphans", token: getToken(t, env, fx.principal), wantData: marshalList(t, ghost)},
	})
}

func Test_userApi_refreshToken(t *testing.T) {
	app, env := setup(t)
	fx := createUsers(t, env)

	now := time.Now()
	unrefreshableClaims := echoapi.GetUserClaims(fx.student, env.Conf)
	unrefreshableClaims.OrigIssuedAt = now.Add(-2 * env.Conf.Server.JWTRefreshExpirationDelta).Unix() // older than threshold
	unrefreshableToken, err := echoapi.GenerateToken(unrefreshableClaims, env.Conf)
	require.NoError(t, err)

	expiredClaims := echoapi.GetUserClaims(fx.student, env.Conf)
	expiredClaims.StandardClaims = jwt.StandardClaims{Subject: fx.student.ID, ExpiresAt: now.Add(-time.Minute).Unix()}
	expiredToken, err := echoapi.GenerateToken(expiredClaims, env.Conf)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "expired token", token: expiredToken, wantCode: http.StatusUnauthorized},
		{name: "inactive user not allowed", token: getToken(t, env, fx.naughty), wantCode: http.StatusForbidden},
		{name: "refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "refresh has expired"})},
		{name: "token refreshed", token: getToken(t, env, fx.student), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/users/token-refresh", tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				var resp echoapi.LoginResponse
				unmarshal(t, rec, &resp)
				assert.NotEmpty(t, resp.Token)
			}
		})
	}
}

func Test_userApi_passwordReset(t *testing.T) {
	app, env := setup(t)
	fx := createUsers(t, env)

	body := func(email string) []byte { return marshalObj(t, echoapi.PasswordResetRequest{Email: email}) }

	tests := []httpTest{
		{name: "invalid email", body: body("lol"), wantCode: http.StatusBadRequest},
		{name: "unknown email", body: body("lol@test.cd")},
		{name: "inactive user", body: body(fx.naughty.Email)},
		{name: "active user", body: body(fx.teacher.Email)},
	}
	for _, tt := range tests {
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/password-reset", tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("confirm with a bad token", func(t *testing.T) {
		data := marshalObj(t, user.ResetUserPassword{Token: "lol", UID: "lol", Password: pwd, PasswordConfirm: pwd})
		req, rec := newRequest(http.MethodPost, "/v1/users/password-reset-confirm", data)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
