package user_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	testutil "github.com/trezcool/shule/tests"
)

const strongPwd = "Str0ng!Pass#"

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// validationTags returns the failed tags of a validator error, keyed by field.
func validationTags(t *testing.T, err error) map[string]string {
	t.Helper()
	verrs, ok := err.(validator.ValidationErrors)
	require.True(t, ok, "expected validator errors, got %v", err)
	tags := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		tags[fe.Field()] = fe.Tag()
	}
	return tags
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	env.CreateRole(t, "Teacher", 4)
	env.CreateUser(t, "Taken", "taken@test.cd", "EMP1", "", "Teacher", 4, true)

	valid := func() user.NewUser {
		return user.NewUser{
			Name:            " John Doe ",
			EmployeeID:      "EMP2",
			Email:           " John@Test.CD ",
			Role:            " Teacher ",
			Password:        strongPwd,
			PasswordConfirm: strongPwd,
		}
	}

	tests := []struct {
		name    string
		mutate  func(nu *user.NewUser)
		wantTag map[string]string
		wantErr error
	}{
		{name: "missing name", mutate: func(nu *user.NewUser) { nu.Name = "  " }, wantTag: map[string]string{"name": "required"}},
		{name: "bad email", mutate: func(nu *user.NewUser) { nu.Email = "lol" }, wantTag: map[string]string{"email": "email"}},
		{name: "missing role", mutate: func(nu *user.NewUser) { nu.Role = "" }, wantTag: map[string]string{"role": "required"}},
		{name: "bad employee id", mutate: func(nu *user.NewUser) { nu.EmployeeID = "EMP-2" }, wantTag: map[string]string{"employee_id": "alphanum_"}},
		{
			name: "passwords mismatch",
			mutate: func(nu *user.NewUser) {
				nu.PasswordConfirm = "Other0ne!"
			},
			wantTag: map[string]string{"password_confirm": "eqfield"},
		},
		{name: "email taken", mutate: func(nu *user.NewUser) { nu.Email = "TAKEN@test.cd" }, wantErr: user.ErrEmailExists},
		{name: "employee id taken", mutate: func(nu *user.NewUser) { nu.EmployeeID = "EMP1" }, wantErr: user.ErrEmployeeIDExists},
		{name: "unknown role", mutate: func(nu *user.NewUser) { nu.Role = "Bursar" }, wantErr: user.ErrUnknownRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nu := valid()
			tt.mutate(&nu)
			_, err := env.UserSvc.Create(ctx, nu)
			require.Error(t, err)
			assert.True(t, core.IsValidationError(err))
			if tt.wantTag != nil {
				assert.Equal(t, tt.wantTag, validationTags(t, err))
			}
			if tt.wantErr != nil {
				verr, ok := err.(*core.ValidationError)
				require.True(t, ok)
				assert.Equal(t, tt.wantErr, verr.Err)
			}
		})
	}

	t.Run("copies the role permission", func(t *testing.T) {
		usr, err := env.UserSvc.Create(ctx, valid())
		require.NoError(t, err)
		assert.Equal(t, "John Doe", usr.Name)
		assert.Equal(t, "john@test.cd", usr.Email)
		assert.Equal(t, "Teacher", usr.Role)
		assert.Equal(t, permission.Value(4), usr.Permissions)
		assert.True(t, usr.IsActive)
		assert.NoError(t, usr.CheckPassword(strongPwd))

		got := env.GetUser(t, usr.ID)
		assert.Equal(t, "Teacher", got.Role)
		assert.Equal(t, permission.Value(4), got.Permissions)
		assert.True(t, got.HasPermission(permission.ManageGrades))
		assert.False(t, got.HasPermission(permission.ManageClasses))
	})
}

func TestPasswordPolicy(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	env.CreateRole(t, "Teacher", 4)

	tests := []struct {
		pwd     string
		wantTag string
	}{
		{pwd: "Sh0rt!", wantTag: "pwdminlen"},
		{pwd: "Has Sp4ce!", wantTag: "pwdnospace"},
		{pwd: "1234567890", wantTag: "pwdnotallnum"},
		{pwd: "alllowercase1!", wantTag: "pwdcplx"},
		{pwd: "NoDigits!!", wantTag: "pwdcplx"},
		{pwd: "Johndoe1!", wantTag: "pwdtoosim"},
		{pwd: "P@ssw0rd", wantTag: "pwdnocommon"},
		{pwd: strongPwd},
	}
	for i, tt := range tests {
		t.Run(tt.pwd, func(t *testing.T) {
			_, err := env.UserSvc.Create(ctx, user.NewUser{
				Name:            "John Doe",
				Email:           fmt.Sprintf("user%d@test.cd", i),
				Role:            "Teacher",
				Password:        tt.pwd,
				PasswordConfirm: tt.pwd,
			})
			if tt.wantTag == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantTag, validationTags(t, err)["password"])
		})
	}
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	env.CreateRole(t, "Teacher", 4)
	env.CreateRole(t, "Registrar", 9)
	usr := env.CreateUser(t, "John Doe", "john@test.cd", "EMP1", strongPwd, "Teacher", 4, true)
	env.CreateUser(t, "Jane Doe", "jane@test.cd", "EMP2", "", "Teacher", 4, true)

	t.Run("profile only keeps role and permissions", func(t *testing.T) {
		// a stale permission must survive a profile update
		_, err := env.UserSvc.SetPermissions(ctx, usr.ID, 6)
		require.NoError(t, err)

		got, err := env.UserSvc.Update(ctx, usr.ID, user.UpdateUser{Name: " Johnny ", IsLocked: boolPtr(true)})
		require.NoError(t, err)
		assert.Equal(t, "Johnny", got.Name)
		assert.True(t, got.IsLocked)

		stored := env.GetUser(t, usr.ID)
		assert.Equal(t, "Johnny", stored.Name)
		assert.Equal(t, "john@test.cd", stored.Email)
		assert.Equal(t, "EMP1", stored.EmployeeID)
		assert.True(t, stored.IsLocked)
		assert.False(t, stored.CanLogin())
		assert.Equal(t, "Teacher", stored.Role)
		assert.Equal(t, permission.Value(6), stored.Permissions)
		assert.NoError(t, stored.CheckPassword(strongPwd))
	})

	t.Run("role change copies the new permission", func(t *testing.T) {
		got, err := env.UserSvc.Update(ctx, usr.ID, user.UpdateUser{Role: strPtr("Registrar"), IsLocked: boolPtr(false)})
		require.NoError(t, err)
		assert.Equal(t, "Registrar", got.Role)
		assert.Equal(t, permission.Value(9), got.Permissions)

		stored := env.GetUser(t, usr.ID)
		assert.Equal(t, "Registrar", stored.Role)
		assert.Equal(t, permission.Value(9), stored.Permissions)
		assert.True(t, stored.CanLogin())
	})

	t.Run("errors", func(t *testing.T) {
		for name, uu := range map[string]user.UpdateUser{
			"empty role":        {Role: strPtr(" ")},
			"unknown role":      {Role: strPtr("Bursar")},
			"email taken":       {Email: "JANE@test.cd"},
			"employee id taken": {EmployeeID: "EMP2"},
			"weak password":     {Password: "lol", PasswordConfirm: "lol"},
			"missing confirm":   {Password: strongPwd},
		} {
			t.Run(name, func(t *testing.T) {
				_, err := env.UserSvc.Update(ctx, usr.ID, uu)
				assert.True(t, core.IsValidationError(err), "got %v", err)
			})
		}
		stored := env.GetUser(t, usr.ID)
		assert.Equal(t, "Registrar", stored.Role)
		assert.Equal(t, "john@test.cd", stored.Email)

		_, err := env.UserSvc.Update(ctx, "lol", user.UpdateUser{Name: "X"})
		assert.Equal(t, user.ErrNotFound, err)
	})
}

func TestService_SetPermissions(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	env.CreateRole(t, "Teacher", 4)
	usr := env.CreateUser(t, "John Doe", "john@test.cd", "", "", "Teacher", 4, true)

	for _, value := range []permission.Value{-1, 128, 1 << 20} {
		_, err := env.UserSvc.SetPermissions(ctx, usr.ID, value)
		assert.True(t, core.IsValidationError(err), "%d: got %v", value, err)
	}
	assert.Equal(t, permission.Value(4), env.GetUser(t, usr.ID).Permissions)

	got, err := env.UserSvc.SetPermissions(ctx, usr.ID, permission.UnrestrictedValue)
	require.NoError(t, err)
	assert.True(t, got.Grant().IsUnrestricted())
	assert.Equal(t, permission.UnrestrictedValue, env.UserSvc.EffectivePermission(env.GetUser(t, usr.ID)))
	assert.Equal(t, "Teacher", env.GetUser(t, usr.ID).Role)

	_, err = env.UserSvc.SetPermissions(ctx, "lol", 4)
	assert.Equal(t, user.ErrNotFound, err)
}

func TestService_QueryAndGet(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	now := time.Now()
	u1 := env.CreateUser(t, "Alice", "alice@test.cd", "T001", "", "Teacher", 4, true, now.Add(-time.Hour))
	u2 := env.CreateUser(t, "Bob", "bob@test.cd", "B001", "", "Bursar", 1, false, now)
	u3 := env.CreateUser(t, "Carol", "carol@test.cd", "", "", "Teacher", 4, true, now.Add(-2*time.Hour))

	ids := func(users []user.User) []string {
		out := make([]string, 0, len(users))
		for _, usr := range users {
			out = append(out, usr.ID)
		}
		return out
	}

	tests := []struct {
		name     string
		filter   *user.QueryFilter
		ordering []core.DBOrdering
		want     []string
	}{
		{name: "all", want: []string{u1.ID, u2.ID, u3.ID}},
		{name: "role", filter: &user.QueryFilter{Role: "Teacher"}, want: []string{u1.ID, u3.ID}},
		{name: "inactive", filter: &user.QueryFilter{IsActive: boolPtr(false)}, want: []string{u2.ID}},
		{name: "search employee id", filter: &user.QueryFilter{Search: "b00"}, want: []string{u2.ID}},
		{name: "search email", filter: &user.QueryFilter{Search: "CAROL@"}, want: []string{u3.ID}},
		{
			name:     "created desc",
			ordering: []core.DBOrdering{{Field: "created_at", Ascending: false}},
			want:     []string{u2.ID, u1.ID, u3.ID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := env.UserSvc.Query(ctx, tt.filter, tt.ordering)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(users))
		})
	}

	got, err := env.UserSvc.GetByEmail(ctx, " ALICE@test.cd ")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, got.ID)

	got, err = env.UserSvc.GetByEmailOrEmployeeID(ctx, "B001")
	require.NoError(t, err)
	assert.Equal(t, u2.ID, got.ID)

	got, err = env.UserSvc.GetByEmailOrEmployeeID(ctx, "Carol@Test.cd")
	require.NoError(t, err)
	assert.Equal(t, u3.ID, got.ID)

	_, err = env.UserSvc.GetByEmailOrEmployeeID(ctx, "nobody")
	assert.Equal(t, user.ErrNotFound, err)

	require.NoError(t, env.UserSvc.Delete(ctx, u2.ID, "lol"))
	_, err = env.UserSvc.GetByID(ctx, u2.ID)
	assert.Equal(t, user.ErrNotFound, err)
}

func TestService_Orphans(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	env.CreateRole(t, "Teacher", 4)
	env.CreateUser(t, "Alice", "alice@test.cd", "", "", "Teacher", 4, true)
	orphan := env.CreateUser(t, "Bob", "bob@test.cd", "", "", "Ghost", 4, true)
	env.CreateUser(t, "Carol", "carol@test.cd", "", "", "", 0, true)

	orphans, err := env.UserSvc.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, orphan.ID, orphans[0].ID)
}

func TestService_PasswordReset(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	usr := env.CreateUser(t, "John Doe", "john@test.cd", "", strongPwd, "Teacher", 4, true)
	env.CreateUser(t, "Inactive", "inactive@test.cd", "", strongPwd, "Teacher", 4, false)

	assert.Equal(t, user.ErrNotFound, env.UserSvc.RequestPasswordReset(ctx, "nobody@test.cd"))
	assert.Equal(t, user.ErrNotFound, env.UserSvc.RequestPasswordReset(ctx, "inactive@test.cd"))
	_, sent := emailsvc.LastSentMessage("inactive@test.cd")
	assert.False(t, sent)

	require.NoError(t, env.UserSvc.RequestPasswordReset(ctx, " JOHN@test.cd "))
	msg, sent := emailsvc.LastSentMessage("john@test.cd")
	require.True(t, sent)
	assert.Equal(t, "password_reset", msg.TemplateName)
	assert.True(t, strings.Contains(msg.TextContent, env.Conf.FrontendBaseURL+"/password-reset/"))

	data, ok := msg.TemplateData.(map[string]string)
	require.True(t, ok)
	parts := strings.Split(data["Path"], "/") // /password-reset/<uid>/<token>
	require.Len(t, parts, 4)
	uid, token := parts[2], parts[3]
	assert.Equal(t, user.EncodeUID(usr), uid)

	tokens, ok := env.UserSvc.(interface{ MakePasswordResetToken(user.User) string })
	require.True(t, ok)
	assert.Equal(t, tokens.MakePasswordResetToken(usr), token)

	newPwd := "N3w!Secret"
	for name, data := range map[string]user.ResetUserPassword{
		"bad uid":   {UID: "lol", Token: token, Password: newPwd, PasswordConfirm: newPwd},
		"bad token": {UID: uid, Token: "lol-lol", Password: newPwd, PasswordConfirm: newPwd},
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, core.IsValidationError(env.UserSvc.ResetPassword(ctx, data)))
		})
	}

	reset := user.ResetUserPassword{UID: uid, Token: token, Password: newPwd, PasswordConfirm: newPwd}
	require.NoError(t, env.UserSvc.ResetPassword(ctx, reset))
	stored := env.GetUser(t, usr.ID)
	assert.NoError(t, stored.CheckPassword(newPwd))
	assert.Equal(t, "Teacher", stored.Role)
	assert.Equal(t, permission.Value(4), stored.Permissions)

	// the token dies with the old password
	assert.True(t, core.IsValidationError(env.UserSvc.ResetPassword(ctx, reset)))
}
