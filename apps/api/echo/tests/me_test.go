package tests

import (
	"net/http"
	"testing"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core/permission"
)

func Test_meApi(t *testing.T) {
	app, env := setup(t)
	fx := createUsers(t, env)

	runHTTPTests(t, app, []httpTest{
		{name: "auth required", path: "/v1/me", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "me", path: "/v1/me", token: getToken(t, env, fx.student), wantData: marshalObj(t, env.GetUser(t, fx.student.ID))},
		{
			name: "my permissions", path: "/v1/me/permissions", token: getToken(t, env, fx.teacher),
			wantData: marshalObj(t, echoapi.PermissionsResponse{
				Value: fx.teacher.Permissions,
				Names: []string{permission.ManageClassesName, permission.ManageGradesName},
			}),
		},
		{
			name: "my permissions (unrestricted)", path: "/v1/me/permissions", token: getToken(t, env, fx.admin),
			wantData: marshalObj(t, echoapi.PermissionsResponse{
				Value:        permission.UnrestrictedValue,
				Unrestricted: true,
				Names:        env.Perms.Names(permission.AllPermissionsAggregate()),
			}),
		},
		{name: "registry: auth required", path: "/v1/permissions", wantCode: http.StatusUnauthorized},
		{
			name: "registry", path: "/v1/permissions", token: getToken(t, env, fx.student),
			wantData: marshalObj(t, echoapi.RegistryResponse{
				Version:     env.Perms.Version(),
				Aggregate:   127,
				Permissions: env.Perms.Definitions(),
			}),
		},
	})
}
