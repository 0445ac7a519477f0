package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/permission"
)

type (
	meApi struct {
		*Server
	}

	PermissionsResponse struct {
		Value        permission.Value `json:"value"`
		Unrestricted bool             `json:"unrestricted"`
		Names        []string         `json:"names"`
	}

	RegistryResponse struct {
		Version     int                     `json:"version"`
		Aggregate   permission.Value        `json:"aggregate"`
		Permissions []permission.Definition `json:"permissions"`
	}
)

func registerMeAPI(g *echo.Group, s *Server, jwt, authed echo.MiddlewareFunc) {
	api := meApi{Server: s}

	g.GET("/me", api.retrieve, jwt, authed)
	g.GET("/me/permissions", api.permissions, jwt, authed)
	g.GET("/permissions", api.registry, jwt, authed)
}

func (api *meApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

// permissions returns the caller's stored permissions, i.e. what the server checks against.
func (api *meApi) permissions(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	return ctx.JSON(http.StatusOK, PermissionsResponse{
		Value:        usr.Permissions,
		Unrestricted: usr.Grant().IsUnrestricted(),
		Names:        api.deps.Perms.Names(usr.Permissions),
	})
}

func (api *meApi) registry(ctx echo.Context) error {
	perms := api.deps.Perms
	return ctx.JSON(http.StatusOK, RegistryResponse{
		Version:     perms.Version(),
		Aggregate:   perms.Aggregate(),
		Permissions: perms.Definitions(),
	})
}
