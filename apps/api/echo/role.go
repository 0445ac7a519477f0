package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/permission"
	"github.com/trezcool/shule/core/role"
)

var errRoleNotFoundInCtx = errors.New("role object not found in echo.Context")

type (
	roleApi struct {
		*Server
		svc role.Service
	}

	// RoleResponse is a Role with its permission spelled out.
	RoleResponse struct {
		role.Role
		Unrestricted bool     `json:"unrestricted"`
		Permissions  []string `json:"permissions"`
	}

	MembersResponse struct {
		Members []string `json:"members"`
	}

	ResyncResponse struct {
		Updated int `json:"updated"`
	}
)

func registerRoleAPI(g *echo.Group, s *Server, jwt, authed echo.MiddlewareFunc) {
	api := roleApi{Server: s, svc: s.deps.RoleSvc}

	rg := g.Group("/roles", jwt, authed, s.permissionMiddleware(permission.ManageRoles))
	rg.GET("", api.query)
	rg.POST("", api.create)

	// detail endpoints
	dg := rg.Group("/:id", api.objectMiddleware)
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
	dg.GET("/members", api.members)
	dg.POST("/resync", api.resync)
}

func (api *roleApi) newRoleResponse(r role.Role) RoleResponse {
	return RoleResponse{
		Role:         r,
		Unrestricted: r.Grant().IsUnrestricted(),
		Permissions:  api.deps.Perms.Names(r.Permission),
	}
}

// Handlers

func (api *roleApi) query(ctx echo.Context) error {
	filter := new(role.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []RoleResponse{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	roles, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying roles")
	}
	resp := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		resp = append(resp, api.newRoleResponse(r))
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *roleApi) create(ctx echo.Context) error {
	var data role.NewRole
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRole")
	}

	ctxUsr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	grant := ctxUsr.Grant()
	data.GrantLimit = &grant

	r, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating role")
	}
	return ctx.JSON(http.StatusCreated, api.newRoleResponse(r))
}

func (api *roleApi) retrieve(ctx echo.Context) error {
	r, ok := ctx.Get("object").(role.Role)
	if !ok {
		return errors.Wrap(errRoleNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, api.newRoleResponse(r))
}

func (api *roleApi) update(ctx echo.Context) error {
	r, ok := ctx.Get("object").(role.Role)
	if !ok {
		return errors.Wrap(errRoleNotFoundInCtx, "retrieving object from context")
	}

	var data role.UpdateRole
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateRole")
	}

	ctxUsr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// the caller must hold both what the role grants now and what it will grant
	grant := ctxUsr.Grant()
	data.GrantLimit = &grant

	r, err = api.svc.Update(ctx.Request().Context(), r.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating role")
	}
	return ctx.JSON(http.StatusOK, api.newRoleResponse(r))
}

func (api *roleApi) destroy(ctx echo.Context) error {
	r, ok := ctx.Get("object").(role.Role)
	if !ok {
		return errors.Wrap(errRoleNotFoundInCtx, "retrieving object from context")
	}
	if err := api.svc.Delete(ctx.Request().Context(), r.ID); err != nil {
		return errors.Wrap(err, "deleting role")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *roleApi) members(ctx echo.Context) error {
	r, ok := ctx.Get("object").(role.Role)
	if !ok {
		return errors.Wrap(errRoleNotFoundInCtx, "retrieving object from context")
	}
	ids, err := api.svc.Members(ctx.Request().Context(), r.ID)
	if err != nil {
		return errors.Wrap(err, "querying role members")
	}
	return ctx.JSON(http.StatusOK, MembersResponse{Members: ids})
}

func (api *roleApi) resync(ctx echo.Context) error {
	r, ok := ctx.Get("object").(role.Role)
	if !ok {
		return errors.Wrap(errRoleNotFoundInCtx, "retrieving object from context")
	}
	n, err := api.svc.Resync(ctx.Request().Context(), r.ID)
	if err != nil {
		return errors.Wrap(err, "resyncing role")
	}
	return ctx.JSON(http.StatusOK, ResyncResponse{Updated: n})
}

func (api *roleApi) objectMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		r, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if role.IsNotFound(err) {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding role by ID")
		}
		ctx.Set("object", r)
		return next(ctx)
	}
}
