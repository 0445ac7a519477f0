package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/permission"
)

// permissionMiddleware lets the request through when the caller's stored permissions grant bit.
func (s *Server) permissionMiddleware(bit permission.Bit) echo.MiddlewareFunc {
	name := s.deps.Perms.Name(bit)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			granted := usr.HasPermission(bit)
			s.deps.Metrics.ObservePermissionCheck(name, granted)
			if !granted {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

// requestMetricsMiddleware counts the requests by route template, not by raw path.
func requestMetricsMiddleware(metrics RequestMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			err := next(ctx)
			code := ctx.Response().Status
			if err != nil {
				code = http.StatusInternalServerError
				if herr, ok := errors.Cause(err).(*echo.HTTPError); ok {
					code = herr.Code
				}
			}
			route := ctx.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.ObserveRequest(route, ctx.Request().Method, code)
			return err
		}
	}
}
