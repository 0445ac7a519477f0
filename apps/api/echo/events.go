package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
)

const eventsBufferSize = 64

type eventsApi struct {
	*Server
}

func registerEventsAPI(g *echo.Group, s *Server, jwt, authed echo.MiddlewareFunc) {
	api := eventsApi{Server: s}
	g.GET("/events/:collection", api.stream, jwt, authed, api.collectionMiddleware)
}

// collectionMiddleware allows users to watch only the collections they manage.
func (api *eventsApi) collectionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	guards := map[string]echo.HandlerFunc{
		core.UsersCollection: api.permissionMiddleware(permission.ManageUsers)(next),
		core.RolesCollection: api.permissionMiddleware(permission.ManageRoles)(next),
	}
	return func(ctx echo.Context) error {
		h, ok := guards[core.CleanCollection(ctx.Param("collection"))]
		if !ok {
			return errHttpNotFound
		}
		return h(ctx)
	}
}

func (api *eventsApi) subscribe(collection string, onChange func(core.Change)) (core.Unsubscribe, error) {
	if collection == core.RolesCollection {
		return api.deps.RoleSvc.Subscribe(onChange)
	}
	return api.deps.UserSvc.Subscribe(onChange)
}

// stream writes the committed changes of a collection as server-sent events until the client goes away.
// Changes are dropped when the client cannot keep up.
func (api *eventsApi) stream(ctx echo.Context) error {
	collection := core.CleanCollection(ctx.Param("collection"))
	changes := make(chan core.Change, eventsBufferSize)

	unsubscribe, err := api.subscribe(collection, func(c core.Change) {
		select {
		case changes <- c:
		default:
			api.deps.Logger.Warn(fmt.Sprintf("events: dropping %s change of %q for a slow client", c.Collection, c.ID))
		}
	})
	if err != nil {
		return errors.Wrap(err, "subscribing to changes")
	}
	defer unsubscribe()

	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	done := ctx.Request().Context().Done()
	for {
		select {
		case <-done:
			return nil
		case c := <-changes:
			data, err := json.Marshal(c)
			if err != nil {
				return errors.Wrap(err, "encoding change")
			}
			if _, err = fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
				return nil // client went away
			}
			resp.Flush()
		}
	}
}
