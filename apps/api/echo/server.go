package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
	"github.com/trezcool/shule/core/role"
	"github.com/trezcool/shule/core/user"
)

type (
	// RequestMetrics records the permission checks and the requests served by the API.
	RequestMetrics interface {
		core.Metrics
		ObserveRequest(route, method string, code int)
	}

	ServerDeps struct {
		Conf           *core.Config
		Logger         core.Logger
		Validate       *validator.Validate
		Translator     ut.Translator
		Perms          *permission.Registry
		RoleSvc        role.Service
		UserSvc        user.Service
		Metrics        RequestMetrics // optional
		DisableReqLogs bool
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		jwtConf  middleware.JWTConfig
		shutdown chan os.Signal
		errors   chan error
	}

	nopRequestMetrics struct {
		core.Metrics
	}
)

func (nopRequestMetrics) ObserveRequest(string, string, int) {}

func NewServer(deps ServerDeps) *Server {
	vala.BeginValidation().Validate(
		core.IsProvided(deps.Conf, "Conf"),
		core.IsProvided(deps.Logger, "Logger"),
		core.IsProvided(deps.Validate, "Validate"),
		core.IsProvided(deps.Translator, "Translator"),
		core.IsProvided(deps.Perms, "Perms"),
		core.IsProvided(deps.RoleSvc, "RoleSvc"),
		core.IsProvided(deps.UserSvc, "UserSvc"),
	).CheckAndPanic()

	if deps.Metrics == nil {
		deps.Metrics = nopRequestMetrics{core.NopMetrics}
	}
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		jwtConf:  newJWTConfig(deps.Conf),
		shutdown: make(chan os.Signal, 1),
		errors:   make(chan error, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(requestMetricsMiddleware(s.deps.Metrics))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug && !conf.TestMode

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(s.jwtConf)
	authed := s.newAuthMiddleware()

	registerUserAPI(v1, s, jwt, authed)
	registerRoleAPI(v1, s, jwt, authed)
	registerMeAPI(v1, s, jwt, authed)
	registerEventsAPI(v1, s, jwt, authed)
}

// Start blocks until the server stops. Startup and listener errors are sent to Errors().
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // shutdown already requested
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	signal.Stop(s.shutdown)
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}
