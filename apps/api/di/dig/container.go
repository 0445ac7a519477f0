package dig_container

import (
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
	"github.com/trezcool/shule/core/role"
	"github.com/trezcool/shule/core/user"
	appfs "github.com/trezcool/shule/fs"
	emailsvc "github.com/trezcool/shule/services/email"
	logsvc "github.com/trezcool/shule/services/logger"
	metricsvc "github.com/trezcool/shule/services/metrics"
	"github.com/trezcool/shule/storage/database"
	"github.com/trezcool/shule/storage/database/docrepos"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	serverParams struct {
		dig.In
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		Perms      *permission.Registry
		RoleSvc    role.Service
		UserSvc    user.Service
		Metrics    *metricsvc.PrometheusRecorder
	}
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStore(conf *core.Config, loggerParam DBLoggerParam) core.Store {
	store, _, err := database.OpenStore(conf, loggerParam.Logger)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up %s store: %v", conf.Store, err), err)
	}
	return store
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(log.New(os.Stdout, "", 0), conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

// newValidator registers the custom validators and their translations.
func newValidator(translator ut.Translator, perms *permission.Registry, logger core.Logger) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	role.InitValidators(validate, translator, perms)
	user.InitValidators(validate, translator)

	if err := user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswords); err != nil {
		logger.Error(fmt.Sprintf("loading common passwords: %v", err), err)
	}
	return validate
}

func newPermissionRegistry() *permission.Registry {
	return permission.Default
}

func newRoleService(
	store core.Store,
	repo role.Repository,
	members role.MemberRepository,
	perms *permission.Registry,
	validate *validator.Validate,
	conf *core.Config,
	logger core.Logger,
	metrics *metricsvc.PrometheusRecorder,
) role.Service {
	return role.NewService(store, repo, members, perms, validate, conf, logger, metrics)
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Validate:   p.Validate,
		Translator: p.Translator,
		Perms:      p.Perms,
		RoleSvc:    p.RoleSvc,
		UserSvc:    p.UserSvc,
		Metrics:    p.Metrics,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStore))
	must(c.Provide(newEmailService))
	must(c.Provide(newPermissionRegistry))
	must(c.Provide(metricsvc.NewPrometheusRecorder))
	must(c.Provide(docrepos.NewRoleRepository, dig.As(new(role.Repository))))
	must(c.Provide(docrepos.NewUserRepository, dig.As(new(user.Repository), new(role.MemberRepository))))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newRoleService))
	must(c.Provide(user.NewService))
	must(c.Provide(newServer))

	if os.Getenv("DIG_VISUALIZE") != "" {
		_ = dig.Visualize(c, os.Stdout)
	}

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
