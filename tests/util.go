package testutil

import (
	"context"
	"io/ioutil"
	"log"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
	"github.com/trezcool/shule/core/role"
	"github.com/trezcool/shule/core/user"
	appfs "github.com/trezcool/shule/fs"
	emailsvc "github.com/trezcool/shule/services/email"
	logsvc "github.com/trezcool/shule/services/logger"
	metricsvc "github.com/trezcool/shule/services/metrics"
	"github.com/trezcool/shule/storage/database/docrepos"
	inmemdb "github.com/trezcool/shule/storage/database/inmem"
)

// Env holds the services of a test run, all backed by one in-memory store.
type Env struct {
	Conf       *core.Config
	Store      *inmemdb.Store
	Validate   *validator.Validate
	Translator ut.Translator
	Perms      *permission.Registry
	Logger     *logsvc.RollbarLogger
	MailSvc    core.EmailService
	Metrics    *metricsvc.PrometheusRecorder
	RoleRepo   role.Repository
	UserRepo   user.Repository
	RoleSvc    role.Service
	UserSvc    user.Service
}

// NewEnv sets up a fresh Env. Optional opts tweak the config before the services are built.
func NewEnv(t *testing.T, opts ...func(conf *core.Config)) *Env {
	conf := core.NewTestConfig()
	for _, opt := range opts {
		opt(conf)
	}

	logger := logsvc.NewRollbarLogger(log.New(ioutil.Discard, "", 0), conf)
	logger.Enable(false)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	role.InitValidators(validate, translator, permission.Default)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, true, logger)
	if err := user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswords); err != nil {
		t.Fatalf("LoadCommonPasswords() failed: %v", err)
	}

	store := inmemdb.Open()
	t.Cleanup(func() { _ = store.Close() })
	roleRepo := docrepos.NewRoleRepository(store)
	usrRepo := docrepos.NewUserRepository(store)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	metrics := metricsvc.NewPrometheusRecorder()

	return &Env{
		Conf:       conf,
		Store:      store,
		Validate:   validate,
		Translator: translator,
		Perms:      permission.Default,
		Logger:     logger,
		MailSvc:    mailSvc,
		Metrics:    metrics,
		RoleRepo:   roleRepo,
		UserRepo:   usrRepo,
		RoleSvc:    role.NewService(store, roleRepo, usrRepo, permission.Default, validate, conf, logger, metrics),
		UserSvc:    user.NewServiceMock(store, usrRepo, roleRepo, permission.Default, validate, mailSvc, conf, logger),
	}
}

// CreateRole stores a role without going through validation.
func (env *Env) CreateRole(t *testing.T, name string, value permission.Value) role.Role {
	now := time.Now().UTC()
	r, err := env.RoleRepo.CreateRole(context.Background(), role.Role{
		ID:         "role-" + name,
		Name:       name,
		Permission: value,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("CreateRole() failed: %v", err)
	}
	return r
}

// CreateUser stores a user without going through validation. The user holds roleName with the given permissions.
func (env *Env) CreateUser(
	t *testing.T,
	name, email, employeeID, pwd string,
	roleName string,
	perms permission.Value,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:          "user-" + email,
		UID:         "uid-" + email,
		Name:        name,
		Email:       email,
		EmployeeID:  employeeID,
		Role:        roleName,
		Permissions: perms,
		IsActive:    isActive,
		CreatedAt:   tstamp,
		UpdatedAt:   tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := env.UserRepo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// GetUser reads a user back from the store.
func (env *Env) GetUser(t *testing.T, id string) user.User {
	usr, err := env.UserRepo.GetUser(context.Background(), user.GetFilter{ID: id})
	if err != nil {
		t.Fatalf("GetUser() failed: %v", err)
	}
	return usr
}

// GetRole reads a role back from the store.
func (env *Env) GetRole(t *testing.T, id string) role.Role {
	r, err := env.RoleRepo.GetRole(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRole() failed: %v", err)
	}
	return r
}
