package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
	"github.com/trezcool/shule/core/role"
	"github.com/trezcool/shule/core/user"
	appfs "github.com/trezcool/shule/fs"
	emailsvc "github.com/trezcool/shule/services/email"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage/database"
	"github.com/trezcool/shule/storage/database/docrepos"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up store
	store, db, err := database.OpenStore(conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up %s store: %v", conf.Store, err), err)
	}

	// set up services
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	role.InitValidators(validate, translator, permission.Default)
	user.InitValidators(validate, translator)
	if err = user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswords); err != nil {
		logger.Error(fmt.Sprintf("loading common passwords: %v", err), err)
	}

	roleRepo := docrepos.NewRoleRepository(store)
	usrRepo := docrepos.NewUserRepository(store)
	mailSvc := emailsvc.NewConsoleService(log.New(os.Stdout, "", 0), conf, logger)

	// start CLI
	cli := commandLine{
		db:      db,
		perms:   permission.Default,
		roleSvc: role.NewService(store, roleRepo, usrRepo, permission.Default, validate, conf, logger, nil),
		usrSvc:  user.NewService(store, usrRepo, roleRepo, permission.Default, validate, mailSvc, conf, logger),
		out:     os.Stdout,
	}
	err = cli.run(os.Args)
	if closeErr := store.Close(); closeErr != nil {
		logger.Error(fmt.Sprintf("closing store: %v", closeErr), closeErr)
	}
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
