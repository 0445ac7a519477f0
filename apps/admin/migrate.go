package main

import (
	"github.com/pkg/errors"

	"github.com/trezcool/shule/storage/database"
)

var errNoDatabase = errors.New("migrations need the postgres store")

var migrateFunc = database.Migrate // mockable

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	return migrateFunc(cli.db, args[0], args[1:]...)
}
