package database

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	inmemdb "github.com/trezcool/shule/storage/database/inmem"
	pgstore "github.com/trezcool/shule/storage/database/postgres"
)

// Store engines, as set in Config.Store.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

var errUnknownStore = errors.New("unknown store")

// dbStore closes the database along with the store.
type dbStore struct {
	*pgstore.Store
	db *sqlx.DB
}

func (s dbStore) Close() error {
	err := s.Store.Close()
	if dbErr := s.db.Close(); err == nil && dbErr != nil {
		err = errors.Wrap(dbErr, "closing database")
	}
	return err
}

// OpenStore opens the document store selected by conf.Store.
// The postgres store is created and migrated up if needed; the returned *sqlx.DB is nil for the memory store.
func OpenStore(conf *core.Config, logger core.Logger) (core.Store, *sqlx.DB, error) {
	switch conf.Store {
	case StoreMemory:
		return inmemdb.Open(), nil, nil
	case StorePostgres, "":
	default:
		return nil, nil, errors.Wrapf(errUnknownStore, "%q", conf.Store)
	}

	if err := CreateIfNotExist(conf); err != nil {
		return nil, nil, err
	}
	db, err := Open(conf)
	if err != nil {
		return nil, nil, err
	}
	if err = Migrate(db, "up"); err != nil {
		_ = db.Close()
		return nil, nil, errors.Wrap(err, "migrating database")
	}

	store, err := pgstore.Open(db, pgstore.NewListener(DSN(conf), logger), logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return dbStore{Store: store, db: db}, db, nil
}
