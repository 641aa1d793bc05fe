// Package pgstore is the Postgres backend. It shares the SQL of sqlstore
// with $n placeholders and connects through lib/pq.
package pgstore

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/davidahmann/creditgate/internal/store"
	"github.com/davidahmann/creditgate/internal/store/sqlstore"
)

type Store struct {
	*sqlstore.Store
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{Store: sqlstore.NewWithDriver(db, store.DBPostgres)}
}

var _ store.Store = (*Store)(nil)
