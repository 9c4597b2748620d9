// Package sqlite opens a single-file database for development and tests.
// The schema is created on open. Writers are serialized by limiting the pool
// to one connection, so reads inside a unit of work need no row locks.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"obar/backend/internal/store/sqlstore"
)

//go:embed schema.sql
var schema string

var Dialect = sqlstore.Dialect{
	Name:                  "sqlite",
	LockSuffix:            "",
	IsUniqueViolation:     hasExtendedCode(sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey),
	// ON DELETE RESTRICT is enforced as a trigger and reports its own code.
	IsForeignKeyViolation: hasExtendedCode(sqlite3.ErrConstraintForeignKey, sqlite3.ErrConstraintTrigger),
	IsCheckViolation:      hasExtendedCode(sqlite3.ErrConstraintCheck),
}

func New(ctx context.Context, path string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return sqlstore.New(db, Dialect), nil
}

func hasExtendedCode(codes ...sqlite3.ErrNoExtended) func(error) bool {
	return func(err error) bool {
		var sqliteErr sqlite3.Error
		if !errors.As(err, &sqliteErr) {
			return false
		}
		for _, code := range codes {
			if sqliteErr.ExtendedCode == code {
				return true
			}
		}
		return false
	}
}
