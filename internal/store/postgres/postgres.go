package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"obar/backend/internal/store/sqlstore"
)

// Schema creates the tables the store expects. Production databases are
// provisioned out of band; tests apply it directly.
//
//go:embed schema.sql
var Schema string

// Dialect locks rows with FOR UPDATE under READ COMMITTED. Quantities are
// re-read after the lock is granted, so no serialization retries are needed.
var Dialect = sqlstore.Dialect{
	Name:                  "postgres",
	TxOptions:             &sql.TxOptions{Isolation: sql.LevelReadCommitted},
	LockSuffix:            " FOR UPDATE",
	IsUniqueViolation:     hasCode("23505"),
	IsForeignKeyViolation: hasCode("23503"),
	IsCheckViolation:      hasCode("23514"),
}

func New(ctx context.Context, databaseURL string) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sqlstore.New(db, Dialect), nil
}

func hasCode(code string) func(error) bool {
	return func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == code
	}
}
