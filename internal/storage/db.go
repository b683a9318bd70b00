package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

//go:embed migrations
var migrations embed.FS

var ErrNotFound = errors.New("not found")

// DriverFor picks the database/sql driver for a DSN. Anything that is not a
// PostgreSQL URL is treated as a SQLite file path.
func DriverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres
	}
	return driverSQLite
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	driver := DriverFor(dsn)
	if driver == driverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	switch driver {
	case driverSQLite:
		// SQLite only supports one writer at a time, both loops share this handle.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case driverPostgres:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Migrate brings the schema up to date using the embedded migrations for the
// connection's driver.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	src, err := iofs.New(migrations, "migrations/"+db.DriverName())
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	var target migratedb.Driver

	switch db.DriverName() {
	case driverPostgres:
		conn, err := db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		defer conn.Close()

		if target, err = postgres.WithConnection(ctx, conn, &postgres.Config{}); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	default:
		// the sqlite driver closes the shared handle on Close, so it is never closed here
		if target, err = sqlite.WithInstance(db.DB, &sqlite.Config{}); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	m, err := migrate.NewWithInstance("iofs", src, db.DriverName(), target)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}
