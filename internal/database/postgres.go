package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PgDelayChatRepository struct {
	conn      *sql.DB
	dupWindow time.Duration
}

// SetDuplicateWindow overrides how far back SendMessage looks for an
// identical prior submission.
func (db *PgDelayChatRepository) SetDuplicateWindow(d time.Duration) {
	db.dupWindow = d
}

func NewPgDelayChatRepository(dsn string) (*PgDelayChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgDelayChatRepository{conn: db}, nil
}

// Migrate applies any pending schema migrations embedded in the binary.
func (db *PgDelayChatRepository) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(db.conn, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

func (db *PgDelayChatRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgDelayChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
