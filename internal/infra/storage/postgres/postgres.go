package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx via database/sql
	"github.com/jmoiron/sqlx"

	"github.com/sabaipics/face-indexer/internal/infra/storage"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// DB wraps the PostgreSQL connection. The sqlx handle is the shared
// non-transactional mode; transactional units are opened per photo via
// NewUnitOfWork.
type DB struct {
	*sqlx.DB

	photos *PhotoRepo
	events *EventRepo
	faces  *FaceRepo
}

// NewDB creates a new database connection pool.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	minConns := cfg.MinConns
	if minConns <= 0 {
		minConns = 2
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{DB: db}
	d.photos = &PhotoRepo{db: db}
	d.events = &EventRepo{db: db}
	d.faces = &FaceRepo{db: db}
	return d, nil
}

// Photos returns the shared photo repository.
func (d *DB) Photos() storage.PhotoRepository { return d.photos }

// Events returns the shared event repository.
func (d *DB) Events() storage.EventRepository { return d.events }

// Faces returns the shared face repository.
func (d *DB) Faces() storage.FaceRepository { return d.faces }

// Health checks if the database is reachable.
func (d *DB) Health(ctx context.Context) error {
	return d.PingContext(ctx)
}

// isUniqueViolation reports whether err is a duplicate-key error
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
