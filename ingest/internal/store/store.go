// Package store persists observation records in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/signalhawk/common/config"
	"github.com/telhawk-systems/signalhawk/common/database"
	"github.com/telhawk-systems/signalhawk/common/models"
)

// ErrDuplicateKey is returned when a record with the same id already exists.
// The existing record is left untouched.
var ErrDuplicateKey = errors.New("observation already stored")

// ErrNotFound is returned by Get when no record has the id.
var ErrNotFound = errors.New("observation not found")

// StoreError reports a failed store operation. Callers should retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// PostgresStore writes observation records with insert-if-absent semantics.
type PostgresStore struct {
	pool      *pgxpool.Pool
	team      string
	now       func() time.Time
	insertSQL string
	selectSQL string
}

// NewPostgresStore connects to PostgreSQL and verifies the connection.
func NewPostgresStore(ctx context.Context, cfg config.StoreConfig, team string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.Postgres.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Postgres.MaxConns
	}
	poolCfg.MaxConnLifetime = 5 * time.Minute
	poolCfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := database.PingContext(ctx)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewWithPool(pool, cfg.Table, team), nil
}

// NewWithPool wraps an existing pool. table may be schema-qualified.
func NewWithPool(pool *pgxpool.Pool, table, team string) *PostgresStore {
	ident := tableIdentifier(table)
	return &PostgresStore{
		pool: pool,
		team: team,
		now:  time.Now,
		insertSQL: fmt.Sprintf(`
		INSERT INTO %s (id, team, species, location, intensity, "timestamp", type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, ident),
		selectSQL: fmt.Sprintf(`
		SELECT id, team, species, location, intensity, "timestamp", type
		FROM %s
		WHERE id = $1
	`, ident),
	}
}

// tableIdentifier quotes a possibly schema-qualified table name.
func tableIdentifier(table string) string {
	if table == "" {
		table = "observations"
	}
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Health pings the database.
func (s *PostgresStore) Health(ctx context.Context) error {
	ctx, cancel := database.PingContext(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Write persists the record for env. It returns ErrDuplicateKey when the id
// is already stored, and a *StoreError when the database is unavailable.
func (s *PostgresStore) Write(ctx context.Context, env models.Envelope) error {
	rec := models.NewObservationRecord(env, s.team, s.now())

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, s.insertSQL,
		rec.ID, rec.Team, nullJSON(rec.Species), nullJSON(rec.Location),
		rec.Intensity, rec.Timestamp, rec.Type,
	)
	if err != nil {
		return &StoreError{Op: "insert", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateKey
	}
	return nil
}

// Get reads back a stored record.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.ObservationRecord, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	var rec models.ObservationRecord
	var species, location []byte
	err := s.pool.QueryRow(ctx, s.selectSQL, id).Scan(
		&rec.ID, &rec.Team, &species, &location, &rec.Intensity, &rec.Timestamp, &rec.Type,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &StoreError{Op: "select", Err: err}
	}
	rec.Species = species
	rec.Location = location
	rec.Timestamp = rec.Timestamp.UTC()
	return &rec, nil
}

// nullJSON maps an absent passthrough field to SQL NULL.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
