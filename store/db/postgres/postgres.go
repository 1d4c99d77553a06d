package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/repnote/repnote/internal/profile"
	"github.com/repnote/repnote/store"
)

const logSlotName = "workout_logs"

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the PostgreSQL database backing the durable slot store.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	pgDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	pgDB.SetMaxOpenConns(10)
	pgDB.SetMaxIdleConns(5)
	pgDB.SetConnMaxLifetime(30 * time.Minute)

	return &DB{db: pgDB, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS slot (
			name TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_ts BIGINT NOT NULL
		)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to create slot table")
	}
	return nil
}

func (d *DB) LoadLogSlot(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := d.db.QueryRowContext(ctx, "SELECT payload FROM slot WHERE name = $1", logSlotName).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load log slot")
	}
	return payload, nil
}

func (d *DB) SaveLogSlot(ctx context.Context, payload []byte) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO slot (name, payload, updated_ts) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, updated_ts = EXCLUDED.updated_ts
	`, logSlotName, payload, time.Now().Unix())
	if err != nil {
		return errors.Wrap(err, "failed to save log slot")
	}
	return nil
}

func (d *DB) ClearLogSlot(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM slot WHERE name = $1", logSlotName)
	if err != nil {
		return errors.Wrap(err, "failed to clear log slot")
	}
	return nil
}
