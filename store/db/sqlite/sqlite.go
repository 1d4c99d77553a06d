package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/repnote/repnote/internal/profile"
	"github.com/repnote/repnote/store"
)

const logSlotName = "workout_logs"

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database backing the durable slot store.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect with some sane settings:
	// - No foreign key constraints: nothing references across tables here,
	//   and being explicit prevents surprises on SQLite upgrades.
	// - Journal mode set to WAL: the recommended journal mode as it
	//   prevents locking issues.
	//
	// Note: with the `modernc.org/sqlite` driver each pragma must be
	// prefixed with `_pragma=`.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// Single connection is optimal for SQLite with WAL; local file, no
	// network, so no lifetime limits either.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: profile}, nil
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
	err := d.db.QueryRowContext(ctx, "SELECT payload FROM slot WHERE name = ?", logSlotName).Scan(&payload)
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
		INSERT INTO slot (name, payload, updated_ts) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_ts = excluded.updated_ts
	`, logSlotName, payload, time.Now().Unix())
	if err != nil {
		return errors.Wrap(err, "failed to save log slot")
	}
	return nil
}

func (d *DB) ClearLogSlot(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM slot WHERE name = ?", logSlotName)
	if err != nil {
		return errors.Wrap(err, "failed to clear log slot")
	}
	return nil
}
