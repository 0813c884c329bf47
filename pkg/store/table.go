// table.go implements the shared-table backend on SQLite.
//
// The table plays the role a fixed-capacity shared-memory segment plays in
// embedded systems: a small key/value region every process maps, with one
// slot per instance. SQLite in WAL mode gives the same shape with durable
// files and no custom locking. The database IS the shared segment.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultCapacity bounds the number of instance slots in a table. The
// bound exists so a leak of descriptors (crashed peers on a backend
// nobody prunes) fails loudly instead of growing without end.
const DefaultCapacity = 64

// tableFreshness is how long a table descriptor stays credible without a
// rewrite. The table is cheap to poll, so the window is tight.
const tableFreshness = 2 * time.Second

// Table stores descriptors as rows of one shared SQLite database.
type Table struct {
	db       *sql.DB
	path     string
	capacity int
}

// NewTable opens (or creates) the shared database at path and initializes
// the schema. capacity <= 0 selects DefaultCapacity.
func NewTable(path string, capacity int) (*Table, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open table db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	t := &Table{db: db, path: path, capacity: capacity}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return t, nil
}

func (t *Table) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS instances (
		id         TEXT PRIMARY KEY,
		descriptor BLOB NOT NULL
	);
	`
	_, err := t.db.Exec(schema)
	return err
}

// retryOnContention wraps retryOp from retry.go with the default config.
// All table write operations go through this to absorb transient SQLite
// errors (BUSY, LOCKED, IOERR_SHORT_READ) under concurrent publishers.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

// Publish upserts the descriptor row for id. Inserting a NEW id into a
// full table fails with ErrTableFull; rewriting an existing slot always
// succeeds. The occupancy check and the write share a transaction so two
// joiners cannot both squeeze into the last slot.
func (t *Table) Publish(id string, data []byte) error {
	return retryOnContention(func() error {
		tx, err := t.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		var exists bool
		if err := tx.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM instances WHERE id = ?)`, id,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			var count int
			if err := tx.QueryRow(`SELECT COUNT(*) FROM instances`).Scan(&count); err != nil {
				return err
			}
			if count >= t.capacity {
				return fmt.Errorf("%w: %d slots", ErrTableFull, t.capacity)
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO instances (id, descriptor) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET descriptor = excluded.descriptor`,
			id, data,
		); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ListLive returns every descriptor row keyed by instance id.
func (t *Table) ListLive() (map[string][]byte, error) {
	rows, err := t.db.Query(`SELECT id, descriptor FROM instances`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string][]byte)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		entries[id] = blob
	}
	return entries, rows.Err()
}

// Remove frees the slot for id. Absent ids are not an error.
func (t *Table) Remove(id string) error {
	return retryOnContention(func() error {
		_, err := t.db.Exec(`DELETE FROM instances WHERE id = ?`, id)
		return err
	})
}

// Close closes the database connection.
func (t *Table) Close() error { return t.db.Close() }

// DefaultFreshness implements Adapter.
func (t *Table) DefaultFreshness() time.Duration { return tableFreshness }

// Path returns the database file path.
func (t *Table) Path() string { return t.path }

// Capacity returns the slot capacity.
func (t *Table) Capacity() int { return t.capacity }

// Compile-time check that *Table implements Adapter.
var _ Adapter = (*Table)(nil)
