// Package store provides persistent rendezvous state backed by an embedded
// SQLite database: the groups and users that should survive a server
// restart. Ephemeral deployments can skip it entirely and run the
// rendezvous server from memory alone.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL/DML statements that bring the
// schema up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — persistent groups
	`CREATE TABLE IF NOT EXISTS groups (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		name          TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		metadata      BLOB,
		created_at    INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v2 — persistent users
	`CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		name          TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		metadata      BLOB,
		created_at    INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v3 — index for startup group-table reload order
	`CREATE INDEX IF NOT EXISTS idx_groups_created ON groups(created_at)`,
	// v4 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a SQLite database and exposes the persistent-group/user API
// used by the rendezvous server.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage
// (tests).
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Up to 4 open connections; concurrent writers wait on busy_timeout.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Printf("[store] WAL mode: %v (non-fatal)", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[store] busy_timeout: %v (non-fatal)", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema_migrations table (if absent) and applies any
// migrations whose version number exceeds the current maximum.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		log.Printf("[store] applied migration v%d", v)
	}
	return nil
}

// GroupRecord is a persisted group row.
type GroupRecord struct {
	ID           int64
	Name         string
	PasswordHash string
	Metadata     []byte
}

// UserRecord is a persisted user row.
type UserRecord struct {
	ID           int64
	Name         string
	PasswordHash string
	Metadata     []byte
}

// UpsertGroup creates or updates a persistent group by name, returning its
// row id.
func (s *Store) UpsertGroup(name, passwordHash string, metadata []byte) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO groups(name, password_hash, metadata) VALUES(?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET password_hash=excluded.password_hash, metadata=excluded.metadata
	`, name, passwordHash, metadata)
	if err != nil {
		return 0, fmt.Errorf("upsert group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// ON CONFLICT UPDATE doesn't populate LastInsertId; look it up.
		row := s.db.QueryRow(`SELECT id FROM groups WHERE name = ?`, name)
		if err := row.Scan(&id); err != nil {
			return 0, fmt.Errorf("lookup group id: %w", err)
		}
	}
	return id, nil
}

// GetGroup fetches a persistent group by name. The second return value is
// false if no such group exists.
func (s *Store) GetGroup(name string) (GroupRecord, bool, error) {
	var g GroupRecord
	row := s.db.QueryRow(`SELECT id, name, password_hash, metadata FROM groups WHERE name = ?`, name)
	if err := row.Scan(&g.ID, &g.Name, &g.PasswordHash, &g.Metadata); err != nil {
		if err == sql.ErrNoRows {
			return GroupRecord{}, false, nil
		}
		return GroupRecord{}, false, fmt.Errorf("get group: %w", err)
	}
	return g, true, nil
}

// ListGroups returns every persisted group, ordered by creation time.
func (s *Store) ListGroups() ([]GroupRecord, error) {
	rows, err := s.db.Query(`SELECT id, name, password_hash, metadata FROM groups ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()
	var out []GroupRecord
	for rows.Next() {
		var g GroupRecord
		if err := rows.Scan(&g.ID, &g.Name, &g.PasswordHash, &g.Metadata); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteGroup removes a persistent group by name.
func (s *Store) DeleteGroup(name string) error {
	_, err := s.db.Exec(`DELETE FROM groups WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

// UpsertUser creates or updates a persistent user by name, returning its
// row id.
func (s *Store) UpsertUser(name, passwordHash string, metadata []byte) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO users(name, password_hash, metadata) VALUES(?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET password_hash=excluded.password_hash, metadata=excluded.metadata
	`, name, passwordHash, metadata)
	if err != nil {
		return 0, fmt.Errorf("upsert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		row := s.db.QueryRow(`SELECT id FROM users WHERE name = ?`, name)
		if err := row.Scan(&id); err != nil {
			return 0, fmt.Errorf("lookup user id: %w", err)
		}
	}
	return id, nil
}

// GetUser fetches a persistent user by name. The second return value is
// false if no such user exists.
func (s *Store) GetUser(name string) (UserRecord, bool, error) {
	var u UserRecord
	row := s.db.QueryRow(`SELECT id, name, password_hash, metadata FROM users WHERE name = ?`, name)
	if err := row.Scan(&u.ID, &u.Name, &u.PasswordHash, &u.Metadata); err != nil {
		if err == sql.ErrNoRows {
			return UserRecord{}, false, nil
		}
		return UserRecord{}, false, fmt.Errorf("get user: %w", err)
	}
	return u, true, nil
}

// ListUsers returns every persisted user.
func (s *Store) ListUsers() ([]UserRecord, error) {
	rows, err := s.db.Query(`SELECT id, name, password_hash, metadata FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var out []UserRecord
	for rows.Next() {
		var u UserRecord
		if err := rows.Scan(&u.ID, &u.Name, &u.PasswordHash, &u.Metadata); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
