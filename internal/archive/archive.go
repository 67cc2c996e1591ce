// Package archive persists chat transcripts to sqlite so a restarted
// client can show history the bridge no longer replays. The archive is
// optional; a nil *Store disables it.
package archive

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/perchworks/gangway/internal/chat"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// UpsertMessage writes one message snapshot. Re-delivery of the same
// (process, message) pair overwrites content in place; the row keeps its
// original insert position, matching the in-memory merge engine's ordering.
func (s *Store) UpsertMessage(processID string, m chat.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO chat_messages (process_id, message_id, role, content, ts)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (process_id, message_id)
		 DO UPDATE SET role = excluded.role, content = excluded.content, ts = excluded.ts`,
		processID, m.ID, m.Role, m.Content, m.Timestamp,
	)
	return err
}

// Messages returns a process's archived transcript in first-arrival order.
func (s *Store) Messages(processID string) ([]chat.Message, error) {
	rows, err := s.db.Query(
		`SELECT message_id, role, content, ts FROM chat_messages
		 WHERE process_id = ? ORDER BY rowid ASC`,
		processID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []chat.Message
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			continue
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// DeleteTranscript drops a process's archived messages (process killed).
func (s *Store) DeleteTranscript(processID string) error {
	_, err := s.db.Exec(`DELETE FROM chat_messages WHERE process_id = ?`, processID)
	return err
}
