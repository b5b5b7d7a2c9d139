// Package store persists the commit journal. Every successful writeback is
// appended here so sessions can be audited and replayed after a crash.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ohler55/ojg/oj"
	_ "modernc.org/sqlite"
)

// Entry is one committed edit.
type Entry struct {
	ID        string
	TxID      string
	RealmID   string
	FilePath  string
	Selector  string
	Version   int
	Styles    map[string]string
	Text      *string
	ClassName *string
	CreatedAt time.Time
}

// Journal is an append-only SQLite log of committed edits.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database and ensures the schema.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// WAL keeps readers unblocked while commits append.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		_ = db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS commits (
		id TEXT PRIMARY KEY,
		tx_id TEXT NOT NULL,
		realm_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		selector TEXT NOT NULL,
		version INTEGER NOT NULL,
		styles JSON,
		text TEXT,
		class_name TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_commits_realm ON commits(realm_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_commits_file ON commits(file_path, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Append records one committed edit.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	var styles sql.NullString
	if len(e.Styles) > 0 {
		encoded, err := oj.Marshal(e.Styles)
		if err != nil {
			return fmt.Errorf("encode styles: %w", err)
		}
		styles = sql.NullString{String: string(encoded), Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO commits (id, tx_id, realm_id, file_path, selector, version, styles, text, class_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TxID, e.RealmID, e.FilePath, e.Selector, e.Version,
		styles, nullable(e.Text), nullable(e.ClassName), e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append commit %s: %w", e.ID, err)
	}
	return nil
}

// ForRealm lists the most recent commits for one element, newest first.
func (j *Journal) ForRealm(ctx context.Context, realmID string, limit int) ([]Entry, error) {
	return j.query(ctx, `
		SELECT id, tx_id, realm_id, file_path, selector, version, styles, text, class_name, created_at
		FROM commits WHERE realm_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		realmID, limit)
}

// ForFile lists the most recent commits touching one file, newest first.
func (j *Journal) ForFile(ctx context.Context, filePath string, limit int) ([]Entry, error) {
	return j.query(ctx, `
		SELECT id, tx_id, realm_id, file_path, selector, version, styles, text, class_name, created_at
		FROM commits WHERE file_path = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		filePath, limit)
}

// Recent lists the most recent commits across the whole project.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return j.query(ctx, `
		SELECT id, tx_id, realm_id, file_path, selector, version, styles, text, class_name, created_at
		FROM commits ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit)
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var styles, text, class sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.TxID, &e.RealmID, &e.FilePath, &e.Selector,
			&e.Version, &styles, &text, &class, &createdAt); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		if styles.Valid {
			decoded, err := oj.Parse([]byte(styles.String))
			if err != nil {
				return nil, fmt.Errorf("decode styles for %s: %w", e.ID, err)
			}
			if m, ok := decoded.(map[string]any); ok {
				e.Styles = make(map[string]string, len(m))
				for k, v := range m {
					if s, ok := v.(string); ok {
						e.Styles[k] = s
					}
				}
			}
		}
		if text.Valid {
			v := text.String
			e.Text = &v
		}
		if class.Valid {
			v := class.String
			e.ClassName = &v
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
