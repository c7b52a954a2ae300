package sessiondir

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/relaybridge/codexgw/internal/journal"
)

// indexSchemaVersion forces a rebuild when the row shape changes.
const indexSchemaVersion = 1

// Index is a SQLite mirror of the sidecar directory. The filesystem
// stays authoritative: the index is rebuilt from it on startup and kept
// current by commit notifications.
type Index struct {
	db   *sql.DB
	path string
}

// OpenIndex opens (creating if necessary) the index database.
func OpenIndex(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createIndexSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Index{db: db, path: path}, nil
}

func createIndexSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`)
	if err := row.Scan(&currentVersion); err != nil {
		currentVersion = 0
	}

	if currentVersion < indexSchemaVersion {
		if currentVersion > 0 {
			log.Info().
				Int("old_version", currentVersion).
				Int("new_version", indexSchemaVersion).
				Msg("session index schema changed, rebuilding")
		}
		if _, err := db.Exec(`DROP TABLE IF EXISTS sessions`); err != nil {
			return err
		}
		if _, err := db.Exec(`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`, indexSchemaVersion); err != nil {
			return err
		}
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			cwd TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL DEFAULT 0,
			last_message_at INTEGER NOT NULL DEFAULT 0,
			last_message_preview TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			last_cursor INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_last_message_at ON sessions(last_message_at DESC);
	`)
	return err
}

// Close releases the database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Rebuild resynchronizes the index with the sidecar directory: every
// sidecar on disk is upserted and rows without a backing file are
// removed.
func (ix *Index) Rebuild(sessionsDir string) error {
	dirEntries, err := os.ReadDir(sessionsDir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	tx, err := ix.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return err
	}

	var indexed int
	for _, de := range dirEntries {
		if de.IsDir() || !sidecarPattern.MatchString(de.Name()) {
			continue
		}
		sc, err := journal.ReadSidecar(filepath.Join(sessionsDir, de.Name()))
		if err != nil {
			log.Debug().Err(err).Str("file", de.Name()).Msg("skipping unreadable sidecar during index rebuild")
			continue
		}
		if err := upsertTx(tx, sc); err != nil {
			return err
		}
		indexed++
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Info().Int("sessions", indexed).Str("path", ix.path).Msg("session index rebuilt")
	return nil
}

// Upsert writes one sidecar's row.
func (ix *Index) Upsert(sc *journal.Sidecar) error {
	tx, err := ix.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsertTx(tx, sc); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertTx(tx *sql.Tx, sc *journal.Sidecar) error {
	_, err := tx.Exec(`
		INSERT INTO sessions (id, cwd, model, created_at, last_message_at, last_message_preview, message_count, last_cursor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cwd = excluded.cwd,
			model = excluded.model,
			created_at = excluded.created_at,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			message_count = excluded.message_count,
			last_cursor = excluded.last_cursor
	`, sc.ID, sc.Cwd, sc.Model, sc.CreatedAt.UnixMilli(), sc.LastMessageAt.UnixMilli(),
		sc.LastMessagePreview, sc.MessageCount, sc.LastCursor)
	return err
}

// ApplyCommit refreshes one session's row from its sidecar on disk,
// removing the row if the sidecar is gone.
func (ix *Index) ApplyCommit(sessionsDir, sessionID string) error {
	sc, err := journal.ReadSidecar(journal.SidecarPath(sessionsDir, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			_, derr := ix.db.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID)
			return derr
		}
		return err
	}
	return ix.Upsert(sc)
}

// List returns one page of rows newest first plus the total row count.
func (ix *Index) List(offset, limit int) ([]Entry, int, error) {
	var total int
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := ix.db.Query(`
		SELECT id, cwd, model, created_at, last_message_at, last_message_preview, message_count, last_cursor
		FROM sessions
		ORDER BY last_message_at DESC, created_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var createdAt, lastMessageAt int64
		if err := rows.Scan(&e.SessionID, &e.Cwd, &e.Model, &createdAt, &lastMessageAt,
			&e.LastMessagePreview, &e.MessageCount, &e.LastCursor); err != nil {
			return nil, 0, err
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		e.LastMessageAt = time.UnixMilli(lastMessageAt).UTC()
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
