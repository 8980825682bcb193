package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	errs "attachdl/pkg/errors"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS attachment_log (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	remote_id           TEXT NOT NULL,
	parent_id           TEXT NOT NULL,
	file_name           TEXT NOT NULL,
	byte_size           INTEGER NOT NULL,
	content_type        TEXT NOT NULL,
	created_date        TEXT NOT NULL,
	local_path          TEXT NOT NULL,
	attempts            INTEGER NOT NULL,
	completed_at        TEXT NOT NULL,
	run_id              TEXT NOT NULL,
	skipped             INTEGER NOT NULL DEFAULT 0,
	description         TEXT NOT NULL DEFAULT '',
	owner_id            TEXT NOT NULL DEFAULT '',
	created_by_id       TEXT NOT NULL DEFAULT '',
	last_modified_by_id TEXT NOT NULL DEFAULT '',
	is_private          INTEGER NOT NULL DEFAULT 0,
	is_deleted          INTEGER NOT NULL DEFAULT 0,
	last_modified_date  TEXT NOT NULL DEFAULT '',
	system_modstamp     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS attachment_log_remote_id ON attachment_log(remote_id);
CREATE VIEW IF NOT EXISTS attachments AS
	SELECT l.* FROM attachment_log l
	JOIN (SELECT remote_id, MAX(id) AS id FROM attachment_log GROUP BY remote_id) latest
	ON l.id = latest.id;
CREATE TABLE IF NOT EXISTS failures (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	remote_id   TEXT NOT NULL,
	file_name   TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	type        TEXT NOT NULL,
	message     TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	run_id      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS failures_remote_id ON failures(remote_id);
`

// SQLiteLedger mirrors both logs into a SQLite database for querying. Like the CSV log,
// attachment_log is append-only: a replayed success adds a row. The attachments view
// keeps the latest row per remote ID.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenLedger opens or creates the ledger at path.
func OpenLedger(ctx context.Context, path string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errs.Storage("failed to create ledger directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Storage("failed to open ledger", err)
	}
	// a single connection keeps writes serialized
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, errs.Storage("failed to configure ledger", err)
	}
	if _, err := db.ExecContext(ctx, ledgerSchema); err != nil {
		db.Close()
		return nil, errs.Storage("failed to create ledger schema", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) WriteMetadata(rec MetadataRecord) error {
	a := rec.Attributes
	_, err := l.db.Exec(`INSERT INTO attachment_log
		(remote_id, parent_id, file_name, byte_size, content_type, created_date, local_path, attempts,
		 completed_at, run_id, skipped, description, owner_id, created_by_id, last_modified_by_id,
		 is_private, is_deleted, last_modified_date, system_modstamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RemoteID, rec.ParentID, rec.FileName, rec.ByteSize, rec.ContentType,
		formatTime(rec.CreatedDate), rec.LocalPath, rec.Attempts, formatTime(rec.CompletedAt), rec.RunID,
		rec.Skipped, a.Description, a.OwnerID, a.CreatedByID, a.LastModifiedByID,
		a.IsPrivate, a.IsDeleted, formatTime(a.LastModifiedDate), formatTime(a.SystemModstamp))
	if err != nil {
		return errs.Storage(fmt.Sprintf("failed to record %s in ledger", rec.RemoteID), err)
	}
	return nil
}

func (l *SQLiteLedger) WriteError(rec ErrorRecord) error {
	_, err := l.db.Exec(`INSERT INTO failures
		(remote_id, file_name, attempts, kind, type, message, occurred_at, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RemoteID, rec.FileName, rec.Attempts, string(rec.Kind), string(rec.Type),
		rec.Message, formatTime(rec.OccurredAt), rec.RunID)
	if err != nil {
		return errs.Storage(fmt.Sprintf("failed to record failure of %s in ledger", rec.RemoteID), err)
	}
	return nil
}

// Sync is a no-op: every insert commits on its own.
func (l *SQLiteLedger) Sync() error {
	return nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// LedgerStats are aggregate counts read back from the ledger.
type LedgerStats struct {
	Attachments int64
	Rows        int64
	Bytes       int64
	Failures    int64
	LastSuccess time.Time
}

// Stats summarises the ledger for the status command.
func (l *SQLiteLedger) Stats(ctx context.Context) (LedgerStats, error) {
	var (
		stats LedgerStats
		last  sql.NullString
	)
	row := l.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(byte_size), 0), MAX(completed_at) FROM attachments`)
	if err := row.Scan(&stats.Attachments, &stats.Bytes, &last); err != nil {
		return stats, fmt.Errorf("failed to read ledger: %w", err)
	}
	if last.Valid {
		stats.LastSuccess, _ = time.Parse(time.RFC3339, last.String)
	}
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attachment_log`).Scan(&stats.Rows); err != nil {
		return stats, fmt.Errorf("failed to read ledger rows: %w", err)
	}
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT remote_id) FROM failures`).Scan(&stats.Failures); err != nil {
		return stats, fmt.Errorf("failed to read ledger failures: %w", err)
	}
	return stats, nil
}
