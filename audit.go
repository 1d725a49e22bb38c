package siteguard

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS blacklist_audit (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ip_key      TEXT NOT NULL,
	action      TEXT NOT NULL,
	source      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blacklist_audit_ip_key ON blacklist_audit(ip_key);
CREATE INDEX IF NOT EXISTS idx_blacklist_audit_created ON blacklist_audit(created_at);
`

// SQLiteAuditSink persists blacklist add/remove events to a local SQLite
// database so operators can reconstruct why an address was blocked after the
// TTL store entry has expired.
type SQLiteAuditSink struct {
	db *sqlx.DB
}

func NewSQLiteAuditSink(path string) (*SQLiteAuditSink, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &SQLiteAuditSink{db: db}, nil
}

func (s *SQLiteAuditSink) RecordBlacklistEvent(ctx context.Context, event AuditEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO blacklist_audit (ip_key, action, source, reason, created_at)
		 VALUES (:ip_key, :action, :source, :reason, :created_at)`, event)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *SQLiteAuditSink) RecentEvents(ctx context.Context, limit int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var events []AuditEvent
	err := s.db.SelectContext(ctx, &events,
		`SELECT id, ip_key, action, source, reason, created_at
		 FROM blacklist_audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	return events, nil
}

func (s *SQLiteAuditSink) Close() error {
	return s.db.Close()
}
