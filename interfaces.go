package siteguard

import (
	"context"
	"time"
)

// TTLStore is the shared key/value store every counter and state record
// lives in. Implementations provide no locking; counter updates are
// read-modify-write and lost updates under true concurrency are accepted.
type TTLStore interface {
	// Get returns the stored value and whether the key exists and is
	// unexpired.
	Get(key string) ([]byte, bool, error)
	// Set writes value under key. ttl <= 0 means no expiry.
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	// Increment atomically increments the counter at key, initializing it
	// to 1 with the given ttl when absent or expired. The ttl is not
	// refreshed on later increments (fixed window).
	Increment(key string, ttl time.Duration) (int, error)
	// Scan returns all live keys beginning with prefix.
	Scan(prefix string) ([]string, error)
	HealthCheck() error
}

// Logger is the structured logging surface used across the engine.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// MetricsCollector interface for observability
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	HealthCheck() error
	ExportPrometheus() string
}

// AuditSink records blacklist lifecycle events durably. A nil sink is valid
// and disables auditing.
type AuditSink interface {
	RecordBlacklistEvent(ctx context.Context, event AuditEvent) error
	RecentEvents(ctx context.Context, limit int) ([]AuditEvent, error)
	Close() error
}

// AuditEvent is one durable blacklist lifecycle record.
type AuditEvent struct {
	ID        int64           `db:"id" json:"id"`
	IPKey     string          `db:"ip_key" json:"ipKey"`
	Action    string          `db:"action" json:"action"`
	Source    BlacklistSource `db:"source" json:"source"`
	Reason    string          `db:"reason" json:"reason"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// AlertSender delivers operator notifications on attack-mode transitions
// and auto-blacklist promotions.
type AlertSender interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// Alert is one operator notification.
type Alert struct {
	Topic   string            `json:"topic"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	At      time.Time         `json:"at"`
}
