// AuditLogger persists fail-open events for compliance review: every time
// Check or AllocateQuota serves a fail-open result because Transport
// errored, a row is appended here.
//
// An append-only PostgreSQL table via encore.dev/storage/sqldb, with an
// ensureSchema-on-construction pattern, reduced to the columns this
// repository's fail-open path actually needs (no pattern/keys JSONB, no
// request-ID correlation — Client.Check and Client.AllocateQuota take no
// context, so the sidecar's request ID never reaches the audit row).
package control

import (
	"context"
	"fmt"
	"time"

	"encore.dev/storage/sqldb"
)

// FailOpenAuditEntry is one fail-open event.
type FailOpenAuditEntry struct {
	ID          int64
	Family      string // "check" or "quota"
	ServiceName string
	ConsumerID  string
	Reason      string
	Timestamp   time.Time
}

// AuditLogger is safe for concurrent use; every method issues its own
// query against the pool.
type AuditLogger struct {
	db *sqldb.Database
}

// NewAuditLogger wires a logger against db, creating its table if absent.
func NewAuditLogger(db *sqldb.Database) (*AuditLogger, error) {
	logger := &AuditLogger{db: db}
	if err := logger.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("control: failed to initialize fail-open audit schema: %w", err)
	}
	return logger, nil
}

func (al *AuditLogger) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS fail_open_audit (
			id BIGSERIAL PRIMARY KEY,
			family TEXT NOT NULL,
			service_name TEXT NOT NULL,
			consumer_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_fail_open_audit_timestamp
		ON fail_open_audit(timestamp DESC);

		CREATE INDEX IF NOT EXISTS idx_fail_open_audit_consumer
		ON fail_open_audit(consumer_id);
	`
	_, err := al.db.Exec(ctx, query)
	return err
}

// Insert appends one fail-open event. Failures here are logged by the
// caller, not retried: the audit trail is best-effort, never a blocking
// dependency of the fail-open path it records.
func (al *AuditLogger) Insert(ctx context.Context, entry FailOpenAuditEntry) error {
	query := `
		INSERT INTO fail_open_audit (family, service_name, consumer_id, reason, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := al.db.Exec(ctx, query, entry.Family, entry.ServiceName, entry.ConsumerID, entry.Reason, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("control: failed to insert fail-open audit entry: %w", err)
	}
	return nil
}

// CountSince returns how many fail-open events of family have been
// recorded since the given time, for operators correlating the in-memory
// Statistics counters against the durable trail.
func (al *AuditLogger) CountSince(ctx context.Context, family string, since time.Time) (int64, error) {
	var count int64
	err := al.db.QueryRow(ctx, `SELECT COUNT(*) FROM fail_open_audit WHERE family = $1 AND timestamp >= $2`, family, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("control: failed to count fail-open audit entries: %w", err)
	}
	return count, nil
}
