// internal/sponsor/audit.go
package sponsor

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"member-portal/internal/common/logger"
	"member-portal/internal/models"
)

const createAuditTableSQL = `
CREATE TABLE IF NOT EXISTS sponsor_audit_log (
	id           UUID PRIMARY KEY,
	action       TEXT NOT NULL,
	actor        TEXT NOT NULL,
	recipient    TEXT NOT NULL,
	lock_address TEXT NOT NULL,
	chain_id     BIGINT NOT NULL,
	ip           TEXT NOT NULL DEFAULT '',
	user_agent   TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL,
	detail       TEXT NOT NULL DEFAULT '',
	tx_hash      TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL
)`

// AuditLog appends sponsored-action records to Postgres. Audit writes must
// never block or fail a user-facing operation: errors are logged and
// swallowed.
type AuditLog struct {
	db     *sql.DB
	logger logger.Logger
}

func NewAuditLog(db *sql.DB, log logger.Logger) *AuditLog {
	return &AuditLog{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "sponsor-audit"}),
	}
}

// Migrate creates the audit table when missing.
func (a *AuditLog) Migrate(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, createAuditTableSQL)
	return err
}

// Record appends one entry. Always returns; a failed insert costs a log
// line, not the sponsored action.
func (a *AuditLog) Record(ctx context.Context, entry models.AuditEntry) {
	if a == nil || a.db == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO sponsor_audit_log
			(id, action, actor, recipient, lock_address, chain_id, ip, user_agent, outcome, detail, tx_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.Action, entry.Actor, entry.Recipient, entry.LockAddress, entry.ChainID,
		entry.IP, entry.UserAgent, entry.Outcome, entry.Detail, entry.TxHash, entry.CreatedAt,
	)
	if err != nil {
		a.logger.Error("audit write failed", map[string]interface{}{
			"action":    entry.Action,
			"recipient": entry.Recipient,
			"outcome":   entry.Outcome,
			"error":     err.Error(),
		})
	}
}

// RecentForLock lists the latest entries for one lock, newest first. Used
// by the admin screen.
func (a *AuditLog) RecentForLock(ctx context.Context, lock string, limit int) ([]models.AuditEntry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, action, actor, recipient, lock_address, chain_id, ip, user_agent, outcome, detail, tx_hash, created_at
		 FROM sponsor_audit_log
		 WHERE lock_address = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		lock, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &e.Recipient, &e.LockAddress, &e.ChainID,
			&e.IP, &e.UserAgent, &e.Outcome, &e.Detail, &e.TxHash, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
