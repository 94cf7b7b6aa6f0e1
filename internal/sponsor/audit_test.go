// internal/sponsor/audit_test.go
package sponsor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"member-portal/internal/common/logger"
	"member-portal/internal/models"
)

func testEntry() models.AuditEntry {
	return models.AuditEntry{
		Action:      "cancel-rsvp",
		Actor:       "user-123",
		Recipient:   "0x1111111111111111111111111111111111111111",
		LockAddress: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		ChainID:     8453,
		IP:          "203.0.113.9",
		UserAgent:   "test-agent",
		Outcome:     "submitted",
		TxHash:      "0xdeadbeef",
	}
}

func TestRecord_InsertsEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO sponsor_audit_log").
		WithArgs(sqlmock.AnyArg(), "cancel-rsvp", "user-123",
			"0x1111111111111111111111111111111111111111",
			"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			int64(8453), "203.0.113.9", "test-agent", "submitted", "", "0xdeadbeef", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	audit := NewAuditLog(db, logger.NewTestLogger(t))
	audit.Record(context.Background(), testEntry())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_FailureIsSwallowed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO sponsor_audit_log").
		WillReturnError(errors.New("connection refused"))

	audit := NewAuditLog(db, logger.NewTestLogger(t))
	// Must not panic or propagate; the sponsored action already succeeded.
	audit.Record(context.Background(), testEntry())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_NilLogIsNoOp(t *testing.T) {
	var audit *AuditLog
	audit.Record(context.Background(), testEntry())
}

func TestRecentForLock_ScansEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "action", "actor", "recipient", "lock_address", "chain_id",
		"ip", "user_agent", "outcome", "detail", "tx_hash", "created_at",
	}).AddRow("id-1", "rsvp", "user-123", "0x1111111111111111111111111111111111111111",
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", int64(8453),
		"", "", "submitted", "", "0xdeadbeef", now)

	mock.ExpectQuery("SELECT (.+) FROM sponsor_audit_log").
		WithArgs("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 50).
		WillReturnRows(rows)

	audit := NewAuditLog(db, logger.NewTestLogger(t))
	entries, err := audit.RecentForLock(context.Background(), "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 50)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "rsvp", entries[0].Action)
	assert.Equal(t, "0xdeadbeef", entries[0].TxHash)
}
