package consumerd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

// ErrJournalPath is returned when the receipts journal path is missing.
var ErrJournalPath = errors.New("consumer journal path must be configured")

const journalFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrJournalPath
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve journal path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, journalFilePragmas), nil
}

// Receipt is one settled payment and its delivery outcome. A signature is
// journaled the moment settlement is known, before any delivery retry, so
// money on the ledger is never unaccounted for.
type Receipt struct {
	Signature    string
	RFPID        string
	AssignmentID string
	AmountUSDC   float64
	Recipient    string
	Outcome      string
	RecordedAt   time.Time
}

// Journal is the consumer's local receipts store.
type Journal struct {
	db *sql.DB
}

// OpenJournal initialises the receipts store at the given sqlite DSN.
func OpenJournal(dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrJournalPath
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record upserts a receipt by signature; a later outcome for the same
// signature replaces the earlier one.
func (j *Journal) Record(ctx context.Context, receipt Receipt) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal not configured")
	}
	if strings.TrimSpace(receipt.Signature) == "" {
		return fmt.Errorf("receipt requires a signature")
	}
	recorded := receipt.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
        INSERT INTO receipts(signature, rfp_id, assignment_id, amount_usdc, recipient, outcome, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(signature) DO UPDATE SET
            outcome = excluded.outcome,
            recorded_at = excluded.recorded_at
    `, receipt.Signature, receipt.RFPID, receipt.AssignmentID, receipt.AmountUSDC, receipt.Recipient, receipt.Outcome, recorded.UTC())
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// Receipts lists all journaled receipts, oldest first.
func (j *Journal) Receipts(ctx context.Context) ([]Receipt, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT signature, rfp_id, assignment_id, amount_usdc, recipient, outcome, recorded_at
        FROM receipts ORDER BY recorded_at, signature
    `)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()
	var receipts []Receipt
	for rows.Next() {
		var r Receipt
		if err := rows.Scan(&r.Signature, &r.RFPID, &r.AssignmentID, &r.AmountUSDC, &r.Recipient, &r.Outcome, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return receipts, nil
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS receipts (
    signature TEXT PRIMARY KEY,
    rfp_id TEXT NOT NULL,
    assignment_id TEXT NOT NULL,
    amount_usdc REAL NOT NULL,
    recipient TEXT NOT NULL,
    outcome TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_rfp ON receipts(rfp_id);
`
