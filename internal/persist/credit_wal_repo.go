package persist

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CreditWALEntry is one write-ahead record of a credit mutation: written
// before the balance is changed, marked applied after — a crash between
// the two leaves an unapplied entry RecoverUnapplied can replay.
//
// Adapted from the teacher's economic WAL (internal/persist/wal.go,
// protecting trade/shop/auction transactions); the trade/shop/auction
// transaction types it guarded don't exist in this domain, so the table
// and entry shape are narrowed to the one economic mutation the Credit
// Manager performs: a balance delta.
type CreditWALEntry struct {
	ID         string
	UniverseID string
	AccountID  string
	Delta      int64
	Reason     string
	Applied    bool
	CreatedAt  time.Time
}

type CreditWALRepo struct {
	db *DB
}

func NewCreditWALRepo(db *DB) *CreditWALRepo {
	return &CreditWALRepo{db: db}
}

// WriteEntry records an intended balance delta before it is applied,
// returning the entry id the caller passes to MarkApplied.
func (r *CreditWALRepo) WriteEntry(ctx context.Context, universeID, accountID string, delta int64, reason string) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO credit_wal (id, universe_id, account_id, delta, reason, applied, created_at)
		 VALUES ($1,$2,$3,$4,$5,false,$6)`,
		id, universeID, accountID, delta, reason, now,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// MarkApplied flags id as applied once the corresponding SetBalance call
// has committed through Raft.
func (r *CreditWALRepo) MarkApplied(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE credit_wal SET applied = true WHERE id = $1`, id)
	return err
}

// RecoverUnapplied returns every WAL entry never marked applied — entries
// left behind by a crash between WriteEntry and MarkApplied — so the
// caller can re-derive the correct balance (or at minimum, alert an
// operator) at startup.
func (r *CreditWALRepo) RecoverUnapplied(ctx context.Context) ([]CreditWALEntry, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, universe_id, account_id, delta, reason, applied, created_at
		 FROM credit_wal WHERE applied = false ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CreditWALEntry
	for rows.Next() {
		var e CreditWALEntry
		if err := rows.Scan(&e.ID, &e.UniverseID, &e.AccountID, &e.Delta, &e.Reason, &e.Applied, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
