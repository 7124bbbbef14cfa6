package persist

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/mudd/mudcore/internal/apperr"
	"github.com/mudd/mudcore/internal/raftwrite"
)

// CreditRepo persists the (universe_id, account_id) -> balance composite
// key with upsert semantics, grounding the Credit Manager's cache-miss load
// path.
type CreditRepo struct {
	db     *DB
	writer *raftwrite.Writer
}

func NewCreditRepo(db *DB, writer *raftwrite.Writer) *CreditRepo {
	return &CreditRepo{db: db, writer: writer}
}

// Load returns the persisted balance; an absent row implies zero.
func (r *CreditRepo) Load(ctx context.Context, universeID, accountID string) (int64, error) {
	var balance int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT balance FROM credits WHERE universe_id = $1 AND player_id = $2`, universeID, accountID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// SetBalance upserts the balance for (universeID, accountID).
func (r *CreditRepo) SetBalance(ctx context.Context, universeID, accountID string, balance int64) error {
	resp, err := r.writer.Submit(ctx, raftwrite.Request{
		SQL: `INSERT INTO credits (id, universe_id, player_id, balance) VALUES ($1,$2,$3,$4)
		      ON CONFLICT (universe_id, player_id) DO UPDATE SET balance = $4`,
		Params: []any{universeID + ":" + accountID, universeID, accountID, balance},
	})
	if err != nil {
		return apperr.Wrap(apperr.TransportFailure, "submit set_balance", err)
	}
	if !resp.Success {
		return apperr.New(apperr.StorageFailure, resp.Error)
	}
	return nil
}
