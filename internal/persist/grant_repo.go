package persist

import (
	"context"
	"time"

	"github.com/mudd/mudcore/internal/apperr"
	"github.com/mudd/mudcore/internal/perm"
	"github.com/mudd/mudcore/internal/raftwrite"
)

// GrantRepo persists path grants (§3 PathGrant). Permission decisions
// themselves never touch the database (perm.Check is pure); this repo only
// loads/stores the grants a perm.User is built from.
type GrantRepo struct {
	db     *DB
	writer *raftwrite.Writer
}

func NewGrantRepo(db *DB, writer *raftwrite.Writer) *GrantRepo {
	return &GrantRepo{db: db, writer: writer}
}

func (r *GrantRepo) Create(ctx context.Context, g perm.Grant, universeID string, grantedAt time.Time) error {
	resp, err := r.writer.Submit(ctx, raftwrite.Request{
		SQL: `INSERT INTO path_grants (id, universe_id, grantee_id, path_prefix, can_delegate, granted_by, granted_at)
		      VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		Params: []any{g.ID, universeID, g.GranteeID, g.PathPrefix, g.CanDelegate, g.GrantedBy, grantedAt},
	})
	if err != nil {
		return apperr.Wrap(apperr.TransportFailure, "submit grant_path", err)
	}
	if !resp.Success {
		return apperr.New(apperr.StorageFailure, resp.Error)
	}
	return nil
}

func (r *GrantRepo) Revoke(ctx context.Context, grantID string) error {
	resp, err := r.writer.Submit(ctx, raftwrite.Request{
		SQL:    `DELETE FROM path_grants WHERE id = $1`,
		Params: []any{grantID},
	})
	if err != nil {
		return apperr.Wrap(apperr.TransportFailure, "submit revoke_path", err)
	}
	if !resp.Success {
		return apperr.New(apperr.StorageFailure, resp.Error)
	}
	return nil
}

// ForGrantee loads every grant belonging to granteeID in universeID, the
// set the Permission Manager assembles into a perm.User before a Check.
func (r *GrantRepo) ForGrantee(ctx context.Context, universeID, granteeID string) ([]perm.Grant, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, universe_id, grantee_id, path_prefix, can_delegate, granted_by
		 FROM path_grants WHERE universe_id = $1 AND grantee_id = $2`, universeID, granteeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []perm.Grant
	for rows.Next() {
		var g perm.Grant
		if err := rows.Scan(&g.ID, &g.UniverseID, &g.GranteeID, &g.PathPrefix, &g.CanDelegate, &g.GrantedBy); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
