package persist

import (
	"context"
	"encoding/json"

	"github.com/mudd/mudcore/internal/apperr"
	"github.com/mudd/mudcore/internal/raftwrite"
)

// TimerRow mirrors the §3 Timer entity.
type TimerRow struct {
	ID         string
	UniverseID string
	ObjectID   string
	Method     string
	FireAt     int64 // epoch ms
	Args       map[string]any
}

type TimerRepo struct {
	db     *DB
	writer *raftwrite.Writer
}

func NewTimerRepo(db *DB, writer *raftwrite.Writer) *TimerRepo {
	return &TimerRepo{db: db, writer: writer}
}

func (r *TimerRepo) Add(ctx context.Context, t TimerRow) error {
	args, err := marshalProps(t.Args)
	if err != nil {
		return apperr.Wrap(apperr.ValidationFailure, "marshal timer args", err)
	}
	resp, err := r.writer.Submit(ctx, raftwrite.Request{
		SQL:    `INSERT INTO timers (id, universe_id, object_id, method, fire_at, args) VALUES ($1,$2,$3,$4,$5,$6)`,
		Params: []any{t.ID, t.UniverseID, t.ObjectID, t.Method, t.FireAt, args},
	})
	if err != nil {
		return apperr.Wrap(apperr.TransportFailure, "submit add_timer", err)
	}
	if !resp.Success {
		return apperr.New(apperr.StorageFailure, resp.Error)
	}
	return nil
}

func (r *TimerRepo) Remove(ctx context.Context, id string) error {
	_, err := r.writer.Submit(ctx, raftwrite.Request{
		SQL:    `DELETE FROM timers WHERE id = $1`,
		Params: []any{id},
	})
	return err
}

func (r *TimerRepo) RemoveForObject(ctx context.Context, objectID string) error {
	_, err := r.writer.Submit(ctx, raftwrite.Request{
		SQL:    `DELETE FROM timers WHERE object_id = $1`,
		Params: []any{objectID},
	})
	return err
}

// LoadAll reads every persisted timer, used by the Timer Manager's
// load_from_db to rebuild its in-memory map on startup.
func (r *TimerRepo) LoadAll(ctx context.Context) ([]TimerRow, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, universe_id, object_id, method, fire_at, args FROM timers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimerRow
	for rows.Next() {
		var t TimerRow
		var args []byte
		if err := rows.Scan(&t.ID, &t.UniverseID, &t.ObjectID, &t.Method, &t.FireAt, &args); err != nil {
			return nil, err
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &t.Args); err != nil {
				return nil, err
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
