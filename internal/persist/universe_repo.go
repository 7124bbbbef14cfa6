package persist

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mudd/mudcore/internal/apperr"
	"github.com/mudd/mudcore/internal/raftwrite"
)

// Universe mirrors the §3 Universe entity.
type Universe struct {
	ID           string
	Name         string
	OwnerID      string
	Config       map[string]any
	PortalRoomID *string
	CreatedAt    time.Time
}

type UniverseRepo struct {
	db     *DB
	writer *raftwrite.Writer
}

func NewUniverseRepo(db *DB, writer *raftwrite.Writer) *UniverseRepo {
	return &UniverseRepo{db: db, writer: writer}
}

func (r *UniverseRepo) Create(ctx context.Context, u Universe) error {
	cfg, err := marshalProps(u.Config)
	if err != nil {
		return apperr.Wrap(apperr.ValidationFailure, "marshal config", err)
	}
	resp, err := r.writer.Submit(ctx, raftwrite.Request{
		SQL:    `INSERT INTO universes (id, name, owner_id, config, created_at) VALUES ($1,$2,$3,$4,$5)`,
		Params: []any{u.ID, u.Name, u.OwnerID, cfg, u.CreatedAt},
	})
	if err != nil {
		return apperr.Wrap(apperr.TransportFailure, "submit create universe", err)
	}
	if !resp.Success {
		return apperr.New(apperr.ConstraintViolation, resp.Error)
	}
	return nil
}

func (r *UniverseRepo) Get(ctx context.Context, id string) (*Universe, error) {
	var u Universe
	var cfg []byte
	var portalRoomID *string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, name, owner_id, config, created_at,
		        (SELECT value FROM universe_settings WHERE universe_id = universes.id AND key = 'portal_room_id')
		 FROM universes WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.OwnerID, &cfg, &u.CreatedAt, &portalRoomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &u.Config); err != nil {
		return nil, err
	}
	u.PortalRoomID = portalRoomID
	return &u, nil
}

// Update merges newConfig into the universe's existing config (child keys
// override) and persists the merged result.
func (r *UniverseRepo) Update(ctx context.Context, id string, newConfig map[string]any) error {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return apperr.New(apperr.NotFound, "universe not found: "+id)
	}
	merged := existing.Config
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range newConfig {
		merged[k] = v
	}
	cfg, err := marshalProps(merged)
	if err != nil {
		return apperr.Wrap(apperr.ValidationFailure, "marshal config", err)
	}
	resp, err := r.writer.Submit(ctx, raftwrite.Request{
		SQL:    `UPDATE universes SET config = $2 WHERE id = $1`,
		Params: []any{id, cfg},
	})
	if err != nil {
		return apperr.Wrap(apperr.TransportFailure, "submit update universe", err)
	}
	if !resp.Success {
		return apperr.New(apperr.StorageFailure, resp.Error)
	}
	return nil
}

func (r *UniverseRepo) GetSetting(ctx context.Context, universeID, key string) (string, bool, error) {
	var val string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT value FROM universe_settings WHERE universe_id = $1 AND key = $2`, universeID, key,
	).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	return val, err == nil, err
}

func (r *UniverseRepo) SetSetting(ctx context.Context, universeID, key, value string) error {
	resp, err := r.writer.Submit(ctx, raftwrite.Request{
		SQL: `INSERT INTO universe_settings (universe_id, key, value) VALUES ($1,$2,$3)
		      ON CONFLICT (universe_id, key) DO UPDATE SET value = $3`,
		Params: []any{universeID, key, value},
	})
	if err != nil {
		return apperr.Wrap(apperr.TransportFailure, "submit set setting", err)
	}
	if !resp.Success {
		return apperr.New(apperr.StorageFailure, resp.Error)
	}
	return nil
}

func (r *UniverseRepo) GetPortal(ctx context.Context, universeID string) (string, bool, error) {
	return r.GetSetting(ctx, universeID, "portal_room_id")
}

func (r *UniverseRepo) SetPortal(ctx context.Context, universeID, roomID string) error {
	return r.SetSetting(ctx, universeID, "portal_room_id", roomID)
}
