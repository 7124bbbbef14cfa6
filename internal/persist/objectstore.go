package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mudd/mudcore/internal/apperr"
	"github.com/mudd/mudcore/internal/raftwrite"
)

// Object mirrors the §3 Object entity.
type Object struct {
	ID         string
	UniverseID string
	Class      string
	ParentID   *string
	Properties map[string]any
	CodeHash   *string
	OwnerID    *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ObjectStore is the Object Store (§4.C): reads go straight to the pool,
// writes are funnelled through the Raft Writer as parameterised SQL with
// every non-deterministic value (ids, timestamps) already evaluated by the
// caller, matching the teacher's repository-per-entity shape
// (internal/persist/account_repo.go) generalised from a single fixed table
// to the object graph.
type ObjectStore struct {
	db     *DB
	writer *raftwrite.Writer
}

func NewObjectStore(db *DB, writer *raftwrite.Writer) *ObjectStore {
	return &ObjectStore{db: db, writer: writer}
}

func marshalProps(props map[string]any) ([]byte, error) {
	if props == nil {
		props = map[string]any{}
	}
	return json.Marshal(props)
}

func unmarshalInto(raw []byte, dst any) error {
	return json.Unmarshal(raw, dst)
}

// Create inserts obj; fails with ConstraintViolation if the id exists.
func (s *ObjectStore) Create(ctx context.Context, obj Object) error {
	props, err := marshalProps(obj.Properties)
	if err != nil {
		return apperr.Wrap(apperr.ValidationFailure, "marshal properties", err)
	}
	resp, err := s.writer.Submit(ctx, raftwrite.Request{
		SQL: `INSERT INTO objects (id, universe_id, class, parent_id, properties, code_hash, owner_id, created_at, updated_at)
		      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		Params: []any{obj.ID, obj.UniverseID, obj.Class, obj.ParentID, props, obj.CodeHash, obj.OwnerID, obj.CreatedAt, obj.UpdatedAt},
	})
	if err != nil {
		return apperr.Wrap(apperr.TransportFailure, "submit create", err)
	}
	if !resp.Success {
		return apperr.New(apperr.ConstraintViolation, resp.Error)
	}
	return nil
}

func scanObject(row pgx.Row) (*Object, error) {
	var o Object
	var props []byte
	err := row.Scan(&o.ID, &o.UniverseID, &o.Class, &o.ParentID, &props, &o.CodeHash, &o.OwnerID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(props, &o.Properties); err != nil {
		return nil, err
	}
	return &o, nil
}

const objectColumns = `id, universe_id, class, parent_id, properties, code_hash, owner_id, created_at, updated_at`

// Get fetches an object by path.
func (s *ObjectStore) Get(ctx context.Context, id string) (*Object, error) {
	row := s.db.Pool.QueryRow(ctx, `SELECT `+objectColumns+` FROM objects WHERE id = $1`, id)
	return scanObject(row)
}

// Update overwrites mutable fields and bumps updated_at, which the caller
// must have pre-computed on the leader.
func (s *ObjectStore) Update(ctx context.Context, obj Object) error {
	props, err := marshalProps(obj.Properties)
	if err != nil {
		return apperr.Wrap(apperr.ValidationFailure, "marshal properties", err)
	}
	resp, err := s.writer.Submit(ctx, raftwrite.Request{
		SQL: `UPDATE objects SET class=$2, parent_id=$3, properties=$4, code_hash=$5, owner_id=$6, updated_at=$7 WHERE id=$1`,
		Params: []any{obj.ID, obj.Class, obj.ParentID, props, obj.CodeHash, obj.OwnerID, obj.UpdatedAt},
	})
	if err != nil {
		return apperr.Wrap(apperr.TransportFailure, "submit update", err)
	}
	if !resp.Success {
		return apperr.New(apperr.StorageFailure, resp.Error)
	}
	if resp.RowsAffected == 0 {
		return apperr.New(apperr.NotFound, "object not found: "+obj.ID)
	}
	return nil
}

// Delete removes the object, returning whether a row was removed.
func (s *ObjectStore) Delete(ctx context.Context, id string) (bool, error) {
	resp, err := s.writer.Submit(ctx, raftwrite.Request{
		SQL:    `DELETE FROM objects WHERE id = $1`,
		Params: []any{id},
	})
	if err != nil {
		return false, apperr.Wrap(apperr.TransportFailure, "submit delete", err)
	}
	return resp.Success && resp.RowsAffected > 0, nil
}

// GetContents returns children of parentID.
func (s *ObjectStore) GetContents(ctx context.Context, parentID string) ([]Object, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT `+objectColumns+` FROM objects WHERE parent_id = $1 ORDER BY id`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectObjects(rows)
}

func collectObjects(rows pgx.Rows) ([]Object, error) {
	var out []Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		if o != nil {
			out = append(out, *o)
		}
	}
	return out, rows.Err()
}

// wouldCycle walks ancestors of candidateParent looking for id; used by
// MoveObject to enforce the object-graph's acyclic invariant.
func (s *ObjectStore) wouldCycle(ctx context.Context, id, candidateParent string) (bool, error) {
	cur := candidateParent
	for depth := 0; depth < 10_000; depth++ {
		if cur == id {
			return true, nil
		}
		obj, err := s.Get(ctx, cur)
		if err != nil {
			return false, err
		}
		if obj == nil || obj.ParentID == nil {
			return false, nil
		}
		cur = *obj.ParentID
	}
	return true, fmt.Errorf("persist: ancestor walk exceeded depth limit, likely corrupt graph")
}

// MoveObject reparents id to newParentID, rejecting any move that would
// make id its own ancestor.
func (s *ObjectStore) MoveObject(ctx context.Context, id string, newParentID *string, updatedAt time.Time) error {
	if newParentID != nil {
		cyclic, err := s.wouldCycle(ctx, id, *newParentID)
		if err != nil {
			return err
		}
		if cyclic {
			return apperr.New(apperr.ConstraintViolation, "move would introduce a cycle")
		}
	}
	resp, err := s.writer.Submit(ctx, raftwrite.Request{
		SQL:    `UPDATE objects SET parent_id = $2, updated_at = $3 WHERE id = $1`,
		Params: []any{id, newParentID, updatedAt},
	})
	if err != nil {
		return apperr.Wrap(apperr.TransportFailure, "submit move", err)
	}
	if !resp.Success {
		return apperr.New(apperr.StorageFailure, resp.Error)
	}
	return nil
}

// FindByName extracts and compares properties.name among parentID's children.
func (s *ObjectStore) FindByName(ctx context.Context, parentID, name string) (*Object, error) {
	children, err := s.GetContents(ctx, parentID)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if n, ok := c.Properties["name"].(string); ok && n == name {
			return &c, nil
		}
	}
	return nil, nil
}

// GetEnvironment returns the parent object of id.
func (s *ObjectStore) GetEnvironment(ctx context.Context, id string) (*Object, error) {
	obj, err := s.Get(ctx, id)
	if err != nil || obj == nil || obj.ParentID == nil {
		return nil, err
	}
	return s.Get(ctx, *obj.ParentID)
}

// GetLivingIn returns parentID's children whose class is player, npc, or living.
func (s *ObjectStore) GetLivingIn(ctx context.Context, parentID string) ([]Object, error) {
	children, err := s.GetContents(ctx, parentID)
	if err != nil {
		return nil, err
	}
	var out []Object
	for _, c := range children {
		if c.Class == "player" || c.Class == "npc" || c.Class == "living" {
			out = append(out, c)
		}
	}
	return out, nil
}

func exitsOf(obj *Object) map[string]string {
	raw, ok := obj.Properties["exits"]
	if !ok {
		return map[string]string{}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// GetExit returns the destination id for direction on roomID, if any.
func (s *ObjectStore) GetExit(ctx context.Context, roomID, direction string) (string, bool, error) {
	obj, err := s.Get(ctx, roomID)
	if err != nil || obj == nil {
		return "", false, err
	}
	dest, ok := exitsOf(obj)[direction]
	return dest, ok, nil
}

// SetExit writes direction -> destID into roomID's exits map.
func (s *ObjectStore) SetExit(ctx context.Context, roomID, direction, destID string, updatedAt time.Time) error {
	obj, err := s.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if obj == nil {
		return apperr.New(apperr.NotFound, "room not found: "+roomID)
	}
	exits := exitsOf(obj)
	exits[direction] = destID
	obj.Properties["exits"] = exits
	obj.UpdatedAt = updatedAt
	return s.Update(ctx, *obj)
}

// RemoveExit deletes direction from roomID's exits map.
func (s *ObjectStore) RemoveExit(ctx context.Context, roomID, direction string, updatedAt time.Time) error {
	obj, err := s.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if obj == nil {
		return apperr.New(apperr.NotFound, "room not found: "+roomID)
	}
	exits := exitsOf(obj)
	delete(exits, direction)
	obj.Properties["exits"] = exits
	obj.UpdatedAt = updatedAt
	return s.Update(ctx, *obj)
}

// StoreCode inserts source content-addressed by its SHA-256 hash, the
// caller having already computed hash (see codeblob.go) so the insert
// is write-once and deduplicated by primary key conflict.
func (s *ObjectStore) StoreCode(ctx context.Context, hash, source string, createdAt time.Time) (string, error) {
	resp, err := s.writer.Submit(ctx, raftwrite.Request{
		SQL:    `INSERT INTO code_store (hash, source, created_at) VALUES ($1,$2,$3) ON CONFLICT (hash) DO NOTHING`,
		Params: []any{hash, source, createdAt},
	})
	if err != nil {
		return "", apperr.Wrap(apperr.TransportFailure, "submit store_code", err)
	}
	if !resp.Success {
		return "", apperr.New(apperr.StorageFailure, resp.Error)
	}
	return hash, nil
}

// GetCode looks up source by hash.
func (s *ObjectStore) GetCode(ctx context.Context, hash string) (string, bool, error) {
	var source string
	err := s.db.Pool.QueryRow(ctx, `SELECT source FROM code_store WHERE hash = $1`, hash).Scan(&source)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return source, true, nil
}
