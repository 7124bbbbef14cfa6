package persist

import (
	"context"

	"github.com/mudd/mudcore/internal/apperr"
	"github.com/mudd/mudcore/internal/class"
	"github.com/mudd/mudcore/internal/raftwrite"
)

// ClassRepo persists class definitions into the normalised
// classes/class_properties/class_handlers tables (§6), used to seed and
// durably record class.Registry.Register calls. Registry.IsA/Resolve*
// operate purely in memory; this repo exists so a define_class call
// survives a restart.
type ClassRepo struct {
	db     *DB
	writer *raftwrite.Writer
}

func NewClassRepo(db *DB, writer *raftwrite.Writer) *ClassRepo {
	return &ClassRepo{db: db, writer: writer}
}

// Persist writes def across the three normalised tables. Per SPEC_FULL.md's
// Open Question decision (see DESIGN.md), define_class IS replicated
// through Raft so every node's persisted class set matches its in-memory
// registry after a restart.
func (r *ClassRepo) Persist(ctx context.Context, def class.Def) error {
	resp, err := r.writer.Submit(ctx, raftwrite.Request{
		SQL: `INSERT INTO classes (name, parent) VALUES ($1,$2)
		      ON CONFLICT (name) DO UPDATE SET parent = $2`,
		Params: []any{def.Name, nullableString(def.Parent)},
	})
	if err != nil {
		return apperr.Wrap(apperr.TransportFailure, "submit define_class", err)
	}
	if !resp.Success {
		return apperr.New(apperr.StorageFailure, resp.Error)
	}

	if _, err := r.writer.Submit(ctx, raftwrite.Request{
		SQL:    `DELETE FROM class_properties WHERE class_name = $1`,
		Params: []any{def.Name},
	}); err != nil {
		return apperr.Wrap(apperr.TransportFailure, "submit clear properties", err)
	}
	for k, v := range def.Properties {
		val, err := marshalProps(map[string]any{"v": v})
		if err != nil {
			return apperr.Wrap(apperr.ValidationFailure, "marshal class property", err)
		}
		if _, err := r.writer.Submit(ctx, raftwrite.Request{
			SQL:    `INSERT INTO class_properties (class_name, key, value) VALUES ($1,$2,$3)`,
			Params: []any{def.Name, k, val},
		}); err != nil {
			return apperr.Wrap(apperr.TransportFailure, "submit class property", err)
		}
	}

	if _, err := r.writer.Submit(ctx, raftwrite.Request{
		SQL:    `DELETE FROM class_handlers WHERE class_name = $1`,
		Params: []any{def.Name},
	}); err != nil {
		return apperr.Wrap(apperr.TransportFailure, "submit clear handlers", err)
	}
	for _, h := range def.Handlers {
		if _, err := r.writer.Submit(ctx, raftwrite.Request{
			SQL:    `INSERT INTO class_handlers (class_name, handler) VALUES ($1,$2)`,
			Params: []any{def.Name, h},
		}); err != nil {
			return apperr.Wrap(apperr.TransportFailure, "submit class handler", err)
		}
	}
	return nil
}

// LoadAll reconstructs every persisted class definition, used at startup to
// repopulate the in-memory class.Registry beyond its ten built-ins.
func (r *ClassRepo) LoadAll(ctx context.Context) ([]class.Def, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT name, parent FROM classes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make(map[string]*class.Def)
	var order []string
	for rows.Next() {
		var name string
		var parent *string
		if err := rows.Scan(&name, &parent); err != nil {
			return nil, err
		}
		d := &class.Def{Name: name, Properties: map[string]any{}}
		if parent != nil {
			d.Parent = *parent
		}
		defs[name] = d
		order = append(order, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	propRows, err := r.db.Pool.Query(ctx, `SELECT class_name, key, value FROM class_properties`)
	if err != nil {
		return nil, err
	}
	defer propRows.Close()
	for propRows.Next() {
		var className, key string
		var raw []byte
		if err := propRows.Scan(&className, &key, &raw); err != nil {
			return nil, err
		}
		if d, ok := defs[className]; ok {
			var wrapper map[string]any
			if err := unmarshalInto(raw, &wrapper); err != nil {
				return nil, err
			}
			d.Properties[key] = wrapper["v"]
		}
	}

	handlerRows, err := r.db.Pool.Query(ctx, `SELECT class_name, handler FROM class_handlers`)
	if err != nil {
		return nil, err
	}
	defer handlerRows.Close()
	for handlerRows.Next() {
		var className, handler string
		if err := handlerRows.Scan(&className, &handler); err != nil {
			return nil, err
		}
		if d, ok := defs[className]; ok {
			d.Handlers = append(d.Handlers, handler)
		}
	}

	out := make([]class.Def, 0, len(order))
	for _, name := range order {
		out = append(out, *defs[name])
	}
	return out, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
