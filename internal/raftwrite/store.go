package raftwrite

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/raft"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLogStore implements raft.LogStore and raft.StableStore against
// the raft_log/raft_vote/raft_meta tables named in §6, so the replicated
// log lives in the same database the FSM applies to (see SPEC_FULL.md §4.D
// for why this deviates from raft-boltdb's log-plus-snapshot-in-bbolt
// design).
type PostgresLogStore struct {
	pool *pgxpool.Pool
}

func NewPostgresLogStore(pool *pgxpool.Pool) *PostgresLogStore {
	return &PostgresLogStore{pool: pool}
}

func (s *PostgresLogStore) FirstIndex() (uint64, error) {
	var idx *uint64
	err := s.pool.QueryRow(context.Background(),
		`SELECT MIN(log_index) FROM raft_log`).Scan(&idx)
	if err != nil {
		return 0, err
	}
	if idx == nil {
		return 0, nil
	}
	return *idx, nil
}

func (s *PostgresLogStore) LastIndex() (uint64, error) {
	var idx *uint64
	err := s.pool.QueryRow(context.Background(),
		`SELECT MAX(log_index) FROM raft_log`).Scan(&idx)
	if err != nil {
		return 0, err
	}
	if idx == nil {
		return 0, nil
	}
	return *idx, nil
}

func (s *PostgresLogStore) GetLog(index uint64, log *raft.Log) error {
	var term uint64
	var entryType uint8
	var payload []byte
	err := s.pool.QueryRow(context.Background(),
		`SELECT term, entry_type, payload FROM raft_log WHERE log_index = $1`, index,
	).Scan(&term, &entryType, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return raft.ErrLogNotFound
	}
	if err != nil {
		return err
	}
	log.Index = index
	log.Term = term
	log.Type = raft.LogType(entryType)
	log.Data = payload
	return nil
}

// StoreLog is transactional per the teacher's WALRepo.WriteWAL pattern
// (begin, exec, commit; rollback deferred) generalised to a single row.
func (s *PostgresLogStore) StoreLog(log *raft.Log) error {
	return s.StoreLogs([]*raft.Log{log})
}

func (s *PostgresLogStore) StoreLogs(logs []*raft.Log) error {
	ctx := context.Background()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, l := range logs {
		_, err := tx.Exec(ctx,
			`INSERT INTO raft_log (log_index, term, entry_type, payload)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (log_index) DO UPDATE SET term = $2, entry_type = $3, payload = $4`,
			l.Index, l.Term, uint8(l.Type), l.Data,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// DeleteRange removes log entries in [min, max] inclusive — used both for
// conflict-delete (truncating a divergent suffix) and purge (trimming a
// compacted prefix).
func (s *PostgresLogStore) DeleteRange(min, max uint64) error {
	_, err := s.pool.Exec(context.Background(),
		`DELETE FROM raft_log WHERE log_index BETWEEN $1 AND $2`, min, max)
	return err
}

// StableStore: arbitrary key/value pairs in raft_meta, the library's vote
// and term keys included; the raft_vote table is not used.

func (s *PostgresLogStore) Set(key []byte, val []byte) error {
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO raft_meta (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = $2`, string(key), val)
	return err
}

func (s *PostgresLogStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.pool.QueryRow(context.Background(),
		`SELECT value FROM raft_meta WHERE key = $1`, string(key)).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("raftwrite: key not found")
	}
	return val, err
}

func (s *PostgresLogStore) SetUint64(key []byte, val uint64) error {
	return s.Set(key, []byte(fmt.Sprintf("%d", val)))
}

func (s *PostgresLogStore) GetUint64(key []byte) (uint64, error) {
	val, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	var out uint64
	_, err = fmt.Sscanf(string(val), "%d", &out)
	return out, err
}

// MetaStore tracks last_applied in raft_meta, recorded by the FSM after
// every Apply (§4.D "log storage"); last_purged is not recorded.
type MetaStore struct {
	pool *pgxpool.Pool
}

func NewMetaStore(pool *pgxpool.Pool) *MetaStore { return &MetaStore{pool: pool} }

func (m *MetaStore) SetLastApplied(ctx context.Context, index uint64) error {
	_, err := m.pool.Exec(ctx,
		`INSERT INTO raft_meta (key, value) VALUES ('last_applied', $1)
		 ON CONFLICT (key) DO UPDATE SET value = $1`, fmt.Sprintf("%d", index))
	return err
}

func (m *MetaStore) LastApplied(ctx context.Context) (uint64, error) {
	var val string
	err := m.pool.QueryRow(ctx, `SELECT value FROM raft_meta WHERE key = 'last_applied'`).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var idx uint64
	_, err = fmt.Sscanf(val, "%d", &idx)
	return idx, err
}

