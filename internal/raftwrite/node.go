package raftwrite

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/raft"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Config carries the node's identity, addresses and snapshot directory.
// The Raft tuning (500ms heartbeat, 1.5-3s election timeout, snapshot
// threshold of 1000 entries since last) is fixed in Bootstrap.
type Config struct {
	NodeID    string
	BindAddr  string
	Peers     []string // other nodes' addresses; len==1 total cluster implies single-node mode
	SnapshotDir string
}

// Node wires together the FSM, Postgres-backed log/stable store, the HTTP
// transport, and the hashicorp/raft library into a running Raft node.
type Node struct {
	Raft      *raft.Raft
	Transport *HTTPTransport
	Writer    *Writer
}

func Bootstrap(cfg Config, pool *pgxpool.Pool, log *zap.Logger) (*Node, error) {
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.HeartbeatTimeout = 500 * time.Millisecond
	raftCfg.ElectionTimeout = 1500 * time.Millisecond // jittered up to 3000ms by the library itself
	raftCfg.LeaderLeaseTimeout = 500 * time.Millisecond
	raftCfg.SnapshotThreshold = 1000
	raftCfg.Logger = newHCLogAdapter(log)

	meta := NewMetaStore(pool)
	fsm := NewFSM(pool, meta, log)
	logStore := NewPostgresLogStore(pool)

	if err := os.MkdirAll(cfg.SnapshotDir, 0o755); err != nil {
		return nil, fmt.Errorf("raftwrite: snapshot dir: %w", err)
	}
	snapStore, err := raft.NewFileSnapshotStore(cfg.SnapshotDir, 3, nil)
	if err != nil {
		return nil, fmt.Errorf("raftwrite: snapshot store: %w", err)
	}

	transport := NewHTTPTransport(cfg.BindAddr)

	r, err := raft.NewRaft(raftCfg, fsm, logStore, logStore, snapStore, transport)
	if err != nil {
		return nil, fmt.Errorf("raftwrite: new raft: %w", err)
	}

	if len(cfg.Peers) == 0 {
		// Single-node mode (§4.D): bootstrap as a one-member cluster so
		// writes still traverse the log but commit immediately.
		servers := []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}}
		f := r.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := f.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("raftwrite: bootstrap: %w", err)
		}
	}

	return &Node{Raft: r, Transport: transport, Writer: NewWriter(r)}, nil
}
