// Package credit implements the Credit Manager (§4.K): an in-memory cache
// over persist.CreditRepo so get_credits doesn't round-trip to storage on
// every script call, with writes flowing through the repo's Raft-backed
// upsert.
package credit

import (
	"context"
	"sync"

	"github.com/mudd/mudcore/internal/persist"
)

type balanceKey struct {
	universeID string
	accountID  string
}

// Manager caches balances per (universe, account), loading lazily from
// persist.CreditRepo on a cache miss.
type Manager struct {
	mu    sync.Mutex
	repo  *persist.CreditRepo
	wal   *persist.CreditWALRepo
	cache map[balanceKey]int64
}

func NewManager(repo *persist.CreditRepo) *Manager {
	return &Manager{repo: repo, cache: make(map[balanceKey]int64)}
}

// SetWAL attaches a write-ahead log that Deduct and Grant record every
// balance delta to before applying it, so a crash mid-write leaves a
// recoverable trail rather than a silently lost delta (§10).
func (m *Manager) SetWAL(wal *persist.CreditWALRepo) {
	m.wal = wal
}

func (m *Manager) load(ctx context.Context, key balanceKey) int64 {
	m.mu.Lock()
	if bal, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return bal
	}
	m.mu.Unlock()

	bal, err := m.repo.Load(ctx, key.universeID, key.accountID)
	if err != nil {
		return 0
	}
	m.mu.Lock()
	m.cache[key] = bal
	m.mu.Unlock()
	return bal
}

// GetBalance returns the cached balance, loading from storage on first use.
// Errors loading from storage are treated as a zero balance rather than
// propagated, matching the Game API's get_credits signature (no error
// return named in §4.G).
func (m *Manager) GetBalance(universeID, accountID string) int64 {
	return m.load(context.Background(), balanceKey{universeID, accountID})
}

// Deduct attempts to subtract amount from the account's balance, refusing
// (returning false, balance unchanged) if the balance would go negative.
func (m *Manager) Deduct(ctx context.Context, universeID, accountID string, amount int64, reason string) bool {
	key := balanceKey{universeID, accountID}
	current := m.load(ctx, key)
	if current < amount {
		return false
	}
	newBalance := current - amount

	walID, walErr := m.writeWAL(ctx, universeID, accountID, -amount, reason)
	if err := m.repo.SetBalance(ctx, universeID, accountID, newBalance); err != nil {
		return false
	}
	m.markWALApplied(ctx, walID, walErr)

	m.mu.Lock()
	m.cache[key] = newBalance
	m.mu.Unlock()
	return true
}

// Grant adds amount to the account's balance; only callable by wizard+
// access per the Game API's admin_grant_credits permission gate.
func (m *Manager) Grant(ctx context.Context, universeID, accountID string, amount int64, reason string) error {
	key := balanceKey{universeID, accountID}
	current := m.load(ctx, key)
	newBalance := current + amount

	walID, walErr := m.writeWAL(ctx, universeID, accountID, amount, reason)
	if err := m.repo.SetBalance(ctx, universeID, accountID, newBalance); err != nil {
		return err
	}
	m.markWALApplied(ctx, walID, walErr)

	m.mu.Lock()
	m.cache[key] = newBalance
	m.mu.Unlock()
	return nil
}

// writeWAL records a pending delta before it is applied. A WAL write
// failure is not fatal to the balance change itself (the cache+repo path
// is still the source of truth) — it only means recovery can't see this
// entry, which is surfaced via walErr to markWALApplied for logging-free
// best-effort bookkeeping.
func (m *Manager) writeWAL(ctx context.Context, universeID, accountID string, delta int64, reason string) (string, error) {
	if m.wal == nil {
		return "", nil
	}
	return m.wal.WriteEntry(ctx, universeID, accountID, delta, reason)
}

func (m *Manager) markWALApplied(ctx context.Context, walID string, walErr error) {
	if m.wal == nil || walErr != nil || walID == "" {
		return
	}
	_ = m.wal.MarkApplied(ctx, walID)
}

// SetBalance overwrites the cached and persisted balance directly, used by
// administrative tooling outside the Game API's deduct/grant deltas.
func (m *Manager) SetBalance(ctx context.Context, universeID, accountID string, balance int64) error {
	if err := m.repo.SetBalance(ctx, universeID, accountID, balance); err != nil {
		return err
	}
	m.mu.Lock()
	m.cache[balanceKey{universeID, accountID}] = balance
	m.mu.Unlock()
	return nil
}
