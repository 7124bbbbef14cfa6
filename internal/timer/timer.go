// Package timer implements the Timer Manager (§4.H): one-shot call_outs and
// per-object heart_beats, ticked by the server's phase-ordered run loop and
// durably recorded through persist.TimerRepo so a restart resumes pending
// timers instead of losing them.
package timer

import (
	"context"
	"sync"

	"github.com/mudd/mudcore/internal/persist"
)

// FiredEvent is emitted by Tick for each timer/heartbeat whose fire time has
// elapsed; the Command Dispatcher invokes ObjectID.Method through the
// sandbox for each event.
type FiredEvent struct {
	ObjectID string
	Method   string
	Args     map[string]any
}

// HeartBeat is a recurring per-object tick, held only in memory: a
// restarted node re-registers heartbeats as objects are touched rather than
// replaying them from storage, since a heartbeat has no meaningful "catch
// up from where it left off" semantics.
type HeartBeat struct {
	ObjectID   string
	UniverseID string
	IntervalMs int64
	LastFired  int64
	Method     string
}

// Manager owns the in-memory timer/heartbeat maps, mirroring them into
// persist.TimerRepo for one-shot timers so they survive a restart.
type Manager struct {
	mu         sync.Mutex
	repo       *persist.TimerRepo
	oneShots   map[string]persist.TimerRow
	heartbeats map[string]HeartBeat
}

func NewManager(repo *persist.TimerRepo) *Manager {
	return &Manager{
		repo:       repo,
		oneShots:   make(map[string]persist.TimerRow),
		heartbeats: make(map[string]HeartBeat),
	}
}

// LoadFromDB repopulates the in-memory one-shot map from storage, called
// once at startup.
func (m *Manager) LoadFromDB(ctx context.Context) error {
	rows, err := m.repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.oneShots[r.ID] = r
	}
	return nil
}

// AddTimer registers a one-shot call_out, persisting it immediately.
func (m *Manager) AddTimer(ctx context.Context, t persist.TimerRow) error {
	if err := m.repo.Add(ctx, t); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oneShots[t.ID] = t
	return nil
}

// RemoveTimer cancels a pending one-shot by id.
func (m *Manager) RemoveTimer(ctx context.Context, id string) error {
	if err := m.repo.Remove(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.oneShots, id)
	return nil
}

// RemoveTimersForObject cancels every pending one-shot belonging to
// objectID, called when the object is destroyed.
func (m *Manager) RemoveTimersForObject(ctx context.Context, objectID string) error {
	if err := m.repo.RemoveForObject(ctx, objectID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.oneShots {
		if t.ObjectID == objectID {
			delete(m.oneShots, id)
		}
	}
	delete(m.heartbeats, objectID)
	return nil
}

// SetHeartbeat registers or replaces objectID's recurring tick.
func (m *Manager) SetHeartbeat(hb HeartBeat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[hb.ObjectID] = hb
}

// RemoveHeartbeat cancels objectID's recurring tick, if any.
func (m *Manager) RemoveHeartbeat(objectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.heartbeats, objectID)
}

// Tick scans one-shots and heartbeats against nowMillis, returning every
// event that should fire, deleting fired one-shots and advancing fired
// heartbeats' LastFired. Persistence of the one-shot removal is the
// caller's responsibility (RemoveTimer) once the dispatcher has run the
// handler, so a crash mid-dispatch re-fires the timer rather than losing it.
func (m *Manager) Tick(nowMillis int64) []FiredEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []FiredEvent
	for id, t := range m.oneShots {
		if t.FireAt <= nowMillis {
			events = append(events, FiredEvent{ObjectID: t.ObjectID, Method: t.Method, Args: t.Args})
			delete(m.oneShots, id)
		}
	}
	for objID, hb := range m.heartbeats {
		if hb.LastFired+hb.IntervalMs <= nowMillis {
			events = append(events, FiredEvent{ObjectID: objID, Method: hb.Method})
			hb.LastFired = nowMillis
			m.heartbeats[objID] = hb
		}
	}
	return events
}
