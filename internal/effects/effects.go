// Package effects implements status effects: stacking/refresh semantics,
// per-tick damage-over-time and regeneration, and action-prevention checks
// (§4.J).
package effects

import (
	"sync"

	"github.com/mudd/mudcore/internal/combat"
)

type Type string

const (
	Poisoned      Type = "poisoned"
	Stunned       Type = "stunned"
	Blinded       Type = "blinded"
	Burning       Type = "burning"
	Frozen        Type = "frozen"
	Paralyzed     Type = "paralyzed"
	Slowed        Type = "slowed"
	Hasted        Type = "hasted"
	Strengthened  Type = "strengthened"
	Weakened      Type = "weakened"
	Protected     Type = "protected"
	Exposed       Type = "exposed"
	Invisible     Type = "invisible"
	Regenerating  Type = "regenerating"
	Silenced      Type = "silenced"
)

// PreventsAction is true for effects that stop the entity from acting.
func (t Type) PreventsAction() bool {
	return t == Stunned || t == Paralyzed
}

var debuffs = map[Type]bool{
	Poisoned: true, Stunned: true, Blinded: true, Burning: true,
	Frozen: true, Paralyzed: true, Slowed: true, Weakened: true,
	Exposed: true, Silenced: true,
}

func (t Type) IsDebuff() bool { return debuffs[t] }

// Effect is a transient modifier applied to an entity.
type Effect struct {
	Type           Type
	RemainingTicks int
	Magnitude      int
	DamageType     combat.DamageType
	SourceID       string
}

// isDamageOverTime reports whether ticking this effect emits damage.
func (e Effect) isDamageOverTime() bool {
	switch e.Type {
	case Poisoned, Burning:
		return true
	default:
		return false
	}
}

// TickEvent is emitted by TickAll for damage-over-time and regeneration
// effects: a positive magnitude is damage of DamageType, a negative
// magnitude (from Regenerating) is healing.
type TickEvent struct {
	Magnitude  int
	DamageType combat.DamageType
}

// entityEffects holds the effect list for one entity.
type entityEffects struct {
	list []Effect
}

// Manager owns per-entity effect lists, write-locked for the duration of
// add/tick operations matching the discipline used by the Combat Manager.
type Manager struct {
	mu      sync.Mutex
	byEntity map[string]*entityEffects
}

func NewManager() *Manager {
	return &Manager{byEntity: make(map[string]*entityEffects)}
}

// Add refreshes an existing effect of the same type by taking the maximum
// of remaining ticks and magnitude, or appends a new one.
func (m *Manager) Add(entityID string, eff Effect) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ee := m.byEntity[entityID]
	if ee == nil {
		ee = &entityEffects{}
		m.byEntity[entityID] = ee
	}
	for i := range ee.list {
		if ee.list[i].Type == eff.Type {
			if eff.RemainingTicks > ee.list[i].RemainingTicks {
				ee.list[i].RemainingTicks = eff.RemainingTicks
			}
			if eff.Magnitude > ee.list[i].Magnitude {
				ee.list[i].Magnitude = eff.Magnitude
			}
			return
		}
	}
	ee.list = append(ee.list, eff)
}

// List returns a copy of entityID's current effects.
func (m *Manager) List(entityID string) []Effect {
	m.mu.Lock()
	defer m.mu.Unlock()
	ee := m.byEntity[entityID]
	if ee == nil {
		return nil
	}
	return append([]Effect(nil), ee.list...)
}

// CanAct reports false iff any active effect prevents action.
func (m *Manager) CanAct(entityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ee := m.byEntity[entityID]
	if ee == nil {
		return true
	}
	for _, e := range ee.list {
		if e.Type.PreventsAction() {
			return false
		}
	}
	return true
}

// TickAll decrements remaining ticks for entityID's effects, emits events
// for damage-over-time and regeneration, and removes expired entries.
func (m *Manager) TickAll(entityID string) []TickEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	ee := m.byEntity[entityID]
	if ee == nil {
		return nil
	}
	var events []TickEvent
	kept := ee.list[:0]
	for _, e := range ee.list {
		e.RemainingTicks--
		if e.isDamageOverTime() {
			events = append(events, TickEvent{Magnitude: e.Magnitude, DamageType: e.DamageType})
		} else if e.Type == Regenerating {
			events = append(events, TickEvent{Magnitude: -e.Magnitude, DamageType: combat.Physical})
		}
		if e.RemainingTicks > 0 {
			kept = append(kept, e)
		}
	}
	ee.list = kept
	return events
}

// RemoveEntity purges all effect state for the entity.
func (m *Manager) RemoveEntity(entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byEntity, entityID)
}
