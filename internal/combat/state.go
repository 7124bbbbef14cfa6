// Package combat implements hit points, damage resolution, attack rolls,
// and PvP policy (§4.I). It follows the teacher's calculation-bridge shapes
// in internal/scripting/engine.go (typed request struct in, typed result
// struct out) but performs the arithmetic natively instead of delegating to
// Lua, since these are host-side primitives the sandbox later calls into.
package combat

import (
	"math/rand/v2"
	"sync"
)

// RNGRoller is the production Roller: a d20 and NdM+K draw backed by a
// caller-supplied *rand.Rand, so the Game API's set_rng_seed hook can make
// an entire combat sequence deterministic for testing.
type RNGRoller struct {
	Rng *rand.Rand
}

func (r RNGRoller) RollD20() int { return RollD20(r.Rng) }

func (r RNGRoller) RollDamage(d DiceRoll) int { return d.Roll(r.Rng) }

// State is per-entity transient combat data plus hit points.
type State struct {
	HP           int
	MaxHP        int
	ArmorClass   int
	AttackBonus  int
	InCombat     bool
	TargetID     string
	Attackers    map[string]bool
	DamageProfile Profile
}

func NewState(maxHP, ac, attackBonus int) *State {
	return &State{
		HP: maxHP, MaxHP: maxHP, ArmorClass: ac, AttackBonus: attackBonus,
		Attackers: make(map[string]bool),
	}
}

// TakeDamage subtracts Final from hp and returns the damage Result.
func (s *State) TakeDamage(amount int, t DamageType, critical bool) Result {
	res := ApplyDamage(s.DamageProfile, amount, t, critical)
	s.HP -= res.Final
	return res
}

// Heal increases hp clamped to MaxHP.
func (s *State) Heal(amount int) {
	s.HP += amount
	if s.HP > s.MaxHP {
		s.HP = s.MaxHP
	}
}

// AttackResult is produced by ResolveAttack.
type AttackResult struct {
	Roll        int
	AttackTotal int
	TargetAC    int
	Hit         bool
	Critical    bool
	Fumble      bool
	Damage      *Result
}

// NewAttackResult computes hit/critical/fumble from a pre-rolled d20, the
// attacker's bonus, and the defender's AC — the pure function named by the
// testable-properties scenarios (AttackResult::new(roll, bonus, ac)).
func NewAttackResult(roll, attackBonus, targetAC int) AttackResult {
	critical := IsCritical(roll)
	fumble := IsFumble(roll)
	total := roll + attackBonus
	hit := critical || (!fumble && total >= targetAC)
	return AttackResult{
		Roll: roll, AttackTotal: total, TargetAC: targetAC,
		Hit: hit, Critical: critical, Fumble: fumble,
	}
}

// Manager owns the combat-relationship graph and serialises attacks behind
// a single write lock, matching §5's "write lock for the duration of an
// attack" rule.
type Manager struct {
	mu      sync.Mutex
	states  map[string]*State
	roller  Roller
}

// Roller abstracts the d20 + damage draw so callers can inject a seeded RNG
// (scripts may override the seed via the Game API's set_rng_seed, a
// wizard-only test hook).
type Roller interface {
	RollD20() int
	RollDamage(d DiceRoll) int
}

func NewManager(roller Roller) *Manager {
	return &Manager{states: make(map[string]*State), roller: roller}
}

func (m *Manager) Put(id string, s *State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = s
}

func (m *Manager) Get(id string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	return s, ok
}

// EnsureState returns id's registered State, lazily registering one seeded
// from maxHP/ac/attackBonus on first use — entities never explicitly `Put`
// (the common case for players/NPCs the Command Dispatcher resolves an
// attack against) still get a combat presence the first time they take part
// in one, instead of ResolveAttack/Initiate failing with errUnknownEntity.
func (m *Manager) EnsureState(id string, maxHP, ac, attackBonus int) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[id]; ok {
		return s
	}
	s := NewState(maxHP, ac, attackBonus)
	m.states[id] = s
	return s
}

// Initiate sets attacker.TargetID and adds attacker into defender.Attackers.
func (m *Manager) Initiate(attackerID, defenderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.states[attackerID]; ok {
		a.TargetID = defenderID
		a.InCombat = true
	}
	if d, ok := m.states[defenderID]; ok {
		d.Attackers[attackerID] = true
		d.InCombat = true
	}
}

// EndCombat stops entity attacking and removes it from its current target's
// attackers.
func (m *Manager) EndCombat(entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[entityID]
	if !ok {
		return
	}
	if s.TargetID != "" {
		if t, ok := m.states[s.TargetID]; ok {
			delete(t.Attackers, entityID)
		}
	}
	s.TargetID = ""
	s.InCombat = len(s.Attackers) > 0
}

// RemoveEntity unwires all relationships referencing id and purges its
// state, called when an object is destroyed.
func (m *Manager) RemoveEntity(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[id]; ok {
		for other := range s.Attackers {
			if o, ok := m.states[other]; ok && o.TargetID == id {
				o.TargetID = ""
			}
		}
	}
	for _, s := range m.states {
		if s.TargetID == id {
			s.TargetID = ""
		}
		delete(s.Attackers, id)
	}
	delete(m.states, id)
}

// ResolveAttack rolls a d20, resolves hit/crit/fumble, and on a hit applies
// damage to the defender, all under the manager's write lock.
func (m *Manager) ResolveAttack(attackerID, defenderID string, amount int, t DamageType) (AttackResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attacker, ok := m.states[attackerID]
	if !ok {
		return AttackResult{}, errUnknownEntity(attackerID)
	}
	defender, ok := m.states[defenderID]
	if !ok {
		return AttackResult{}, errUnknownEntity(defenderID)
	}
	roll := m.roller.RollD20()
	res := NewAttackResult(roll, attacker.AttackBonus, defender.ArmorClass)
	if res.Hit {
		dmg := defender.TakeDamage(amount, t, res.Critical)
		res.Damage = &dmg
	}
	return res, nil
}

type unknownEntityError struct{ id string }

func (e *unknownEntityError) Error() string { return "combat: unknown entity: " + e.id }

func errUnknownEntity(id string) error { return &unknownEntityError{id: id} }

// PvPPolicy is the per-universe switch controlling player-vs-player damage.
type PvPPolicy string

const (
	PvPDisabled  PvPPolicy = "disabled"
	PvPArenaOnly PvPPolicy = "arena_only"
	PvPFlagged   PvPPolicy = "flagged"
	PvPOpen      PvPPolicy = "open"
)
