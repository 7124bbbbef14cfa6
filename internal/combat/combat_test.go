package combat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDice(t *testing.T) {
	d, err := ParseDice("2d6+3")
	require.NoError(t, err)
	assert.Equal(t, DiceRoll{Count: 2, Sides: 6, Modifier: 3}, d)
	assert.Equal(t, 5, d.Min())
	assert.Equal(t, 15, d.Max())
}

func TestParseDiceDefaultsCountToOne(t *testing.T) {
	d, err := ParseDice("d20")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Count)
}

func TestParseDiceRejectsGarbage(t *testing.T) {
	_, err := ParseDice("not-dice")
	assert.Error(t, err)
}

func TestDamageModifiers(t *testing.T) {
	assert.Equal(t, 0, Immune.Apply(10))
	assert.Equal(t, 5, Resistant.Apply(10))
	assert.Equal(t, 10, Normal.Apply(10))
	assert.Equal(t, 20, Vulnerable.Apply(10))
}

func TestAttackResultScenarios(t *testing.T) {
	r := NewAttackResult(20, 5, 15)
	assert.True(t, r.Hit)
	assert.True(t, r.Critical)

	r = NewAttackResult(1, 5, 5)
	assert.False(t, r.Hit)
	assert.True(t, r.Fumble)

	r = NewAttackResult(15, 5, 18)
	assert.True(t, r.Hit)
	assert.False(t, r.Critical)

	r = NewAttackResult(10, 3, 18)
	assert.False(t, r.Hit)
}

func TestTakeDamageAndHeal(t *testing.T) {
	s := NewState(100, 15, 5)
	res := s.TakeDamage(20, Physical, false)
	assert.Equal(t, 20, res.Final)
	assert.Equal(t, 80, s.HP)
	s.Heal(1000)
	assert.Equal(t, 100, s.HP)
}

type fixedRoller struct{ d20 int }

func (f fixedRoller) RollD20() int               { return f.d20 }
func (f fixedRoller) RollDamage(d DiceRoll) int   { return d.Max() }

func TestManagerResolveAttackHit(t *testing.T) {
	m := NewManager(fixedRoller{d20: 20})
	m.Put("attacker", NewState(50, 10, 5))
	m.Put("defender", NewState(50, 10, 0))

	res, err := m.ResolveAttack("attacker", "defender", 10, Slashing)
	require.NoError(t, err)
	assert.True(t, res.Hit)
	require.NotNil(t, res.Damage)
	assert.Equal(t, 20, res.Damage.Final) // critical doubles 10 -> 20
}

func TestManagerCombatRelationships(t *testing.T) {
	m := NewManager(fixedRoller{d20: 10})
	m.Put("a", NewState(10, 10, 0))
	m.Put("b", NewState(10, 10, 0))
	m.Initiate("a", "b")

	a, _ := m.Get("a")
	b, _ := m.Get("b")
	assert.Equal(t, "b", a.TargetID)
	assert.True(t, b.Attackers["a"])

	m.EndCombat("a")
	a, _ = m.Get("a")
	assert.Equal(t, "", a.TargetID)
	b, _ = m.Get("b")
	assert.False(t, b.Attackers["a"])
}

func TestManagerRemoveEntityPurges(t *testing.T) {
	m := NewManager(fixedRoller{d20: 10})
	m.Put("a", NewState(10, 10, 0))
	m.Put("b", NewState(10, 10, 0))
	m.Initiate("a", "b")
	m.RemoveEntity("b")

	_, ok := m.Get("b")
	assert.False(t, ok)
	a, _ := m.Get("a")
	assert.Equal(t, "", a.TargetID)
}

func TestEnsureStateRegistersOnFirstUse(t *testing.T) {
	m := NewManager(fixedRoller{d20: 10})
	s := m.EnsureState("npc-1", 30, 12, 2)
	assert.Equal(t, 30, s.HP)
	assert.Equal(t, 30, s.MaxHP)
	assert.Equal(t, 12, s.ArmorClass)
	assert.Equal(t, 2, s.AttackBonus)

	_, ok := m.Get("npc-1")
	assert.True(t, ok)
}

func TestEnsureStateReturnsExistingState(t *testing.T) {
	m := NewManager(fixedRoller{d20: 10})
	m.Put("npc-1", NewState(5, 10, 0))
	m.Get("npc-1")

	s := m.EnsureState("npc-1", 999, 999, 999)
	assert.Equal(t, 5, s.HP)
	assert.Equal(t, 5, s.MaxHP)
}
