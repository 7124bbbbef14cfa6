package effects

import (
	"testing"

	"github.com/mudd/mudcore/internal/combat"
	"github.com/stretchr/testify/assert"
)

func TestAddRefreshesToMax(t *testing.T) {
	m := NewManager()
	m.Add("p1", Effect{Type: Poisoned, RemainingTicks: 3, Magnitude: 2, DamageType: combat.Poison})
	m.Add("p1", Effect{Type: Poisoned, RemainingTicks: 5, Magnitude: 1, DamageType: combat.Poison})

	list := m.List("p1")
	assert.Len(t, list, 1)
	assert.Equal(t, 5, list[0].RemainingTicks)
	assert.Equal(t, 2, list[0].Magnitude)
}

func TestCanActFalseWhenStunned(t *testing.T) {
	m := NewManager()
	m.Add("p1", Effect{Type: Stunned, RemainingTicks: 1})
	assert.False(t, m.CanAct("p1"))
}

func TestCanActTrueByDefault(t *testing.T) {
	m := NewManager()
	assert.True(t, m.CanAct("nobody"))
}

func TestTickAllEmitsDamageAndExpires(t *testing.T) {
	m := NewManager()
	m.Add("p1", Effect{Type: Burning, RemainingTicks: 1, Magnitude: 5, DamageType: combat.Fire})

	events := m.TickAll("p1")
	assert.Len(t, events, 1)
	assert.Equal(t, 5, events[0].Magnitude)
	assert.Equal(t, combat.Fire, events[0].DamageType)
	assert.Empty(t, m.List("p1")) // expired after hitting zero ticks
}

func TestTickAllRegeneratingEmitsNegativeMagnitude(t *testing.T) {
	m := NewManager()
	m.Add("p1", Effect{Type: Regenerating, RemainingTicks: 5, Magnitude: 3})
	events := m.TickAll("p1")
	assert.Equal(t, -3, events[0].Magnitude)
}

func TestPreventsActionClosedSet(t *testing.T) {
	assert.True(t, Stunned.PreventsAction())
	assert.True(t, Paralyzed.PreventsAction())
	assert.False(t, Poisoned.PreventsAction())
}
