package class

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinsSeeded(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"thing", "item", "living", "room", "region", "weapon", "armor", "container", "player", "npc"} {
		_, ok := r.Get(name)
		assert.True(t, ok, name)
	}
}

func TestIsAChainWalk(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.IsA("weapon", "item"))
	assert.True(t, r.IsA("weapon", "thing"))
	assert.False(t, r.IsA("weapon", "armor"))
}

func TestResolvePropertiesChildOverridesParent(t *testing.T) {
	r := NewRegistry()
	r.Register(Def{Name: "thing", Properties: map[string]any{"visible": true, "weight": 1}})
	r.Register(Def{Name: "sword", Parent: "weapon", Properties: map[string]any{"weight": 5, "sharp": true}})

	props, ok := r.ResolveProperties("sword")
	require.True(t, ok)
	assert.Equal(t, 5, props["weight"])
	assert.Equal(t, true, props["visible"])
	assert.Equal(t, true, props["sharp"])
}

func TestResolveHandlersDeduped(t *testing.T) {
	r := NewRegistry()
	r.Register(Def{Name: "item", Parent: "thing", Handlers: []string{"look", "take"}})
	r.Register(Def{Name: "weapon", Parent: "item", Handlers: []string{"take", "wield"}})

	handlers, ok := r.ResolveHandlers("weapon")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"look", "take", "wield"}, handlers)
}

func TestUnknownClassReturnsFalse(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nonexistent")
	assert.False(t, ok)
	_, ok = r.ResolveProperties("nonexistent")
	assert.False(t, ok)
}
