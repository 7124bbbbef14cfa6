package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/mudd/mudcore/internal/apperr"
)

func TestRunCallsHandlerAndReturnsValue(t *testing.T) {
	inv := New(DefaultBudgets())
	defer inv.Close()

	ret, err := inv.Run(context.Background(), `
		function on_look(arg)
			return arg.verb
		end
	`, "on_look", argsTable(inv, map[string]string{"verb": "look"}))
	require.NoError(t, err)
	assert.Equal(t, "look", lua.LVAsString(ret))
}

func TestRunMissingHandlerIsNotFound(t *testing.T) {
	inv := New(DefaultBudgets())
	defer inv.Close()

	_, err := inv.Run(context.Background(), `x = 1`, "missing_handler", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestRunTimesOutOnInfiniteLoop(t *testing.T) {
	b := DefaultBudgets()
	b.Timeout = 20 * time.Millisecond
	inv := New(b)
	defer inv.Close()

	_, err := inv.Run(context.Background(), `
		function on_tick(arg)
			while true do end
		end
	`, "on_tick", nil)
	require.Error(t, err)
}

func TestDangerousGlobalsAreStripped(t *testing.T) {
	inv := New(DefaultBudgets())
	defer inv.Close()

	ret, err := inv.Run(context.Background(), `
		function on_check(arg)
			return tostring(load)
		end
	`, "on_check", nil)
	require.NoError(t, err)
	assert.Equal(t, "nil", lua.LVAsString(ret))
}

func TestRecordDBQueryEnforcesBudget(t *testing.T) {
	inv := New(DefaultBudgets())
	defer inv.Close()
	inv.budgets.MaxDBQueries = 1

	require.NoError(t, inv.RecordDBQuery(false))
	assert.Error(t, inv.RecordDBQuery(false))
}

func argsTable(inv *Invocation, fields map[string]string) *lua.LTable {
	t := inv.VM().NewTable()
	for k, v := range fields {
		t.RawSetString(k, lua.LString(v))
	}
	return t
}
