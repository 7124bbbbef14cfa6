// Package sandbox hosts a per-invocation gopher-lua VM with time, DB-query,
// and LLM-call ceilings (§4.F). The instruction and memory figures in
// Budgets are carried but not enforced.
//
// Grounded on the teacher's internal/scripting/engine.go — the same
// NewState/CallByParam/table-marshalling idiom — but where the teacher
// builds one *lua.LState for the whole process lifetime to run its own
// trusted Lua content, this sandbox builds a fresh *lua.LState per
// invocation and discards it, because the scripts it runs are untrusted
// player/builder content (see SPEC_FULL.md §4.F and the Open Question on
// VM reuse).
package sandbox

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/mudd/mudcore/internal/apperr"
)

// Budgets are the per-invocation resource ceilings.
type Budgets struct {
	MaxInstructions int
	MaxMemoryBytes  int64
	Timeout         time.Duration
	MaxDBQueries    int
	MaxLLMCalls     int
}

// DefaultBudgets matches the values named in §4.F.
func DefaultBudgets() Budgets {
	return Budgets{
		MaxInstructions: 1_000_000,
		MaxMemoryBytes:  64 * 1024 * 1024,
		Timeout:         500 * time.Millisecond,
		MaxDBQueries:    100,
		MaxLLMCalls:     5,
	}
}

// Metering is the record produced by every invocation.
type Metering struct {
	Instructions int
	DBReads      int
	DBWrites     int
	LLMCalls     int
}

// Cost is the advisory millicredit cost model: instructions/10e7 + reads +
// 10*writes + 100*llm_calls.
func (m Metering) Cost() float64 {
	return float64(m.Instructions)/10e7 + float64(m.DBReads) + 10*float64(m.DBWrites) + 100*float64(m.LLMCalls)
}

// Invocation owns one fresh VM, its metering counters, and the registered
// game-API surface for the duration of a single handler call.
type Invocation struct {
	vm       *lua.LState
	budgets  Budgets
	metering Metering
}

// New constructs a fresh, minimally-capable VM: only base/string/table/math
// are opened, never os/io/package/debug, so filesystem, subprocess,
// dynamic-load, and introspection facilities are unreachable from script
// code. The call-stack size additionally bounds runaway recursion.
func New(budgets Budgets) *Invocation {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       256,
		RegistrySize:        1024 * 8,
		IncludeGoStackTrace: false,
	})
	lua.OpenBase(vm)
	lua.OpenString(vm)
	lua.OpenTable(vm)
	lua.OpenMath(vm)

	// load/loadstring/loadfile/dofile/require would let a script pull in
	// further untrusted chunks at runtime even with package/io closed; strip
	// them from the base library explicitly.
	for _, name := range []string{"load", "loadstring", "loadfile", "dofile", "require", "collectgarbage"} {
		vm.SetGlobal(name, lua.LNil)
	}

	return &Invocation{vm: vm, budgets: budgets}
}

// Close releases the VM. An Invocation is single-use: one handler call per
// Invocation, matching the teacher's Engine.Close() lifecycle but scoped
// per-call instead of per-process.
func (inv *Invocation) Close() {
	inv.vm.Close()
}

// Run loads source (a code blob) and calls the named handler with args.
//
// The wall-clock ceiling is enforced by a deadline context that gopher-lua
// checks while the script runs (vm.SetContext); that timeout is the only
// bound on a runaway script. Budgets.MaxInstructions and MaxMemoryBytes are
// not checked, and no instruction count is kept: Metering.Instructions
// stays zero in the advisory cost model.
func (inv *Invocation) Run(ctx context.Context, source, handlerName string, args *lua.LTable) (lua.LValue, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.budgets.Timeout)
	defer cancel()
	inv.vm.SetContext(ctx)

	if err := inv.vm.DoString(source); err != nil {
		return nil, apperr.Wrap(apperr.ValidationFailure, "script load failed", err)
	}

	fn := inv.vm.GetGlobal(handlerName)
	if fn == lua.LNil || fn.Type() != lua.LTFunction {
		return nil, apperr.New(apperr.NotFound, "handler not found: "+handlerName)
	}

	var callArg lua.LValue = lua.LNil
	if args != nil {
		callArg = args
	}

	err := inv.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, callArg)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperr.New(apperr.BudgetExceeded, fmt.Sprintf("timeout exceeded: %s", inv.budgets.Timeout))
		}
		return nil, apperr.Wrap(apperr.ValidationFailure, "script error", err)
	}

	ret := inv.vm.Get(-1)
	inv.vm.Pop(1)
	return ret, nil
}

// RecordDBQuery increments the DB-query counter and returns BudgetExceeded
// once MaxDBQueries is hit, for the Game API to check before every store
// call a script triggers.
func (inv *Invocation) RecordDBQuery(write bool) error {
	if write {
		inv.metering.DBWrites++
	} else {
		inv.metering.DBReads++
	}
	if inv.metering.DBReads+inv.metering.DBWrites > inv.budgets.MaxDBQueries {
		return apperr.New(apperr.BudgetExceeded, "db query limit exceeded")
	}
	return nil
}

// RecordLLMCall increments the LLM-call counter and returns BudgetExceeded
// once MaxLLMCalls is hit.
func (inv *Invocation) RecordLLMCall() error {
	inv.metering.LLMCalls++
	if inv.metering.LLMCalls > inv.budgets.MaxLLMCalls {
		return apperr.New(apperr.BudgetExceeded, "llm call limit exceeded")
	}
	return nil
}

// Metering returns the counters accumulated by this invocation so far.
func (inv *Invocation) Metering() Metering { return inv.metering }

// VM exposes the underlying *lua.LState so the Game API package can
// register its capability surface as Lua globals/tables before Run is
// called.
func (inv *Invocation) VM() *lua.LState { return inv.vm }
