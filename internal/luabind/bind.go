// Package luabind registers the Game API (internal/gameapi) as the "game"
// global table inside a sandboxed Lua VM (internal/sandbox).
//
// The teacher's internal/scripting/engine.go calls FROM Go INTO Lua
// (CallByParam against handler functions scripts define); this package is
// the mirror direction, exposing Go functions as Lua-callable closures via
// gopher-lua's lua.LGFunction/NewFunction, using the same
// table-in/table-out marshalling idiom the teacher's bridge methods use.
package luabind

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/mudd/mudcore/internal/apperr"
	"github.com/mudd/mudcore/internal/class"
	"github.com/mudd/mudcore/internal/gameapi"
	"github.com/mudd/mudcore/internal/perm"
	"github.com/mudd/mudcore/internal/persist"
)

// Bind installs the "game" global table on vm, with every closure bound to
// api for the lifetime of one sandbox invocation.
func Bind(vm *lua.LState, ctx context.Context, api *gameapi.API) {
	t := vm.NewTable()

	reg := func(name string, fn lua.LGFunction) {
		vm.SetField(t, name, vm.NewFunction(fn))
	}

	reg("create_object", func(L *lua.LState) int {
		path := L.CheckString(1)
		className := L.CheckString(2)
		parentID := optString(L, 3)
		props := toGoMap(L.OptTable(4, nil))
		obj, err := api.CreateObject(path, className, parentID, props)
		if err != nil {
			return raise(L, err)
		}
		L.Push(objectToTable(L, obj))
		return 1
	})

	reg("get_object", func(L *lua.LState) int {
		id := L.CheckString(1)
		obj, err := api.GetObject(id)
		if err != nil {
			return raise(L, err)
		}
		if obj == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(objectToTable(L, obj))
		return 1
	})

	reg("update_object", func(L *lua.LState) int {
		id := L.CheckString(1)
		changes := toGoMap(L.CheckTable(2))
		obj, err := api.UpdateObject(id, changes)
		if err != nil {
			return raise(L, err)
		}
		L.Push(objectToTable(L, obj))
		return 1
	})

	reg("delete_object", func(L *lua.LState) int {
		ok, err := api.DeleteObject(L.CheckString(1))
		if err != nil {
			return raise(L, err)
		}
		L.Push(lua.LBool(ok))
		return 1
	})

	reg("move_object", func(L *lua.LState) int {
		id := L.CheckString(1)
		newParent := optString(L, 2)
		if err := api.MoveObject(id, newParent); err != nil {
			return raise(L, err)
		}
		return 0
	})

	reg("clone_object", func(L *lua.LState) int {
		id := L.CheckString(1)
		newPath := L.CheckString(2)
		newParent := optString(L, 3)
		obj, err := api.CloneObject(id, newPath, newParent)
		if err != nil {
			return raise(L, err)
		}
		L.Push(objectToTable(L, obj))
		return 1
	})

	reg("get_children", func(L *lua.LState) int {
		children, err := api.GetChildren(L.CheckString(1))
		if err != nil {
			return raise(L, err)
		}
		L.Push(objectsToTable(L, children))
		return 1
	})

	reg("environment", func(L *lua.LState) int {
		obj, err := api.Environment(L.CheckString(1))
		if err != nil {
			return raise(L, err)
		}
		if obj == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(objectToTable(L, obj))
		return 1
	})

	reg("all_inventory", func(L *lua.LState) int {
		items, err := api.AllInventory(L.CheckString(1))
		if err != nil {
			return raise(L, err)
		}
		L.Push(objectsToTable(L, items))
		return 1
	})

	reg("present", func(L *lua.LState) int {
		obj, err := api.Present(L.CheckString(1), L.CheckString(2))
		if err != nil {
			return raise(L, err)
		}
		if obj == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(objectToTable(L, obj))
		return 1
	})

	reg("get_living_in", func(L *lua.LState) int {
		living, err := api.GetLivingIn(L.CheckString(1))
		if err != nil {
			return raise(L, err)
		}
		L.Push(objectsToTable(L, living))
		return 1
	})

	reg("find_by_name", func(L *lua.LState) int {
		obj, err := api.FindByName(L.CheckString(1), L.CheckString(2))
		if err != nil {
			return raise(L, err)
		}
		if obj == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(objectToTable(L, obj))
		return 1
	})

	reg("store_code", func(L *lua.LState) int {
		hash, err := api.StoreCode(L.CheckString(1))
		if err != nil {
			return raise(L, err)
		}
		L.Push(lua.LString(hash))
		return 1
	})

	reg("get_code", func(L *lua.LState) int {
		source, ok, err := api.GetCode(L.CheckString(1))
		if err != nil {
			return raise(L, err)
		}
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(source))
		return 1
	})

	reg("define_class", func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		def := class.Def{
			Name:       lStr(tbl, "name"),
			Parent:     lStr(tbl, "parent"),
			Properties: toGoMap(lTable(tbl, "properties")),
			Handlers:   lStrArray(tbl, "handlers"),
		}
		if err := api.DefineClass(def); err != nil {
			return raise(L, err)
		}
		return 0
	})

	reg("get_class", func(L *lua.LState) int {
		def, ok := api.GetClass(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(classToTable(L, def))
		return 1
	})

	reg("is_a", func(L *lua.LState) int {
		ok, err := api.IsA(L.CheckString(1), L.CheckString(2))
		if err != nil {
			return raise(L, err)
		}
		L.Push(lua.LBool(ok))
		return 1
	})

	reg("get_class_chain", func(L *lua.LState) int {
		chain, ok := api.GetClassChain(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		out := L.NewTable()
		for i, n := range chain {
			out.RawSetInt(i+1, lua.LString(n))
		}
		L.Push(out)
		return 1
	})

	reg("add_action", func(L *lua.LState) int {
		if err := api.AddAction(L.CheckString(1), L.CheckString(2), L.CheckString(3)); err != nil {
			return raise(L, err)
		}
		return 0
	})

	reg("remove_action", func(L *lua.LState) int {
		if err := api.RemoveAction(L.CheckString(1), L.CheckString(2)); err != nil {
			return raise(L, err)
		}
		return 0
	})

	reg("send", func(L *lua.LState) int {
		api.Send(L.CheckString(1), L.CheckString(2))
		return 0
	})

	reg("broadcast", func(L *lua.LState) int {
		api.Broadcast(L.CheckString(1), L.CheckString(2))
		return 0
	})

	reg("broadcast_region", func(L *lua.LState) int {
		api.BroadcastRegion(L.CheckString(1), L.CheckString(2))
		return 0
	})

	reg("check_permission", func(L *lua.LState) int {
		action := perm.Action(L.CheckString(1))
		target := L.CheckString(2)
		d, err := api.CheckPermission(action, target, false, "")
		if err != nil {
			return raise(L, err)
		}
		L.Push(lua.LBool(d.Allowed))
		L.Push(lua.LString(d.Reason))
		return 2
	})

	reg("can_access_path", func(L *lua.LState) int {
		ok, err := api.CanAccessPath(L.CheckString(1))
		if err != nil {
			return raise(L, err)
		}
		L.Push(lua.LBool(ok))
		return 1
	})

	reg("get_access_level", func(L *lua.LState) int {
		L.Push(lua.LString(api.GetAccessLevel(L.CheckString(1)).String()))
		return 1
	})

	reg("set_access_level", func(L *lua.LState) int {
		lvl, ok := perm.ParseAccessLevel(L.CheckString(2))
		if !ok {
			return raise(L, apperr.New(apperr.ValidationFailure, "unknown access level"))
		}
		if err := api.SetAccessLevel(L.CheckString(1), lvl); err != nil {
			return raise(L, err)
		}
		return 0
	})

	reg("grant_path", func(L *lua.LState) int {
		g, err := api.GrantPath(L.CheckString(1), L.CheckString(2), L.ToBool(3))
		if err != nil {
			return raise(L, err)
		}
		L.Push(lua.LString(g.ID))
		return 1
	})

	reg("revoke_path", func(L *lua.LState) int {
		if err := api.RevokePath(L.CheckString(1)); err != nil {
			return raise(L, err)
		}
		return 0
	})

	reg("get_path_grants", func(L *lua.LState) int {
		grants, err := api.GetPathGrants(L.CheckString(1))
		if err != nil {
			return raise(L, err)
		}
		out := L.NewTable()
		for i, g := range grants {
			row := L.NewTable()
			row.RawSetString("path_prefix", lua.LString(g.PathPrefix))
			row.RawSetString("can_delegate", lua.LBool(g.CanDelegate))
			out.RawSetInt(i+1, row)
		}
		L.Push(out)
		return 1
	})

	reg("set_actor", func(L *lua.LState) int {
		if err := api.SetActor(L.CheckString(1)); err != nil {
			return raise(L, err)
		}
		return 0
	})

	reg("get_actor", func(L *lua.LState) int {
		L.Push(lua.LString(api.GetActor()))
		return 1
	})

	reg("call_out", func(L *lua.LState) int {
		id, err := api.CallOut(L.CheckInt(1), L.CheckString(2), L.CheckString(3), toGoMap(L.OptTable(4, nil)))
		if err != nil {
			return raise(L, err)
		}
		L.Push(lua.LString(id))
		return 1
	})

	reg("remove_call_out", func(L *lua.LState) int {
		if err := api.RemoveCallOut(L.CheckString(1)); err != nil {
			return raise(L, err)
		}
		return 0
	})

	reg("set_heart_beat", func(L *lua.LState) int {
		api.SetHeartBeat(L.CheckString(1), int64(L.CheckInt(2)))
		return 0
	})

	reg("remove_heart_beat", func(L *lua.LState) int {
		api.RemoveHeartBeat(L.CheckString(1))
		return 0
	})

	reg("get_credits", func(L *lua.LState) int {
		L.Push(lua.LNumber(api.GetCredits()))
		return 1
	})

	reg("deduct_credits", func(L *lua.LState) int {
		ok := api.DeductCredits(int64(L.CheckInt(1)), L.OptString(2, ""))
		L.Push(lua.LBool(ok))
		return 1
	})

	reg("admin_grant_credits", func(L *lua.LState) int {
		if err := api.AdminGrantCredits(L.CheckString(1), int64(L.CheckInt(2))); err != nil {
			return raise(L, err)
		}
		return 0
	})

	reg("time", func(L *lua.LState) int {
		L.Push(lua.LNumber(api.Time()))
		return 1
	})

	reg("set_time", func(L *lua.LState) int {
		if err := api.SetTime(int64(L.CheckInt(1))); err != nil {
			return raise(L, err)
		}
		return 0
	})

	reg("set_rng_seed", func(L *lua.LState) int {
		if err := api.SetRNGSeed(uint64(L.CheckInt(1))); err != nil {
			return raise(L, err)
		}
		return 0
	})

	reg("roll_dice", func(L *lua.LState) int {
		result, err := api.RollDice(L.CheckString(1))
		if err != nil {
			return raise(L, err)
		}
		L.Push(lua.LNumber(result))
		return 1
	})

	reg("use_object", func(L *lua.LState) int {
		obj, err := api.UseObject(L.CheckString(1))
		if err != nil {
			return raise(L, err)
		}
		L.Push(objectToTable(L, obj))
		return 1
	})

	reg("get_universe", func(L *lua.LState) int {
		u, err := api.GetUniverse()
		if err != nil {
			return raise(L, err)
		}
		if u == nil {
			L.Push(lua.LNil)
			return 1
		}
		out := L.NewTable()
		out.RawSetString("id", lua.LString(u.ID))
		out.RawSetString("name", lua.LString(u.Name))
		out.RawSetString("owner_id", lua.LString(u.OwnerID))
		out.RawSetString("config", mapToTable(L, u.Config))
		L.Push(out)
		return 1
	})

	reg("update_universe", func(L *lua.LState) int {
		if err := api.UpdateUniverse(toGoMap(L.CheckTable(1))); err != nil {
			return raise(L, err)
		}
		return 0
	})

	vm.SetGlobal("game", t)
	_ = ctx // reserved: future calls (llm_chat/llm_image) thread ctx through their client argument
}

// raise converts a Go error into a Lua error, preserving the apperr.Kind in
// the message so scripts can pattern-match on it if they choose to.
func raise(L *lua.LState, err error) int {
	if kind, ok := apperr.KindOf(err); ok {
		L.RaiseError("%s: %s", kind, err.Error())
	} else {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func optString(L *lua.LState, n int) *string {
	v := L.Get(n)
	if v == lua.LNil || v.Type() == lua.LTNil {
		return nil
	}
	s := lua.LVAsString(v)
	return &s
}

func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

func lTable(t *lua.LTable, key string) *lua.LTable {
	v := t.RawGetString(key)
	if tbl, ok := v.(*lua.LTable); ok {
		return tbl
	}
	return nil
}

func lStrArray(t *lua.LTable, key string) []string {
	v := t.RawGetString(key)
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	var out []string
	tbl.ForEach(func(_, val lua.LValue) {
		out = append(out, lua.LVAsString(val))
	})
	return out
}

// toGoMap converts a Lua table with string keys into a Go map, the
// marshalling half of the teacher's bridge idiom run in reverse.
func toGoMap(t *lua.LTable) map[string]any {
	if t == nil {
		return nil
	}
	out := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		key := lua.LVAsString(k)
		out[key] = FromLua(v)
	})
	return out
}

func FromLua(v lua.LValue) any {
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		return float64(x)
	case lua.LString:
		return string(x)
	case *lua.LTable:
		// Heuristic: a table with a contiguous integer key run starting at 1
		// marshals as an array; anything else marshals as a map, matching
		// how encoding/json treats Go slices vs maps.
		if isArray(x) {
			var arr []any
			x.ForEach(func(_, v lua.LValue) { arr = append(arr, FromLua(v)) })
			return arr
		}
		return toGoMap(x)
	default:
		return nil
	}
}

func isArray(t *lua.LTable) bool {
	n := t.Len()
	if n == 0 {
		return false
	}
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })
	return count == n
}

func mapToTable(L *lua.LState, m map[string]any) *lua.LTable {
	t := L.NewTable()
	for k, v := range m {
		t.RawSetString(k, ToLua(L, v))
	}
	return t
}

func ToLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case float64:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case map[string]any:
		return mapToTable(L, x)
	case []any:
		t := L.NewTable()
		for i, e := range x {
			t.RawSetInt(i+1, ToLua(L, e))
		}
		return t
	default:
		return lua.LNil
	}
}

func objectToTable(L *lua.LState, obj *persist.Object) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(obj.ID))
	t.RawSetString("universe_id", lua.LString(obj.UniverseID))
	t.RawSetString("class", lua.LString(obj.Class))
	if obj.ParentID != nil {
		t.RawSetString("parent_id", lua.LString(*obj.ParentID))
	}
	if obj.OwnerID != nil {
		t.RawSetString("owner_id", lua.LString(*obj.OwnerID))
	}
	if obj.CodeHash != nil {
		t.RawSetString("code_hash", lua.LString(*obj.CodeHash))
	}
	t.RawSetString("properties", mapToTable(L, obj.Properties))
	return t
}

func objectsToTable(L *lua.LState, objs []persist.Object) *lua.LTable {
	t := L.NewTable()
	for i := range objs {
		t.RawSetInt(i+1, objectToTable(L, &objs[i]))
	}
	return t
}

func classToTable(L *lua.LState, def class.Def) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("name", lua.LString(def.Name))
	t.RawSetString("parent", lua.LString(def.Parent))
	t.RawSetString("properties", mapToTable(L, def.Properties))
	handlers := L.NewTable()
	for i, h := range def.Handlers {
		handlers.RawSetInt(i+1, lua.LString(h))
	}
	t.RawSetString("handlers", handlers)
	return t
}
