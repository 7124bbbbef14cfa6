// Package engine composes the Sandbox (§4.F), Game API (§4.G), the Lua
// binding layer, and the Command Dispatcher (§4.M) into one per-command
// invocation: it is the seam dispatch.HandlerInvoker plugs into, and the
// per-tick driver for timers/heartbeats (§4.H) and the disconnect-grace
// sweep (§4.N).
//
// Grounded on the teacher's cmd/l1jgo/main.go wiring style (one struct
// bundling every repo/manager, passed down into handler registration) and
// internal/scripting/engine.go's DoString-then-CallByParam invocation
// shape, generalized to the sandbox's per-call fresh-VM lifecycle.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mudd/mudcore/internal/apperr"
	"github.com/mudd/mudcore/internal/conn"
	"github.com/mudd/mudcore/internal/credit"
	"github.com/mudd/mudcore/internal/dispatch"
	"github.com/mudd/mudcore/internal/gameapi"
	"github.com/mudd/mudcore/internal/luabind"
	"github.com/mudd/mudcore/internal/perm"
	"github.com/mudd/mudcore/internal/persist"
	"github.com/mudd/mudcore/internal/player"
	"github.com/mudd/mudcore/internal/sandbox"
	"github.com/mudd/mudcore/internal/timer"
)

// Engine owns everything needed to run one universe's traffic: object
// graph, managers, connections, and the sandbox budgets new invocations
// get spun up with.
type Engine struct {
	Objects   *persist.ObjectStore
	Universes *persist.UniverseRepo
	Grants    *persist.GrantRepo
	apiDeps   gameapi.Deps // shared manager bundle every invocation's Game API is built from
	Conns     *conn.Manager
	Players   *player.Manager
	Credits   *credit.Manager
	Timers    *timer.Manager

	budgets Budgets
	log     *zap.Logger
}

// Budgets bundles the sandbox resource ceilings an Engine hands every
// invocation it spins up.
type Budgets = sandbox.Budgets

func New(objects *persist.ObjectStore, universes *persist.UniverseRepo, grants *persist.GrantRepo, deps gameapi.Deps, conns *conn.Manager, players *player.Manager, budgets Budgets, log *zap.Logger) *Engine {
	return &Engine{
		Objects: objects, Universes: universes, Grants: grants, apiDeps: deps,
		Conns: conns, Players: players, Credits: deps.Credits, Timers: deps.Timers,
		budgets: budgets, log: log,
	}
}

// invoke runs one sandboxed handler call: fresh VM, Game API bound as Lua
// globals, budgets enforced, outbound messages drained to the Connection
// Manager after the call returns (success or failure — a script that
// errors partway through may still have queued sends worth delivering, the
// same "flush what you have" policy dispatch.Dispatch's callers expect).
func (e *Engine) invoke(ctx context.Context, universeID, actorID, roomID string, accessLevels map[string]perm.AccessLevel, codeHash, handlerName string, args map[string]any) (any, error) {
	source, ok, err := e.Objects.GetCode(ctx, codeHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.NotFound, "code blob not found: "+codeHash)
	}

	api := gameapi.New(ctx, e.apiDeps, universeID, actorID, roomID, accessLevels)
	inv := sandbox.New(e.budgets)
	defer inv.Close()
	luabind.Bind(inv.VM(), ctx, api)

	argsTable := inv.VM().NewTable()
	for k, v := range args {
		argsTable.RawSetString(k, luabind.ToLua(inv.VM(), v))
	}

	ret, runErr := inv.Run(ctx, source, handlerName, argsTable)
	e.flush(api)
	if runErr != nil {
		return nil, runErr
	}
	return luabind.FromLua(ret), nil
}

// flush drains an API's queued outbound messages onto the Connection
// Manager. Broadcasts resolve occupancy by reading the room's live
// contents at flush time rather than at enqueue time, so a command that
// moves an actor mid-handler still reaches whoever is actually present.
func (e *Engine) flush(api *gameapi.API) {
	for _, msg := range api.Queue() {
		switch msg.Kind {
		case "send":
			e.Conns.SendToPlayer(msg.TargetID, conn.ServerMessage{Kind: conn.Output, Text: msg.Text})
		case "broadcast_room":
			occupants, err := e.Objects.GetLivingIn(context.Background(), msg.TargetID)
			if err != nil {
				e.log.Warn("flush: room occupancy lookup failed", zap.Error(err))
				continue
			}
			ids := make([]string, 0, len(occupants))
			for _, o := range occupants {
				ids = append(ids, o.ID)
			}
			e.Conns.BroadcastRoom(ids, "", conn.ServerMessage{Kind: conn.Room, Text: msg.Text})
		case "broadcast_region":
			occupants, err := e.Objects.GetLivingIn(context.Background(), msg.TargetID)
			if err != nil {
				e.log.Warn("flush: region occupancy lookup failed", zap.Error(err))
				continue
			}
			ids := make([]string, 0, len(occupants))
			for _, o := range occupants {
				ids = append(ids, o.ID)
			}
			e.Conns.BroadcastRegion(ids, conn.ServerMessage{Kind: conn.Room, Text: msg.Text})
		}
	}
}

// HandleCommand parses and dispatches one line of player input, delivering
// the result (if any) straight back to the actor's own connection.
func (e *Engine) HandleCommand(ctx context.Context, universeID, actorID, roomID string, accessLevels map[string]perm.AccessLevel, raw string) {
	api := gameapi.New(ctx, e.apiDeps, universeID, actorID, roomID, accessLevels)
	d := dispatch.NewDispatcher(e.Objects, api, func(ctx context.Context, codeHash, handlerName string, args map[string]any) (any, error) {
		return e.invoke(ctx, universeID, actorID, roomID, accessLevels, codeHash, handlerName, args)
	}, e.Players, e.apiDeps.Combat)

	result, err := d.Dispatch(ctx, actorID, roomID, dispatch.Parse(raw))
	e.flush(api)
	if err != nil {
		kind, _ := apperr.KindOf(err)
		e.Conns.SendToPlayer(actorID, conn.ServerMessage{Kind: conn.ErrMsg, Text: string(kind) + ": " + err.Error()})
		return
	}
	if result.OutputText != "" {
		e.Conns.SendToPlayer(actorID, conn.ServerMessage{Kind: conn.Echo, Text: result.OutputText})
	}
}

// RoomOf returns actorID's current containing object id (its ParentID),
// used by the HTTP edge to resolve the room a command should dispatch in
// without needing to track it itself.
func (e *Engine) RoomOf(ctx context.Context, actorID string) (string, error) {
	obj, err := e.Objects.Get(ctx, actorID)
	if err != nil {
		return "", err
	}
	if obj == nil || obj.ParentID == nil {
		return "", apperr.New(apperr.NotFound, "actor has no containing room: "+actorID)
	}
	return *obj.ParentID, nil
}

// Tick drains due timers/heartbeats and sweeps expired disconnect grace
// windows, called once per server tick from cmd/server's main loop.
func (e *Engine) Tick(ctx context.Context, universeID string, accessLevels map[string]perm.AccessLevel) {
	for _, fired := range e.Timers.Tick(time.Now().UnixMilli()) {
		obj, err := e.Objects.Get(ctx, fired.ObjectID)
		if err != nil || obj == nil || obj.CodeHash == nil {
			continue
		}
		room, err := e.Objects.GetEnvironment(ctx, fired.ObjectID)
		roomID := ""
		if err == nil && room != nil {
			roomID = room.ID
		}
		if _, err := e.invoke(ctx, universeID, fired.ObjectID, roomID, accessLevels, *obj.CodeHash, fired.Method, fired.Args); err != nil {
			e.log.Warn("timer/heartbeat invocation failed", zap.String("object_id", fired.ObjectID), zap.Error(err))
		}
	}
	for _, playerID := range e.Players.SweepExpired(ctx) {
		e.log.Info("player disconnect grace expired", zap.String("player_id", playerID))
	}
}
