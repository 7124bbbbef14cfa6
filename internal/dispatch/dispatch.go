// Package dispatch implements the Command Dispatcher (§4.M): verb parsing,
// the built-in verb table, and the resolution order that decides whether a
// command is handled natively, by a room's contextual action, by an
// inventory item's action, or falls through to "unknown command".
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/mudd/mudcore/internal/apperr"
	"github.com/mudd/mudcore/internal/combat"
	"github.com/mudd/mudcore/internal/gameapi"
	"github.com/mudd/mudcore/internal/perm"
	"github.com/mudd/mudcore/internal/persist"
	"github.com/mudd/mudcore/internal/player"
)

// Command is a parsed input line: the verb and the remaining text.
type Command struct {
	Verb string
	Rest string
}

// Parse splits raw input on the first whitespace run into a lowercased verb
// and the untouched remainder.
func Parse(raw string) Command {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Command{}
	}
	cmd := Command{Verb: strings.ToLower(trimmed)}
	if i := strings.IndexFunc(trimmed, unicode.IsSpace); i >= 0 {
		cmd.Verb = strings.ToLower(trimmed[:i])
		cmd.Rest = strings.TrimSpace(trimmed[i:])
	}
	return cmd
}

var directions = map[string]bool{
	"north": true, "south": true, "east": true, "west": true,
	"up": true, "down": true, "northeast": true, "northwest": true,
	"southeast": true, "southwest": true, "n": true, "s": true,
	"e": true, "w": true, "u": true, "d": true,
}

const helpText = "Built-in commands: look/l, say <text>, inventory/i, " +
	"north/south/east/west/up/down, take/get <item>, drop <item>, " +
	"attack/kill <target>, help, eval <code> (wizard+), " +
	"create <path> <class> (builder+), goto <room_id> (wizard+)."

// HandlerInvoker re-enters the sandbox to run an object's code blob, used
// for both room/inventory contextual actions and eval; the built-in
// dispatch itself never needs this directly outside those two paths.
type HandlerInvoker func(ctx context.Context, codeHash, handlerName string, args map[string]any) (any, error)

// Dispatcher resolves and executes one command for one actor.
type Dispatcher struct {
	objects *persist.ObjectStore
	api     *gameapi.API
	invoke  HandlerInvoker
	players *player.Manager
	combat  *combat.Manager
}

func NewDispatcher(objects *persist.ObjectStore, api *gameapi.API, invoke HandlerInvoker, players *player.Manager, combatMgr *combat.Manager) *Dispatcher {
	return &Dispatcher{objects: objects, api: api, invoke: invoke, players: players, combat: combatMgr}
}

// Result is the outcome of Dispatch: either text was produced directly by
// a built-in, or a handler ran and its return value (if any) is reported.
type Result struct {
	Handled    bool
	OutputText string
}

// Dispatch resolves cmd for actorID standing in roomID, in resolution
// order: built-in verbs, then the room's contextual actions, then the
// actor's inventory items' actions, then "unknown command".
func (d *Dispatcher) Dispatch(ctx context.Context, actorID, roomID string, cmd Command) (Result, error) {
	if cmd.Verb == "" {
		return Result{Handled: true}, nil
	}

	if res, ok, err := d.dispatchBuiltin(ctx, actorID, roomID, cmd); ok || err != nil {
		return res, err
	}

	room, err := d.objects.Get(ctx, roomID)
	if err != nil {
		return Result{}, err
	}
	if room != nil {
		if res, ok, err := d.dispatchContextualAction(ctx, actorID, room, cmd); ok || err != nil {
			return res, err
		}
	}

	inventory, err := d.objects.GetContents(ctx, actorID)
	if err != nil {
		return Result{}, err
	}
	for _, item := range inventory {
		if res, ok, err := d.dispatchContextualAction(ctx, actorID, &item, cmd); ok || err != nil {
			return res, err
		}
	}

	return Result{Handled: false, OutputText: "Unknown command: " + cmd.Verb}, nil
}

// dispatchBuiltin implements the minimum built-in verb set named by §4.M:
// look/l, movement, say, inventory/i, take/get, drop, attack/kill, help,
// eval (wizard+), create (builder+ with path-grant), goto (wizard+).
func (d *Dispatcher) dispatchBuiltin(ctx context.Context, actorID, roomID string, cmd Command) (Result, bool, error) {
	switch {
	case cmd.Verb == "look" || cmd.Verb == "l":
		return d.doLook(ctx, roomID)
	case cmd.Verb == "say":
		d.api.Broadcast(roomID, actorID+" says: "+cmd.Rest)
		return Result{Handled: true}, true, nil
	case cmd.Verb == "inventory" || cmd.Verb == "i":
		return d.doInventory(ctx, actorID)
	case directions[cmd.Verb]:
		return d.doMove(ctx, actorID, roomID, cmd.Verb)
	case cmd.Verb == "take" || cmd.Verb == "get":
		return d.doTake(ctx, actorID, roomID, cmd.Rest)
	case cmd.Verb == "drop":
		return d.doDrop(ctx, actorID, roomID, cmd.Rest)
	case cmd.Verb == "attack" || cmd.Verb == "kill":
		return d.doAttack(ctx, actorID, roomID, cmd.Rest)
	case cmd.Verb == "help":
		return Result{Handled: true, OutputText: helpText}, true, nil
	case cmd.Verb == "eval":
		return d.doEval(ctx, actorID, cmd.Rest)
	case cmd.Verb == "create":
		return d.doCreate(ctx, actorID, roomID, cmd.Rest)
	case cmd.Verb == "goto":
		return d.doGoto(ctx, actorID, cmd.Rest)
	default:
		return Result{}, false, nil
	}
}

func (d *Dispatcher) doLook(ctx context.Context, roomID string) (Result, bool, error) {
	room, err := d.objects.Get(ctx, roomID)
	if err != nil {
		return Result{}, true, err
	}
	if room == nil {
		return Result{}, true, apperr.New(apperr.NotFound, "room not found: "+roomID)
	}
	desc, _ := room.Properties["description"].(string)
	return Result{Handled: true, OutputText: desc}, true, nil
}

func (d *Dispatcher) doInventory(ctx context.Context, actorID string) (Result, bool, error) {
	items, err := d.objects.GetContents(ctx, actorID)
	if err != nil {
		return Result{}, true, err
	}
	var names []string
	for _, it := range items {
		if n, ok := it.Properties["name"].(string); ok {
			names = append(names, n)
		}
	}
	return Result{Handled: true, OutputText: strings.Join(names, ", ")}, true, nil
}

func (d *Dispatcher) doMove(ctx context.Context, actorID, roomID, direction string) (Result, bool, error) {
	destID, ok, err := d.objects.GetExit(ctx, roomID, direction)
	if err != nil {
		return Result{}, true, err
	}
	if !ok {
		return Result{Handled: true, OutputText: "You can't go that way."}, true, nil
	}
	if err := d.api.MoveObject(actorID, &destID); err != nil {
		return Result{}, true, err
	}
	if _, err := d.players.TrackMove(ctx, actorID, destID); err != nil {
		return Result{}, true, err
	}
	return Result{Handled: true, OutputText: "You go " + direction + "."}, true, nil
}

func (d *Dispatcher) doTake(ctx context.Context, actorID, roomID, itemName string) (Result, bool, error) {
	if itemName == "" {
		return Result{Handled: true, OutputText: "Take what?"}, true, nil
	}
	item, err := d.objects.FindByName(ctx, roomID, itemName)
	if err != nil {
		return Result{}, true, err
	}
	if item == nil {
		return Result{Handled: true, OutputText: "There's no " + itemName + " here."}, true, nil
	}
	if err := d.api.MoveObject(item.ID, &actorID); err != nil {
		return Result{}, true, err
	}
	return Result{Handled: true, OutputText: "You take the " + itemName + "."}, true, nil
}

func (d *Dispatcher) doDrop(ctx context.Context, actorID, roomID, itemName string) (Result, bool, error) {
	if itemName == "" {
		return Result{Handled: true, OutputText: "Drop what?"}, true, nil
	}
	item, err := d.objects.FindByName(ctx, actorID, itemName)
	if err != nil {
		return Result{}, true, err
	}
	if item == nil {
		return Result{Handled: true, OutputText: "You aren't carrying a " + itemName + "."}, true, nil
	}
	if err := d.api.MoveObject(item.ID, &roomID); err != nil {
		return Result{}, true, err
	}
	return Result{Handled: true, OutputText: "You drop the " + itemName + "."}, true, nil
}

func statInt(obj *persist.Object, key string, def int) int {
	switch v := obj.Properties[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// pvpAllowed consults the universe's PvP policy before a player-vs-player
// attack proceeds (§4.I: "The Command Dispatcher consults this before
// initiating player-vs-player damage").
func (d *Dispatcher) pvpAllowed(ctx context.Context, roomID string, actor, target *persist.Object) (bool, string) {
	universe, err := d.api.GetUniverse()
	if err != nil || universe == nil {
		return false, "PvP is not available here."
	}
	policy, _ := universe.Config["pvp_policy"].(string)
	switch combat.PvPPolicy(policy) {
	case combat.PvPOpen:
		return true, ""
	case combat.PvPFlagged:
		actorFlagged, _ := actor.Properties["pvp_flagged"].(bool)
		targetFlagged, _ := target.Properties["pvp_flagged"].(bool)
		if actorFlagged && targetFlagged {
			return true, ""
		}
		return false, "Both players must flag for PvP first."
	case combat.PvPArenaOnly:
		room, err := d.objects.Get(ctx, roomID)
		if err == nil && room != nil {
			if arena, ok := room.Properties["is_arena"].(bool); ok && arena {
				return true, ""
			}
		}
		return false, "PvP is only allowed in an arena."
	default:
		return false, "PvP is disabled in this universe."
	}
}

// doAttack resolves an attack/kill against a living target present in
// roomID: it consults PvP policy for player-vs-player damage, lazily
// registers combat state for both sides from their persisted stats, rolls
// the attack, and on a killing blow against a player hands off to
// player.Manager.Die (§4.I, §4.M, §4.N).
func (d *Dispatcher) doAttack(ctx context.Context, actorID, roomID, targetName string) (Result, bool, error) {
	if targetName == "" {
		return Result{Handled: true, OutputText: "Attack whom?"}, true, nil
	}
	living, err := d.objects.GetLivingIn(ctx, roomID)
	if err != nil {
		return Result{}, true, err
	}
	var target *persist.Object
	for i := range living {
		if n, ok := living[i].Properties["name"].(string); ok && strings.EqualFold(n, targetName) && living[i].ID != actorID {
			target = &living[i]
			break
		}
	}
	if target == nil {
		return Result{Handled: true, OutputText: "They aren't here."}, true, nil
	}

	actor, err := d.objects.Get(ctx, actorID)
	if err != nil {
		return Result{}, true, err
	}
	if actor == nil {
		return Result{}, true, apperr.New(apperr.NotFound, "actor not found: "+actorID)
	}

	if actor.Class == "player" && target.Class == "player" {
		if allowed, reason := d.pvpAllowed(ctx, roomID, actor, target); !allowed {
			return Result{Handled: true, OutputText: reason}, true, nil
		}
	}

	d.combat.EnsureState(actor.ID, statInt(actor, "max_hp", 10), statInt(actor, "armor_class", 10), statInt(actor, "attack_bonus", 0))
	defState := d.combat.EnsureState(target.ID, statInt(target, "max_hp", 10), statInt(target, "armor_class", 10), statInt(target, "attack_bonus", 0))
	d.combat.Initiate(actor.ID, target.ID)

	dmg, err := d.api.RollDice("1d6")
	if err != nil {
		return Result{}, true, err
	}
	res, err := d.combat.ResolveAttack(actor.ID, target.ID, dmg, combat.Physical)
	if err != nil {
		return Result{}, true, err
	}
	if !res.Hit {
		return Result{Handled: true, OutputText: "You miss " + targetName + "."}, true, nil
	}

	target.Properties["hp"] = defState.HP
	target.UpdatedAt = time.Now()
	if err := d.objects.Update(ctx, *target); err != nil {
		return Result{}, true, err
	}

	if defState.HP <= 0 {
		if target.Class == "player" {
			if err := d.players.Die(ctx, d.api.UniverseID, target.ID); err != nil {
				return Result{}, true, err
			}
		}
		return Result{Handled: true, OutputText: "You kill " + targetName + "!"}, true, nil
	}

	return Result{Handled: true, OutputText: fmt.Sprintf("You hit %s for %d damage.", targetName, res.Damage.Final)}, true, nil
}

func (d *Dispatcher) doEval(ctx context.Context, actorID, code string) (Result, bool, error) {
	if d.api.GetAccessLevel(actorID) < perm.Wizard {
		return Result{}, true, apperr.New(apperr.PermissionDenied, "Requires wizard access")
	}
	if code == "" {
		return Result{Handled: true, OutputText: "Nothing to evaluate."}, true, nil
	}
	hash, err := d.api.StoreCode(code)
	if err != nil {
		return Result{}, true, err
	}
	ret, err := d.invoke(ctx, hash, "main", map[string]any{"actor_id": actorID})
	if err != nil {
		return Result{}, true, err
	}
	text, _ := ret.(string)
	return Result{Handled: true, OutputText: text}, true, nil
}

// doCreate implements the create built-in; it checks the builder+ level
// itself, and the path-grant gate is enforced by gameapi.API.CreateObject's
// own perm.Check, which needs no particular access level.
func (d *Dispatcher) doCreate(ctx context.Context, actorID, roomID, rest string) (Result, bool, error) {
	if d.api.GetAccessLevel(actorID) < perm.Builder {
		return Result{}, true, apperr.New(apperr.PermissionDenied, "Requires builder access")
	}
	parts := strings.Fields(rest)
	if len(parts) < 2 {
		return Result{Handled: true, OutputText: "Usage: create <path> <class>"}, true, nil
	}
	path, className := parts[0], parts[1]
	parent := roomID
	obj, err := d.api.CreateObject(path, className, &parent, map[string]any{})
	if err != nil {
		return Result{}, true, err
	}
	return Result{Handled: true, OutputText: "Created " + obj.ID + "."}, true, nil
}

func (d *Dispatcher) doGoto(ctx context.Context, actorID, destID string) (Result, bool, error) {
	if d.api.GetAccessLevel(actorID) < perm.Wizard {
		return Result{}, true, apperr.New(apperr.PermissionDenied, "Requires wizard access")
	}
	if destID == "" {
		return Result{Handled: true, OutputText: "Goto where?"}, true, nil
	}
	room, err := d.objects.Get(ctx, destID)
	if err != nil {
		return Result{}, true, err
	}
	if room == nil {
		return Result{Handled: true, OutputText: "No such room: " + destID}, true, nil
	}
	if err := d.api.MoveObject(actorID, &destID); err != nil {
		return Result{}, true, err
	}
	if _, err := d.players.TrackMove(ctx, actorID, destID); err != nil {
		return Result{}, true, err
	}
	return Result{Handled: true, OutputText: "You teleport to " + destID + "."}, true, nil
}

// dispatchContextualAction checks obj's "actions" property map for cmd.Verb
// and, if present, re-enters the sandbox against obj's code blob.
func (d *Dispatcher) dispatchContextualAction(ctx context.Context, actorID string, obj *persist.Object, cmd Command) (Result, bool, error) {
	actions, ok := obj.Properties["actions"].(map[string]any)
	if !ok {
		return Result{}, false, nil
	}
	methodAny, ok := actions[cmd.Verb]
	if !ok {
		return Result{}, false, nil
	}
	method, _ := methodAny.(string)
	if method == "" || obj.CodeHash == nil {
		return Result{}, false, nil
	}
	ret, err := d.invoke(ctx, *obj.CodeHash, method, map[string]any{
		"actor": actorID, "verb": cmd.Verb, "rest": cmd.Rest, "object_id": obj.ID,
	})
	if err != nil {
		return Result{}, true, err
	}
	text, _ := ret.(string)
	return Result{Handled: true, OutputText: text}, true, nil
}
