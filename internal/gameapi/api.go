// Package gameapi implements the Game API (§4.G): the single capability
// surface scripts use to observe and mutate the world, bridging to the
// Class Registry, Object Store, Raft Writer, Permission Manager, Timer
// Manager, Combat Manager, and Effects Manager.
//
// Every write-entry point funnels through the Object Store's Raft path;
// every authorisation check goes through the Permission Manager using the
// current actor. Outbound messages are queued and drained by the Command
// Dispatcher after the sandbox invocation returns (§9 "messaging as
// deferred effects").
package gameapi

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/mudd/mudcore/internal/apperr"
	"github.com/mudd/mudcore/internal/class"
	"github.com/mudd/mudcore/internal/combat"
	"github.com/mudd/mudcore/internal/credit"
	"github.com/mudd/mudcore/internal/effects"
	"github.com/mudd/mudcore/internal/perm"
	"github.com/mudd/mudcore/internal/persist"
	"github.com/mudd/mudcore/internal/timer"
)

// OutboundMessage is one queued effect of a script call; the dispatcher
// drains these after the sandbox returns.
type OutboundMessage struct {
	Kind     string // "send" | "broadcast_room" | "broadcast_region"
	TargetID string
	Text     string
}

// Clock lets tests/scripts override time and RNG (wizard-only hooks).
type Clock struct {
	nowMillis int64
	fixed     bool
	src       *rand.PCG
	rng       *rand.Rand
}

func NewClock() *Clock {
	src := rand.NewPCG(1, 2)
	return &Clock{src: src, rng: rand.New(src)}
}

func (c *Clock) Now() int64 {
	if c.fixed {
		return c.nowMillis
	}
	return time.Now().UnixMilli()
}
func (c *Clock) SetTime(ms int64) { c.nowMillis = ms; c.fixed = true }
func (c *Clock) SetSeed(seed uint64) { c.src.Seed(seed, seed^0x9e3779b97f4a7c15) }
func (c *Clock) Rand() *rand.Rand { return c.rng }

// API is one per-invocation instance: it is constructed with the calling
// session's actor and ambient room, and accumulates an outbound message
// queue for that actor; the actor's path grants are looked up from the
// grant store at each permission check.
type API struct {
	ctx context.Context

	UniverseID string
	actorID    string // current effective user for permission checks
	roomID     string // ambient room context for add_action/remove_action

	objects  *persist.ObjectStore
	universes *persist.UniverseRepo
	grants   *persist.GrantRepo
	classes  *class.Registry
	classRepo *persist.ClassRepo
	timers   *timer.Manager
	combatMgr *combat.Manager
	effectsMgr *effects.Manager
	credits  *credit.Manager
	clock    *Clock

	accessLevels map[string]perm.AccessLevel // account id -> level, resolved by the caller

	queue []OutboundMessage

	dbQueries int
	llmCalls  int
	maxDBQueries int
	maxLLMCalls  int
}

type Deps struct {
	Objects    *persist.ObjectStore
	Universes  *persist.UniverseRepo
	Grants     *persist.GrantRepo
	Classes    *class.Registry
	ClassRepo  *persist.ClassRepo
	Timers     *timer.Manager
	Combat     *combat.Manager
	Effects    *effects.Manager
	Credits    *credit.Manager
	Clock      *Clock
	MaxDBQueries int
	MaxLLMCalls  int
}

// New constructs a per-invocation Game API surface for actorID acting in
// roomID within universeID.
func New(ctx context.Context, deps Deps, universeID, actorID, roomID string, accessLevels map[string]perm.AccessLevel) *API {
	return &API{
		ctx: ctx, UniverseID: universeID, actorID: actorID, roomID: roomID,
		objects: deps.Objects, universes: deps.Universes, grants: deps.Grants,
		classes: deps.Classes, classRepo: deps.ClassRepo, timers: deps.Timers,
		combatMgr: deps.Combat, effectsMgr: deps.Effects, credits: deps.Credits,
		clock: deps.Clock, accessLevels: accessLevels,
		maxDBQueries: deps.MaxDBQueries, maxLLMCalls: deps.MaxLLMCalls,
	}
}

// Queue drains and returns the accumulated outbound messages.
func (a *API) Queue() []OutboundMessage {
	q := a.queue
	a.queue = nil
	return q
}

func (a *API) recordDBQuery() error {
	a.dbQueries++
	if a.dbQueries > a.maxDBQueries {
		return apperr.New(apperr.BudgetExceeded, "db query limit exceeded")
	}
	return nil
}

func (a *API) userFor(actorID string) (perm.User, error) {
	grants, err := a.grants.ForGrantee(a.ctx, a.UniverseID, actorID)
	if err != nil {
		return perm.User{}, err
	}
	return perm.User{AccountID: actorID, AccessLevel: a.accessLevels[actorID], Grants: grants}, nil
}

func (a *API) targetFor(obj *persist.Object) perm.Target {
	if obj == nil {
		return perm.Target{}
	}
	isFixed, _ := obj.Properties["is_fixed"].(bool)
	owner := ""
	if obj.OwnerID != nil {
		owner = *obj.OwnerID
	}
	return perm.Target{ObjectID: obj.ID, OwnerID: owner, IsFixed: isFixed}
}

// --- Object graph ---------------------------------------------------------

func (a *API) CreateObject(path, className string, parentID *string, props map[string]any) (*persist.Object, error) {
	if err := a.recordDBQuery(); err != nil {
		return nil, err
	}
	user, err := a.userFor(a.actorID)
	if err != nil {
		return nil, err
	}
	if d := perm.Check(user, perm.Create, perm.Target{ObjectID: path}); !d.Allowed {
		return nil, apperr.New(apperr.PermissionDenied, d.Reason)
	}
	if _, ok := a.classes.Get(className); !ok {
		return nil, apperr.New(apperr.ValidationFailure, "unknown class: "+className)
	}
	now := time.UnixMilli(a.clock.Now())
	obj := persist.Object{
		ID: path, UniverseID: a.UniverseID, Class: className, ParentID: parentID,
		Properties: props, OwnerID: &a.actorID, CreatedAt: now, UpdatedAt: now,
	}
	if err := a.objects.Create(a.ctx, obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (a *API) GetObject(id string) (*persist.Object, error) {
	if err := a.recordDBQuery(); err != nil {
		return nil, err
	}
	return a.objects.Get(a.ctx, id)
}

func (a *API) UpdateObject(id string, changes map[string]any) (*persist.Object, error) {
	if err := a.recordDBQuery(); err != nil {
		return nil, err
	}
	obj, err := a.objects.Get(a.ctx, id)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, apperr.New(apperr.NotFound, "object not found: "+id)
	}
	user, err := a.userFor(a.actorID)
	if err != nil {
		return nil, err
	}
	if d := perm.Check(user, perm.Modify, a.targetFor(obj)); !d.Allowed {
		return nil, apperr.New(apperr.PermissionDenied, d.Reason)
	}
	for k, v := range changes {
		obj.Properties[k] = v
	}
	obj.UpdatedAt = time.UnixMilli(a.clock.Now())
	if err := a.objects.Update(a.ctx, *obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func (a *API) DeleteObject(id string) (bool, error) {
	if err := a.recordDBQuery(); err != nil {
		return false, err
	}
	obj, err := a.objects.Get(a.ctx, id)
	if err != nil || obj == nil {
		return false, err
	}
	user, err := a.userFor(a.actorID)
	if err != nil {
		return false, err
	}
	if d := perm.Check(user, perm.Delete, a.targetFor(obj)); !d.Allowed {
		return false, apperr.New(apperr.PermissionDenied, d.Reason)
	}
	a.combatMgr.RemoveEntity(id)
	a.effectsMgr.RemoveEntity(id)
	_ = a.timers.RemoveTimersForObject(a.ctx, id)
	return a.objects.Delete(a.ctx, id)
}

func (a *API) MoveObject(id string, newParentID *string) error {
	if err := a.recordDBQuery(); err != nil {
		return err
	}
	obj, err := a.objects.Get(a.ctx, id)
	if err != nil || obj == nil {
		return apperr.New(apperr.NotFound, "object not found: "+id)
	}
	user, err := a.userFor(a.actorID)
	if err != nil {
		return err
	}
	src := a.targetFor(obj)
	var dst perm.Target
	if newParentID != nil {
		dstObj, err := a.objects.Get(a.ctx, *newParentID)
		if err != nil {
			return err
		}
		dst = a.targetFor(dstObj)
	}
	if d := perm.CheckMove(user, src, dst); !d.Allowed {
		return apperr.New(apperr.PermissionDenied, d.Reason)
	}
	return a.objects.MoveObject(a.ctx, id, newParentID, time.UnixMilli(a.clock.Now()))
}

func (a *API) CloneObject(id, newPath string, newParentID *string) (*persist.Object, error) {
	src, err := a.GetObject(id)
	if err != nil || src == nil {
		return nil, apperr.New(apperr.NotFound, "object not found: "+id)
	}
	propsCopy := make(map[string]any, len(src.Properties))
	for k, v := range src.Properties {
		propsCopy[k] = v
	}
	return a.CreateObject(newPath, src.Class, newParentID, propsCopy)
}

func (a *API) GetChildren(parentID string) ([]persist.Object, error) {
	if err := a.recordDBQuery(); err != nil {
		return nil, err
	}
	return a.objects.GetContents(a.ctx, parentID)
}

func (a *API) Environment(id string) (*persist.Object, error) {
	if err := a.recordDBQuery(); err != nil {
		return nil, err
	}
	return a.objects.GetEnvironment(a.ctx, id)
}

func (a *API) AllInventory(id string) ([]persist.Object, error) { return a.GetChildren(id) }

func (a *API) Present(name, envID string) (*persist.Object, error) {
	if err := a.recordDBQuery(); err != nil {
		return nil, err
	}
	return a.objects.FindByName(a.ctx, envID, name)
}

func (a *API) GetLivingIn(envID string) ([]persist.Object, error) {
	if err := a.recordDBQuery(); err != nil {
		return nil, err
	}
	return a.objects.GetLivingIn(a.ctx, envID)
}

func (a *API) FindByName(parentID, name string) (*persist.Object, error) { return a.Present(name, parentID) }

// --- Code -----------------------------------------------------------------

func (a *API) StoreCode(source string) (string, error) {
	user, err := a.userFor(a.actorID)
	if err != nil {
		return "", err
	}
	if d := perm.Check(user, perm.StoreCode, perm.Target{}); !d.Allowed {
		return "", apperr.New(apperr.PermissionDenied, d.Reason)
	}
	hash := persist.HashSource(source)
	if err := a.recordDBQuery(); err != nil {
		return "", err
	}
	return a.objects.StoreCode(a.ctx, hash, source, time.UnixMilli(a.clock.Now()))
}

func (a *API) GetCode(hash string) (string, bool, error) {
	if err := a.recordDBQuery(); err != nil {
		return "", false, err
	}
	return a.objects.GetCode(a.ctx, hash)
}

// --- Classes ----------------------------------------------------------------

// DefineClass registers def in the in-memory registry and persists it
// through Raft (Open Question resolved in DESIGN.md: define_class IS
// replicated).
func (a *API) DefineClass(def class.Def) error {
	a.classes.Register(def)
	return a.classRepo.Persist(a.ctx, def)
}

func (a *API) GetClass(name string) (class.Def, bool) { return a.classes.Get(name) }

func (a *API) IsA(objID, className string) (bool, error) {
	obj, err := a.GetObject(objID)
	if err != nil || obj == nil {
		return false, err
	}
	return a.classes.IsA(obj.Class, className), nil
}

func (a *API) GetClassChain(name string) ([]string, bool) {
	props, ok := a.classes.ResolveProperties(name)
	_ = props
	if !ok {
		return nil, false
	}
	var chain []string
	cur := name
	for cur != "" {
		chain = append(chain, cur)
		cur = a.classes.ParentOf(cur)
	}
	return chain, true
}

// --- Actions (contextual verbs) --------------------------------------------

// AddAction/RemoveAction store contextual verbs as a reserved properties
// key ("actions": {verb: method}) on the scoped object — either the
// script's ambient room or an explicitly targeted object — so no separate
// table is needed.
func (a *API) AddAction(verb, objectID, method string) error {
	obj, err := a.GetObject(objectID)
	if err != nil || obj == nil {
		return apperr.New(apperr.NotFound, "object not found: "+objectID)
	}
	actions, _ := obj.Properties["actions"].(map[string]any)
	if actions == nil {
		actions = map[string]any{}
	}
	actions[verb] = method
	_, err = a.UpdateObject(objectID, map[string]any{"actions": actions})
	return err
}

func (a *API) RemoveAction(verb, objectID string) error {
	obj, err := a.GetObject(objectID)
	if err != nil || obj == nil {
		return apperr.New(apperr.NotFound, "object not found: "+objectID)
	}
	actions, _ := obj.Properties["actions"].(map[string]any)
	if actions != nil {
		delete(actions, verb)
	}
	_, err = a.UpdateObject(objectID, map[string]any{"actions": actions})
	return err
}

// --- Messaging (queued) -----------------------------------------------------

func (a *API) Send(targetID, text string) {
	a.queue = append(a.queue, OutboundMessage{Kind: "send", TargetID: targetID, Text: text})
}

func (a *API) Broadcast(roomID, text string) {
	a.queue = append(a.queue, OutboundMessage{Kind: "broadcast_room", TargetID: roomID, Text: text})
}

func (a *API) BroadcastRegion(regionID, text string) {
	a.queue = append(a.queue, OutboundMessage{Kind: "broadcast_region", TargetID: regionID, Text: text})
}

// --- Permissions -------------------------------------------------------------

func (a *API) CheckPermission(action perm.Action, targetID string, isFixed bool, ownerID string) (perm.Decision, error) {
	user, err := a.userFor(a.actorID)
	if err != nil {
		return perm.Decision{}, err
	}
	return perm.Check(user, action, perm.Target{ObjectID: targetID, IsFixed: isFixed, OwnerID: ownerID}), nil
}

func (a *API) CanAccessPath(path string) (bool, error) {
	d, err := a.CheckPermission(perm.Read, path, false, "")
	return d.Allowed, err
}

func (a *API) GetAccessLevel(id string) perm.AccessLevel { return a.accessLevels[id] }

func (a *API) SetAccessLevel(id string, level perm.AccessLevel) error {
	user, err := a.userFor(a.actorID)
	if err != nil {
		return err
	}
	if !user.AccessLevel.CanGrantAdmin() && level >= perm.Admin {
		return apperr.New(apperr.PermissionDenied, "Requires owner access")
	}
	a.accessLevels[id] = level
	return nil
}

func (a *API) GrantPath(granteeID, path string, canDelegate bool) (perm.Grant, error) {
	user, err := a.userFor(a.actorID)
	if err != nil {
		return perm.Grant{}, err
	}
	if !perm.CanDelegate(user, path) {
		return perm.Grant{}, apperr.New(apperr.PermissionDenied, "No access to path: "+path)
	}
	g := perm.Grant{
		ID: uuid.NewString(), UniverseID: a.UniverseID, GranteeID: granteeID,
		PathPrefix: path, CanDelegate: canDelegate, GrantedBy: a.actorID,
	}
	if err := a.grants.Create(a.ctx, g, a.UniverseID, time.UnixMilli(a.clock.Now())); err != nil {
		return perm.Grant{}, err
	}
	return g, nil
}

func (a *API) RevokePath(grantID string) error { return a.grants.Revoke(a.ctx, grantID) }

func (a *API) GetPathGrants(id string) ([]perm.Grant, error) {
	return a.grants.ForGrantee(a.ctx, a.UniverseID, id)
}

func (a *API) SetActor(id string) error {
	user, err := a.userFor(a.actorID)
	if err != nil {
		return err
	}
	if user.AccessLevel < perm.Wizard {
		return apperr.New(apperr.PermissionDenied, "Requires wizard access")
	}
	if id == "" {
		return nil
	}
	a.actorID = id
	return nil
}

func (a *API) GetActor() string { return a.actorID }

// --- Timers ------------------------------------------------------------------

func (a *API) CallOut(delaySecs int, objectID, method string, args map[string]any) (string, error) {
	id := uuid.NewString()
	t := persist.TimerRow{
		ID: id, UniverseID: a.UniverseID, ObjectID: objectID, Method: method,
		FireAt: a.clock.Now() + int64(delaySecs)*1000, Args: args,
	}
	if err := a.timers.AddTimer(a.ctx, t); err != nil {
		return "", err
	}
	return id, nil
}

func (a *API) RemoveCallOut(id string) error { return a.timers.RemoveTimer(a.ctx, id) }

func (a *API) SetHeartBeat(objectID string, intervalMs int64) {
	a.timers.SetHeartbeat(timer.HeartBeat{
		ObjectID: objectID, UniverseID: a.UniverseID, IntervalMs: intervalMs,
		LastFired: a.clock.Now(), Method: "heart_beat",
	})
}

func (a *API) RemoveHeartBeat(objectID string) { a.timers.RemoveHeartbeat(objectID) }

// --- Credits -------------------------------------------------------------------

func (a *API) GetCredits() int64 { return a.credits.GetBalance(a.UniverseID, a.actorID) }

func (a *API) DeductCredits(amount int64, reason string) bool {
	return a.credits.Deduct(a.ctx, a.UniverseID, a.actorID, amount, reason)
}

func (a *API) AdminGrantCredits(accountID string, amount int64) error {
	user, err := a.userFor(a.actorID)
	if err != nil {
		return err
	}
	if user.AccessLevel < perm.Wizard {
		return apperr.New(apperr.PermissionDenied, "Requires wizard access")
	}
	return a.credits.Grant(a.ctx, a.UniverseID, accountID, amount, "admin_grant")
}

// --- LLM / image (external collaborator) -----------------------------------

// LLMClient is the external collaborator interface named out of scope by
// §1; this module provides only the rate-limited call-counting boundary.
type LLMClient interface {
	Chat(ctx context.Context, messages []string, tier string) (string, error)
	Image(ctx context.Context, prompt, style string, size int) ([]byte, error)
}

func (a *API) LLMChat(client LLMClient, messages []string, tier string) (string, error) {
	if err := a.recordLLMCall(); err != nil {
		return "", err
	}
	return client.Chat(a.ctx, messages, tier)
}

func (a *API) LLMImage(client LLMClient, prompt, style string, size int) ([]byte, error) {
	if err := a.recordLLMCall(); err != nil {
		return nil, err
	}
	return client.Image(a.ctx, prompt, style, size)
}

func (a *API) recordLLMCall() error {
	a.llmCalls++
	if a.llmCalls > a.maxLLMCalls {
		return apperr.New(apperr.BudgetExceeded, "llm call limit exceeded")
	}
	return nil
}

// --- Utilities -----------------------------------------------------------------

func (a *API) Time() int64 { return a.clock.Now() }

func (a *API) SetTime(ms int64) error {
	user, err := a.userFor(a.actorID)
	if err != nil {
		return err
	}
	if user.AccessLevel < perm.Wizard {
		return apperr.New(apperr.PermissionDenied, "Requires wizard access")
	}
	a.clock.SetTime(ms)
	return nil
}

func (a *API) SetRNGSeed(seed uint64) error {
	user, err := a.userFor(a.actorID)
	if err != nil {
		return err
	}
	if user.AccessLevel < perm.Wizard {
		return apperr.New(apperr.PermissionDenied, "Requires wizard access")
	}
	a.clock.SetSeed(seed)
	return nil
}

func (a *API) RollDice(notation string) (int, error) {
	d, err := combat.ParseDice(notation)
	if err != nil {
		return 0, apperr.Wrap(apperr.ValidationFailure, "bad dice notation", err)
	}
	return d.Roll(a.clock.Rand()), nil
}

// UseObject dispatches into another object's handler; the actual sandbox
// invocation is performed by the Command Dispatcher (§4.M), which owns the
// code-blob lookup and sandbox lifecycle — this method only validates the
// target exists and is executable by the current actor.
func (a *API) UseObject(targetID string) (*persist.Object, error) {
	obj, err := a.GetObject(targetID)
	if err != nil || obj == nil {
		return nil, apperr.New(apperr.NotFound, "object not found: "+targetID)
	}
	user, err := a.userFor(a.actorID)
	if err != nil {
		return nil, err
	}
	if d := perm.Check(user, perm.Execute, a.targetFor(obj)); !d.Allowed {
		return nil, apperr.New(apperr.PermissionDenied, d.Reason)
	}
	return obj, nil
}

// --- Universe ------------------------------------------------------------------

func (a *API) GetUniverse() (*persist.Universe, error) { return a.universes.Get(a.ctx, a.UniverseID) }

func (a *API) UpdateUniverse(cfg map[string]any) error {
	user, err := a.userFor(a.actorID)
	if err != nil {
		return err
	}
	if user.AccessLevel < perm.Wizard {
		return apperr.New(apperr.PermissionDenied, "Requires wizard access")
	}
	return a.universes.Update(a.ctx, a.UniverseID, cfg)
}

// --- Parent dispatch helper ---------------------------------------------------

// Parent invokes handlerName on className's parent class's code blob,
// returning nil if there is no parent or no matching handler. The caller
// supplies a runner (the sandbox) since Parent must re-enter script
// execution rather than perform it itself.
type HandlerRunner func(codeHash, handlerName string, args map[string]any) (any, error)

func (a *API) Parent(className, handlerName string, args map[string]any, run HandlerRunner) (any, error) {
	parentName := a.classes.ParentOf(className)
	if parentName == "" {
		return nil, nil
	}
	handlers, ok := a.classes.ResolveHandlers(parentName)
	if !ok {
		return nil, nil
	}
	found := false
	for _, h := range handlers {
		if h == handlerName {
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}
	return run("", handlerName, args)
}
