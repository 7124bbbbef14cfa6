// Package player implements the Player Lifecycle component (§4.N): spawn
// and respawn location resolution, safe-zone tracking, death, and the
// disconnect-grace sweep's inventory handling.
//
// Grounded directly on mudd/src/player.rs's PlayerManager: that type owns
// no connection state of its own either, resolving everything through the
// same object store and universe settings the rest of the engine uses,
// rather than being handed an externally injected safe-zone predicate.
package player

import (
	"context"
	"sync"
	"time"

	"github.com/mudd/mudcore/internal/apperr"
	"github.com/mudd/mudcore/internal/combat"
	"github.com/mudd/mudcore/internal/persist"
)

// Manager owns player-object creation/reuse and spawn/move/death/reconnect
// transitions. It does not own combat or connection state directly,
// delegating to combat.Manager and the caller's connection lookup so those
// concerns stay single-owned.
type Manager struct {
	objects   *persist.ObjectStore
	universes *persist.UniverseRepo
	combatMgr *combat.Manager

	disconnectGrace time.Duration

	mu                sync.Mutex
	pendingDisconnect map[string]time.Time
}

func NewManager(objects *persist.ObjectStore, universes *persist.UniverseRepo, combatMgr *combat.Manager, disconnectGrace time.Duration) *Manager {
	return &Manager{
		objects: objects, universes: universes, combatMgr: combatMgr,
		disconnectGrace: disconnectGrace, pendingDisconnect: make(map[string]time.Time),
	}
}

// IsSafeZone reports whether roomID is a safe zone for playerID: it equals
// the player's workroom_id, the room itself carries is_portal=true, or it
// equals the universe's configured portal room (mudd/src/player.rs's
// is_safe_zone). The universe is resolved from whichever of the player or
// room object is found, rather than taken as a parameter, since both
// objects already carry their own UniverseID.
func (m *Manager) IsSafeZone(ctx context.Context, playerID, roomID string) (bool, error) {
	pl, err := m.objects.Get(ctx, playerID)
	if err != nil {
		return false, err
	}
	if pl != nil {
		if wr, ok := pl.Properties["workroom_id"].(string); ok && wr == roomID {
			return true, nil
		}
	}
	room, err := m.objects.Get(ctx, roomID)
	if err != nil {
		return false, err
	}
	if room != nil {
		if isPortal, ok := room.Properties["is_portal"].(bool); ok && isPortal {
			return true, nil
		}
	}
	universeID := ""
	switch {
	case pl != nil:
		universeID = pl.UniverseID
	case room != nil:
		universeID = room.UniverseID
	default:
		return false, nil
	}
	portalID, ok, err := m.universes.GetPortal(ctx, universeID)
	if err != nil {
		return false, err
	}
	return ok && portalID == roomID, nil
}

// SpawnLocation resolves where playerID should appear, in priority order:
// (1) its last recorded safe location, if that room still exists; (2) its
// current parent room, if that room still exists AND is itself a safe
// zone; (3) the universe's portal (mudd/src/player.rs's
// get_spawn_location). A player with no object yet (first connect) falls
// straight through to the portal.
func (m *Manager) SpawnLocation(ctx context.Context, universeID, playerID string) (string, error) {
	pl, err := m.objects.Get(ctx, playerID)
	if err != nil {
		return "", err
	}
	if pl != nil {
		if lastSafe, ok := pl.Properties["last_safe_location"].(string); ok && lastSafe != "" {
			if room, err := m.objects.Get(ctx, lastSafe); err == nil && room != nil {
				return lastSafe, nil
			}
		}
		if pl.ParentID != nil {
			if room, err := m.objects.Get(ctx, *pl.ParentID); err == nil && room != nil {
				if safe, err := m.IsSafeZone(ctx, playerID, *pl.ParentID); err == nil && safe {
					return *pl.ParentID, nil
				}
			}
		}
	}
	portalID, ok, err := m.universes.GetPortal(ctx, universeID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.New(apperr.NotFound, "universe has no portal room configured: "+universeID)
	}
	return portalID, nil
}

// EnsurePlayerObject loads accountID's persistent player object in
// universeID, creating one rooted at the spawn location if none exists
// yet — the "reuse across sessions" half of the lifecycle.
func (m *Manager) EnsurePlayerObject(ctx context.Context, universeID, accountID, playerObjectID string, defaultProps map[string]any) (*persist.Object, error) {
	existing, err := m.objects.Get(ctx, playerObjectID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	spawnRoom, err := m.SpawnLocation(ctx, universeID, playerObjectID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	obj := persist.Object{
		ID: playerObjectID, UniverseID: universeID, Class: "player",
		ParentID: &spawnRoom, Properties: defaultProps, OwnerID: &accountID,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := m.objects.Create(ctx, obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// Move reparents playerID to destRoomID with no safe-zone bookkeeping or
// permission check — used internally by Die and the disconnect sweep.
// Player-initiated moves go through the Game API's MoveObject (which
// applies the permission gate) and then TrackMove.
func (m *Manager) Move(ctx context.Context, playerID, destRoomID string) error {
	return m.objects.MoveObject(ctx, playerID, &destRoomID, time.Now())
}

// TrackMove records destRoomID as playerID's safe location if it qualifies
// as a safe zone, called after any successful player move
// (mudd/src/player.rs's move_player's safe-zone bookkeeping half; the
// reparent itself is performed separately by the caller through the Game
// API so that permission checks still apply).
func (m *Manager) TrackMove(ctx context.Context, playerID, destRoomID string) (bool, error) {
	safe, err := m.IsSafeZone(ctx, playerID, destRoomID)
	if err != nil || !safe {
		return safe, err
	}
	pl, err := m.objects.Get(ctx, playerID)
	if err != nil || pl == nil {
		return safe, err
	}
	pl.Properties["last_safe_location"] = destRoomID
	pl.UpdatedAt = time.Now()
	return safe, m.objects.Update(ctx, *pl)
}

// dropInventory reparents every non-fixed child of playerID to roomID,
// leaving fixed items (quest items, cursed equipment) where they are
// (mudd/src/player.rs's drop_inventory).
func (m *Manager) dropInventory(ctx context.Context, playerID, roomID string) error {
	items, err := m.objects.GetContents(ctx, playerID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, item := range items {
		if fixed, ok := item.Properties["fixed"].(bool); ok && fixed {
			continue
		}
		if err := m.objects.MoveObject(ctx, item.ID, &roomID, now); err != nil {
			return err
		}
	}
	return nil
}

// respawnLocation picks playerID's respawn room: its workroom_id if that
// room still exists, else the universe portal (mudd/src/player.rs's
// get_respawn_location).
func (m *Manager) respawnLocation(ctx context.Context, universeID string, pl *persist.Object) (string, error) {
	if workroomID, ok := pl.Properties["workroom_id"].(string); ok && workroomID != "" {
		if room, err := m.objects.Get(ctx, workroomID); err == nil && room != nil {
			return workroomID, nil
		}
	}
	portalID, ok, err := m.universes.GetPortal(ctx, universeID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.New(apperr.NotFound, "player has no workroom and universe has no portal room configured: "+universeID)
	}
	return portalID, nil
}

// Die implements death (§4.N): inventory is dropped to the current room
// unconditionally regardless of safe-zone status, hit points reset to max,
// and the player is reparented to its respawn room
// (mudd/src/player.rs's handle_death).
func (m *Manager) Die(ctx context.Context, universeID, playerID string) error {
	m.combatMgr.EndCombat(playerID)
	if state, ok := m.combatMgr.Get(playerID); ok {
		state.HP = state.MaxHP
	}

	pl, err := m.objects.Get(ctx, playerID)
	if err != nil {
		return err
	}
	if pl == nil {
		return apperr.New(apperr.NotFound, "player not found: "+playerID)
	}
	if pl.ParentID != nil {
		if err := m.dropInventory(ctx, playerID, *pl.ParentID); err != nil {
			return err
		}
	}

	respawnRoom, err := m.respawnLocation(ctx, universeID, pl)
	if err != nil {
		return err
	}

	if maxHP, ok := pl.Properties["max_hp"]; ok {
		pl.Properties["hp"] = maxHP
	}
	pl.UpdatedAt = time.Now()
	if err := m.objects.Update(ctx, *pl); err != nil {
		return err
	}
	return m.Move(ctx, playerID, respawnRoom)
}

// handleDisconnectTransfer applies the disconnect-grace consequence for one
// expired player: a no-op if their current room is safe (inventory stays
// put), otherwise their non-fixed inventory is dropped there and they are
// moved to their last safe location if it still exists, or left in place
// otherwise (mudd/src/player.rs's handle_disconnect).
func (m *Manager) handleDisconnectTransfer(ctx context.Context, playerID string) error {
	pl, err := m.objects.Get(ctx, playerID)
	if err != nil || pl == nil || pl.ParentID == nil {
		return err
	}
	roomID := *pl.ParentID
	safe, err := m.IsSafeZone(ctx, playerID, roomID)
	if err != nil {
		return err
	}
	if safe {
		return nil
	}
	if err := m.dropInventory(ctx, playerID, roomID); err != nil {
		return err
	}
	lastSafe, ok := pl.Properties["last_safe_location"].(string)
	if !ok || lastSafe == "" {
		return nil
	}
	room, err := m.objects.Get(ctx, lastSafe)
	if err != nil || room == nil {
		return err
	}
	return m.Move(ctx, playerID, lastSafe)
}

// Disconnect starts the grace window for playerID; the player object
// remains in the world (other players still see them) until IsGraceExpired
// reports true, matching "brief network blip shouldn't yank a player out
// of the room".
func (m *Manager) Disconnect(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingDisconnect[playerID] = time.Now().Add(m.disconnectGrace)
}

// Reconnect cancels any pending grace-period disconnect for playerID.
func (m *Manager) Reconnect(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pendingDisconnect, playerID)
}

// IsGraceExpired reports whether playerID's disconnect grace window has
// elapsed without a reconnect.
func (m *Manager) IsGraceExpired(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline, ok := m.pendingDisconnect[playerID]
	if !ok {
		return false
	}
	return time.Now().After(deadline)
}

// SweepExpired clears every pending disconnect whose grace window has
// elapsed, applies handleDisconnectTransfer to each (best-effort: a
// transfer failure for one player doesn't block the others or stop them
// being reported expired), and returns their ids for the caller to log —
// called once per server tick.
func (m *Manager) SweepExpired(ctx context.Context) []string {
	m.mu.Lock()
	var expired []string
	now := time.Now()
	for id, deadline := range m.pendingDisconnect {
		if now.After(deadline) {
			expired = append(expired, id)
			delete(m.pendingDisconnect, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		_ = m.handleDisconnectTransfer(ctx, id)
	}
	return expired
}
