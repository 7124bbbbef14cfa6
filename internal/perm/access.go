// Package perm resolves access levels and path grants to permission
// decisions. It never performs I/O itself; callers supply the user's
// access level, grants, and the target object's ownership/fixed flags.
package perm

import "strings"

type AccessLevel int

const (
	Player AccessLevel = iota
	Builder
	Wizard
	Admin
	Owner
)

func (a AccessLevel) String() string {
	switch a {
	case Player:
		return "player"
	case Builder:
		return "builder"
	case Wizard:
		return "wizard"
	case Admin:
		return "admin"
	case Owner:
		return "owner"
	default:
		return "unknown"
	}
}

func ParseAccessLevel(s string) (AccessLevel, bool) {
	switch s {
	case "player":
		return Player, true
	case "builder":
		return Builder, true
	case "wizard":
		return Wizard, true
	case "admin":
		return Admin, true
	case "owner":
		return Owner, true
	default:
		return 0, false
	}
}

func (a AccessLevel) CanBuild() bool         { return a >= Builder }
func (a AccessLevel) CanBypassFixed() bool   { return a >= Wizard }
func (a AccessLevel) CanAdmin() bool         { return a >= Admin }
func (a AccessLevel) CanGrantAdmin() bool    { return a >= Owner }

type Action string

const (
	Read         Action = "read"
	Modify       Action = "modify"
	Move         Action = "move"
	Delete       Action = "delete"
	Create       Action = "create"
	Execute      Action = "execute"
	StoreCode    Action = "store_code"
	AdminConfig  Action = "admin_config"
	GrantCredits Action = "grant_credits"
)

// Grant is a capability over a path prefix.
type Grant struct {
	ID          string
	UniverseID  string
	GranteeID   string
	PathPrefix  string
	CanDelegate bool
	GrantedBy   string
}

// Covers reports whether the grant covers path p: p equals PathPrefix, or p
// begins with PathPrefix + "/".
func (g Grant) Covers(p string) bool {
	if p == g.PathPrefix {
		return true
	}
	return strings.HasPrefix(p, g.PathPrefix+"/")
}

// Target describes the object a permission question is being asked about.
type Target struct {
	ObjectID string
	OwnerID  string
	IsFixed  bool
}

// User is the caller's resolved identity for a permission check.
type User struct {
	AccountID   string
	AccessLevel AccessLevel
	Grants      []Grant
}

// NewPlayerUser builds a bare Player-tier identity with no grants, the
// common case for an ordinary connected account.
func NewPlayerUser(accountID string) User {
	return User{AccountID: accountID, AccessLevel: Player}
}

// NewBuilderUser builds a Builder-tier identity scoped by grants, mirroring
// the original's UserContext::builder(account_id, universe_id, path_grants).
func NewBuilderUser(accountID string, grants []Grant) User {
	return User{AccountID: accountID, AccessLevel: Builder, Grants: grants}
}

func NewWizardUser(accountID string) User {
	return User{AccountID: accountID, AccessLevel: Wizard}
}

func NewAdminUser(accountID string) User {
	return User{AccountID: accountID, AccessLevel: Admin}
}

func NewOwnerUser(accountID string) User {
	return User{AccountID: accountID, AccessLevel: Owner}
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Check runs the first-match-wins algorithm from the access model.
func Check(user User, action Action, target Target) Decision {
	switch action {
	case AdminConfig, GrantCredits:
		if user.AccessLevel.CanAdmin() {
			return allow()
		}
		return deny("Requires admin access")
	case StoreCode:
		if user.AccessLevel >= Wizard {
			return allow()
		}
		return deny("Requires wizard access")
	}

	if user.AccessLevel >= Wizard {
		return allow()
	}
	if target.OwnerID != "" && target.OwnerID == user.AccountID {
		return allow()
	}
	for _, g := range user.Grants {
		if g.Covers(target.ObjectID) {
			return allow()
		}
	}

	switch action {
	case Read, Execute:
		return allow()
	case Move:
		if target.IsFixed {
			return deny("Object is fixed and cannot be moved")
		}
		return allow()
	case Modify, Delete, Create:
		return deny("No access to path: " + target.ObjectID)
	default:
		return deny("No access to path: " + target.ObjectID)
	}
}

// CheckMove requires a passing Check on both the source and destination
// paths — movement needs a grant (or wizard/owner) on both ends.
func CheckMove(user User, src, dst Target) Decision {
	if d := Check(user, Move, src); !d.Allowed {
		return d
	}
	return Check(user, Move, dst)
}

// CanDelegate reports whether user may create a grant over path whose
// prefix lies within one of their own can_delegate grants, or is a wizard.
func CanDelegate(user User, path string) bool {
	if user.AccessLevel >= Wizard {
		return true
	}
	for _, g := range user.Grants {
		if g.CanDelegate && g.Covers(path) {
			return true
		}
	}
	return false
}
