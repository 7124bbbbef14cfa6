package perm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWizardBypassesEverything(t *testing.T) {
	u := User{AccountID: "a1", AccessLevel: Wizard}
	d := Check(u, Modify, Target{ObjectID: "/d/forest", OwnerID: "other", IsFixed: true})
	assert.True(t, d.Allowed)
}

func TestOwnerAllowed(t *testing.T) {
	u := User{AccountID: "a1", AccessLevel: Player}
	d := Check(u, Modify, Target{ObjectID: "/players/p-a1", OwnerID: "a1"})
	assert.True(t, d.Allowed)
}

func TestGrantAllowsModify(t *testing.T) {
	u := User{AccountID: "a1", AccessLevel: Player, Grants: []Grant{{PathPrefix: "/d/forest"}}}
	d := Check(u, Modify, Target{ObjectID: "/d/forest/cave", OwnerID: "other"})
	assert.True(t, d.Allowed)
}

func TestPlayerDefaultReadExecuteAllowed(t *testing.T) {
	u := User{AccountID: "a1", AccessLevel: Player}
	assert.True(t, Check(u, Read, Target{ObjectID: "/x"}).Allowed)
	assert.True(t, Check(u, Execute, Target{ObjectID: "/x"}).Allowed)
}

func TestPlayerMoveDeniedWhenFixed(t *testing.T) {
	u := User{AccountID: "a1", AccessLevel: Player}
	d := Check(u, Move, Target{ObjectID: "/x", IsFixed: true})
	assert.False(t, d.Allowed)
}

func TestPlayerModifyDeniedWithoutGrant(t *testing.T) {
	u := User{AccountID: "a1", AccessLevel: Player}
	d := Check(u, Modify, Target{ObjectID: "/x", OwnerID: "someone-else"})
	assert.False(t, d.Allowed)
}

func TestAdminConfigRequiresAdmin(t *testing.T) {
	wizard := User{AccessLevel: Wizard}
	assert.False(t, Check(wizard, AdminConfig, Target{}).Allowed)
	admin := User{AccessLevel: Admin}
	assert.True(t, Check(admin, AdminConfig, Target{}).Allowed)
}

func TestStoreCodeRequiresWizard(t *testing.T) {
	builder := User{AccessLevel: Builder}
	assert.False(t, Check(builder, StoreCode, Target{}).Allowed)
	wizard := User{AccessLevel: Wizard}
	assert.True(t, Check(wizard, StoreCode, Target{}).Allowed)
}

func TestGrantCoverage(t *testing.T) {
	g := Grant{PathPrefix: "/d/forest"}
	assert.True(t, g.Covers("/d/forest"))
	assert.True(t, g.Covers("/d/forest/cave"))
	assert.False(t, g.Covers("/d/forestville"))
}

func TestCheckMoveRequiresBothEnds(t *testing.T) {
	u := User{AccountID: "a1", AccessLevel: Player, Grants: []Grant{{PathPrefix: "/d/forest"}}}
	d := CheckMove(u, Target{ObjectID: "/d/forest/cave"}, Target{ObjectID: "/d/town"})
	assert.False(t, d.Allowed)
}

func TestUserConstructors(t *testing.T) {
	assert.Equal(t, User{AccountID: "a1", AccessLevel: Player}, NewPlayerUser("a1"))
	assert.Equal(t, Wizard, NewWizardUser("a1").AccessLevel)
	assert.Equal(t, Admin, NewAdminUser("a1").AccessLevel)
	assert.Equal(t, Owner, NewOwnerUser("a1").AccessLevel)

	grants := []Grant{{PathPrefix: "/d/forest"}}
	builder := NewBuilderUser("a1", grants)
	assert.Equal(t, Builder, builder.AccessLevel)
	assert.Equal(t, grants, builder.Grants)
}

func TestNewBuilderUserStillNeedsGrantToModify(t *testing.T) {
	bare := NewBuilderUser("a1", nil)
	d := Check(bare, Modify, Target{ObjectID: "/d/forest", OwnerID: "someone-else"})
	assert.False(t, d.Allowed)

	granted := NewBuilderUser("a1", []Grant{{PathPrefix: "/d/forest"}})
	d = Check(granted, Modify, Target{ObjectID: "/d/forest/cave", OwnerID: "someone-else"})
	assert.True(t, d.Allowed)
}
