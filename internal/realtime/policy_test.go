package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor/pkg/constant"
	"github.com/parlorhq/parlor/pkg/errcode"
)

func newTestEnforcer(store MembershipStore) *PolicyEnforcer {
	return NewPolicyEnforcer(NewMembershipOracle(store, 30*time.Second))
}

func TestPolicyEnforcer_RequireAuth(t *testing.T) {
	ctx := context.Background()
	enforcer := newTestEnforcer(newFakeMembershipStore())

	anon, _ := newTestClient("conn1", "", "", nil)
	_, err := enforcer.Enforce(ctx, anon, Requirements{RequireAuth: true}, nil)
	assert.Equal(t, errcode.ErrUnauthenticated, err)

	authed, _ := newTestClient("conn2", "u1", "t1", nil)
	ac, err := enforcer.Enforce(ctx, authed, Requirements{RequireAuth: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", ac.UserId)
	assert.Equal(t, "t1", ac.TenantId)
	assert.Equal(t, "conn2", ac.ConnId)
}

func TestPolicyEnforcer_RequireTenant(t *testing.T) {
	ctx := context.Background()
	enforcer := newTestEnforcer(newFakeMembershipStore())

	// Authenticated but without a tenant claim
	client, _ := newTestClient("conn1", "u1", "", nil)
	_, err := enforcer.Enforce(ctx, client, Requirements{RequireAuth: true, RequireTenant: true}, nil)
	assert.Equal(t, errcode.ErrTenantMismatch, err)
}

func TestPolicyEnforcer_Membership(t *testing.T) {
	ctx := context.Background()
	store := newFakeMembershipStore()
	store.members[store.memberKey(constant.ConversationTypeChannel, "c1", "u1")] = true
	enforcer := newTestEnforcer(store)

	req := Requirements{RequireAuth: true, RequireTenant: true, RequireMembership: true}
	ref := &ConversationRef{ConversationType: constant.ConversationTypeChannel, ConversationId: "c1"}

	member, _ := newTestClient("conn1", "u1", "t1", nil)
	_, err := enforcer.Enforce(ctx, member, req, ref)
	require.NoError(t, err)

	outsider, _ := newTestClient("conn2", "u2", "t1", nil)
	_, err = enforcer.Enforce(ctx, outsider, req, ref)
	assert.Equal(t, errcode.ErrAccessDenied, err)
}

func TestPolicyEnforcer_FailsClosedOnStoreError(t *testing.T) {
	ctx := context.Background()
	store := newFakeMembershipStore()
	store.err = errors.New("store down")
	enforcer := newTestEnforcer(store)

	client, _ := newTestClient("conn1", "u1", "t1", nil)
	req := Requirements{RequireAuth: true, RequireTenant: true, RequireMembership: true}
	ref := &ConversationRef{ConversationType: constant.ConversationTypeChannel, ConversationId: "c1"}

	_, err := enforcer.Enforce(ctx, client, req, ref)
	assert.Equal(t, errcode.ErrAccessDenied, err, "store errors must read as denial")
}

func TestPolicyEnforcer_MalformedRef(t *testing.T) {
	ctx := context.Background()
	enforcer := newTestEnforcer(newFakeMembershipStore())

	client, _ := newTestClient("conn1", "u1", "t1", nil)
	req := Requirements{RequireAuth: true, RequireTenant: true, RequireMembership: true}

	_, err := enforcer.Enforce(ctx, client, req, &ConversationRef{ConversationId: "c1"})
	assert.Equal(t, errcode.ErrMalformedRequest, err)

	_, err = enforcer.Enforce(ctx, client, req, &ConversationRef{ConversationType: constant.ConversationTypeChannel})
	assert.Equal(t, errcode.ErrMalformedRequest, err)
}

func TestPolicyEnforcer_NilRefSkipsConversationChecks(t *testing.T) {
	ctx := context.Background()
	store := newFakeMembershipStore()
	enforcer := newTestEnforcer(store)

	client, _ := newTestClient("conn1", "u1", "t1", nil)
	req := Requirements{RequireAuth: true, RequireTenant: true, RequireAccess: true}

	_, err := enforcer.Enforce(ctx, client, req, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, store.accessCalls)
}

func TestPolicyEnforcer_AccessCheck(t *testing.T) {
	ctx := context.Background()
	store := newFakeMembershipStore()
	store.accessible[store.memberKey(constant.ConversationTypeChannel, "c1", "u1")] = true
	enforcer := newTestEnforcer(store)

	req := Requirements{RequireAuth: true, RequireTenant: true, RequireAccess: true}
	ref := &ConversationRef{ConversationType: constant.ConversationTypeChannel, ConversationId: "c1"}

	allowed, _ := newTestClient("conn1", "u1", "t1", nil)
	_, err := enforcer.Enforce(ctx, allowed, req, ref)
	require.NoError(t, err)

	denied, _ := newTestClient("conn2", "u2", "t1", nil)
	_, err = enforcer.Enforce(ctx, denied, req, ref)
	assert.Equal(t, errcode.ErrAccessDenied, err)
}
