package realtime

import (
	"context"

	"github.com/mbeoliero/kit/log"

	"github.com/parlorhq/parlor/pkg/errcode"
)

// Requirements declares what a handler needs before it runs. Checks are
// evaluated in order: auth, tenant, then membership or access. The first
// failure short-circuits with no side effect.
type Requirements struct {
	RequireAuth       bool
	RequireTenant     bool
	RequireMembership bool // user must be an active conversation member
	RequireAccess     bool // user must be allowed to enter the conversation
}

// AuthorizedContext is the identity a handler receives after the policy
// checks pass. Handlers never read identity from the payload.
type AuthorizedContext struct {
	UserId   string
	TenantId string
	ConnId   string
}

// PolicyEnforcer runs the requirement checks against a connection. Store
// errors during membership or access lookups are denials: an unreachable
// store must never grant access.
type PolicyEnforcer struct {
	oracle *MembershipOracle
}

// NewPolicyEnforcer creates a policy enforcer backed by the oracle
func NewPolicyEnforcer(oracle *MembershipOracle) *PolicyEnforcer {
	return &PolicyEnforcer{oracle: oracle}
}

// Enforce evaluates the requirements for a connection against an optional
// conversation reference. Returns the authorized context on success, a coded
// error on the first failed check.
func (p *PolicyEnforcer) Enforce(ctx context.Context, client *Client, req Requirements, ref *ConversationRef) (*AuthorizedContext, error) {
	if req.RequireAuth && !client.IsAuthenticated() {
		return nil, errcode.ErrUnauthenticated
	}

	if req.RequireTenant && client.TenantId == "" {
		return nil, errcode.ErrTenantMismatch
	}

	if (req.RequireMembership || req.RequireAccess) && ref != nil {
		if ref.ConversationType == "" || ref.ConversationId == "" {
			return nil, errcode.ErrMalformedRequest
		}

		var allowed bool
		var err error
		if req.RequireMembership {
			allowed, err = p.oracle.IsMember(ctx, client.ConnId, client.UserId, ref.ConversationType, ref.ConversationId)
		} else {
			allowed, err = p.oracle.CanAccess(ctx, client.UserId, client.TenantId, ref.ConversationType, ref.ConversationId)
		}
		if err != nil {
			log.CtxError(ctx, "policy store lookup failed, denying: conn_id=%s, conversation=%s:%s, error=%v",
				client.ConnId, ref.ConversationType, ref.ConversationId, err)
			return nil, errcode.ErrAccessDenied
		}
		if !allowed {
			// Denial and not-found look identical to the caller
			log.CtxDebug(ctx, "policy denied: conn_id=%s, user_id=%s, conversation=%s:%s",
				client.ConnId, client.UserId, ref.ConversationType, ref.ConversationId)
			return nil, errcode.ErrAccessDenied
		}
	}

	return &AuthorizedContext{
		UserId:   client.UserId,
		TenantId: client.TenantId,
		ConnId:   client.ConnId,
	}, nil
}
