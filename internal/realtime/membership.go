package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parlorhq/parlor/pkg/errcode"
)

// MembershipStore answers membership and access questions from the
// conversation store. Implemented by repository.ConversationRepo.
type MembershipStore interface {
	IsConversationMember(ctx context.Context, convType, convId, userId string) (bool, error)
	CanAccessConversation(ctx context.Context, convType, convId, userId, tenantId string) (bool, error)
}

type cacheEntry struct {
	allowed   bool
	expiresAt time.Time
}

// MembershipOracle answers membership questions for the policy enforcer.
// Positive and negative answers are cached per (connId, conversation) for a
// short TTL; entries are explicitly invalidated on room-leave and disconnect.
// Store lookup errors are returned so the caller can fail closed.
type MembershipOracle struct {
	mu      sync.Mutex
	store   MembershipStore
	ttl     time.Duration
	cache   map[string]cacheEntry // "<connId>|<convType>:<convId>" -> entry
	nowFunc func() time.Time
}

// NewMembershipOracle creates an oracle backed by the given store
func NewMembershipOracle(store MembershipStore, ttl time.Duration) *MembershipOracle {
	return &MembershipOracle{
		store:   store,
		ttl:     ttl,
		cache:   make(map[string]cacheEntry),
		nowFunc: time.Now,
	}
}

func cacheKey(connId, convType, convId string) string {
	return fmt.Sprintf("%s|%s:%s", connId, convType, convId)
}

// IsMember reports whether the user is an active member of the conversation.
// The answer is cached against the connection for the configured TTL.
func (o *MembershipOracle) IsMember(ctx context.Context, connId, userId, convType, convId string) (bool, error) {
	key := cacheKey(connId, convType, convId)

	o.mu.Lock()
	entry, ok := o.cache[key]
	now := o.nowFunc()
	o.mu.Unlock()

	if ok && now.Before(entry.expiresAt) {
		return entry.allowed, nil
	}

	allowed, err := o.store.IsConversationMember(ctx, convType, convId, userId)
	if err != nil {
		// Never cache an errored lookup
		return false, errcode.ErrStoreUnavailable.Wrap(err)
	}

	o.mu.Lock()
	o.cache[key] = cacheEntry{allowed: allowed, expiresAt: now.Add(o.ttl)}
	o.mu.Unlock()

	return allowed, nil
}

// CanAccess reports whether the user may enter the conversation at all.
// Join-time access is checked fresh on every call: it is rarer than the
// per-event membership check and gates cache population downstream.
func (o *MembershipOracle) CanAccess(ctx context.Context, userId, tenantId, convType, convId string) (bool, error) {
	allowed, err := o.store.CanAccessConversation(ctx, convType, convId, userId, tenantId)
	if err != nil {
		return false, errcode.ErrStoreUnavailable.Wrap(err)
	}
	return allowed, nil
}

// Invalidate drops the cached answer for one (connection, conversation) pair
func (o *MembershipOracle) Invalidate(connId, convType, convId string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cache, cacheKey(connId, convType, convId))
}

// InvalidateConn drops every cached answer held for a connection
func (o *MembershipOracle) InvalidateConn(connId string) {
	prefix := connId + "|"

	o.mu.Lock()
	defer o.mu.Unlock()
	for key := range o.cache {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(o.cache, key)
		}
	}
}

// Sweep drops expired entries. Called periodically so the cache does not
// accumulate entries for long-lived connections.
func (o *MembershipOracle) Sweep() int {
	now := o.nowFunc()

	o.mu.Lock()
	defer o.mu.Unlock()

	removed := 0
	for key, entry := range o.cache {
		if !now.Before(entry.expiresAt) {
			delete(o.cache, key)
			removed++
		}
	}
	return removed
}

// CacheSize returns the number of cached entries
func (o *MembershipOracle) CacheSize() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.cache)
}
