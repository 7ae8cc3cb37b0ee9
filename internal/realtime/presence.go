package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parlorhq/parlor/pkg/constant"
)

// presenceState holds one user's presence inside a tenant. Status is a
// function of the connection count and the idle flag: any open connection
// keeps the user online, so closing one of several never flickers to
// offline.
type presenceState struct {
	tenantId       string
	userId         string
	idle           bool
	connCount      int
	lastActivityAt time.Time
}

func (s *presenceState) status() string {
	if s.connCount <= 0 {
		return constant.PresenceOffline
	}
	if s.idle {
		return constant.PresenceIdle
	}
	return constant.PresenceOnline
}

// PresenceTracker tracks per (tenant, user) presence. Every mutation returns
// whether the visible status changed so callers broadcast only real
// transitions. An optional Redis mirror keeps an online flag with TTL for
// the HTTP surface.
type PresenceTracker struct {
	mu      sync.Mutex
	states  map[string]*presenceState // tenantId|userId
	rdb     *redis.Client
	nowFunc func() time.Time
}

// NewPresenceTracker creates a presence tracker. rdb may be nil.
func NewPresenceTracker(rdb *redis.Client) *PresenceTracker {
	return &PresenceTracker{
		states:  make(map[string]*presenceState),
		rdb:     rdb,
		nowFunc: time.Now,
	}
}

func presenceKey(tenantId, userId string) string {
	return tenantId + "|" + userId
}

// MarkConnected records a new connection for the user and reports whether
// the visible status changed (first connection brings the user online).
func (t *PresenceTracker) MarkConnected(ctx context.Context, tenantId, userId string) (PresenceUpdateData, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := presenceKey(tenantId, userId)
	state, exists := t.states[key]
	if !exists {
		state = &presenceState{tenantId: tenantId, userId: userId}
		t.states[key] = state
	}

	before := state.status()
	state.connCount++
	state.lastActivityAt = t.nowFunc()
	after := state.status()

	t.mirrorOnline(ctx, tenantId, userId)
	return t.updateLocked(state), before != after
}

// MarkDisconnected records a closed connection. The user goes offline only
// when the last connection closes.
func (t *PresenceTracker) MarkDisconnected(ctx context.Context, tenantId, userId string) (PresenceUpdateData, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := presenceKey(tenantId, userId)
	state, exists := t.states[key]
	if !exists {
		return PresenceUpdateData{TenantId: tenantId, UserId: userId, Status: constant.PresenceOffline}, false
	}

	before := state.status()
	state.connCount--
	if state.connCount <= 0 {
		delete(t.states, key)
		t.mirrorOffline(ctx, tenantId, userId)
		update := PresenceUpdateData{
			TenantId:       tenantId,
			UserId:         userId,
			Status:         constant.PresenceOffline,
			LastActivityAt: state.lastActivityAt.UnixMilli(),
		}
		return update, before != constant.PresenceOffline
	}

	return t.updateLocked(state), false
}

// RecordHeartbeat refreshes the user's activity clock. A heartbeat from an
// idle user brings them back online.
func (t *PresenceTracker) RecordHeartbeat(ctx context.Context, tenantId, userId string) (PresenceUpdateData, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, exists := t.states[presenceKey(tenantId, userId)]
	if !exists {
		return PresenceUpdateData{TenantId: tenantId, UserId: userId, Status: constant.PresenceOffline}, false
	}

	before := state.status()
	state.lastActivityAt = t.nowFunc()
	state.idle = false
	after := state.status()

	t.mirrorOnline(ctx, tenantId, userId)
	return t.updateLocked(state), before != after
}

// SetIdle toggles the idle flag. Idle is reachable only from online, so the
// flag has no effect on a user with no connections.
func (t *PresenceTracker) SetIdle(ctx context.Context, tenantId, userId string, isIdle bool) (PresenceUpdateData, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, exists := t.states[presenceKey(tenantId, userId)]
	if !exists {
		return PresenceUpdateData{TenantId: tenantId, UserId: userId, Status: constant.PresenceOffline}, false
	}

	before := state.status()
	state.idle = isIdle
	if !isIdle {
		state.lastActivityAt = t.nowFunc()
	}
	after := state.status()

	return t.updateLocked(state), before != after
}

// SweepStale force-disconnects users whose last activity exceeds the
// threshold. Returns one offline transition per swept user; the caller is
// responsible for closing their connections and broadcasting.
func (t *PresenceTracker) SweepStale(ctx context.Context, threshold time.Duration) []PresenceUpdateData {
	now := t.nowFunc()

	t.mu.Lock()
	defer t.mu.Unlock()

	var swept []PresenceUpdateData
	for key, state := range t.states {
		if now.Sub(state.lastActivityAt) <= threshold {
			continue
		}
		delete(t.states, key)
		t.mirrorOffline(ctx, state.tenantId, state.userId)
		swept = append(swept, PresenceUpdateData{
			TenantId:       state.tenantId,
			UserId:         state.userId,
			Status:         constant.PresenceOffline,
			LastActivityAt: state.lastActivityAt.UnixMilli(),
		})
	}
	return swept
}

// SnapshotTenant returns the current presence of every tracked user in a
// tenant, used for the bulk update sent to newly joined connections.
func (t *PresenceTracker) SnapshotTenant(tenantId string) []PresenceUpdateData {
	t.mu.Lock()
	defer t.mu.Unlock()

	var updates []PresenceUpdateData
	for _, state := range t.states {
		if state.tenantId != tenantId {
			continue
		}
		updates = append(updates, t.updateLocked(state))
	}
	return updates
}

// Status returns the user's current visible status
func (t *PresenceTracker) Status(tenantId, userId string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, exists := t.states[presenceKey(tenantId, userId)]
	if !exists {
		return constant.PresenceOffline
	}
	return state.status()
}

// IsOnline checks locally first, then the Redis mirror for answers about
// users connected to other instances.
func (t *PresenceTracker) IsOnline(ctx context.Context, tenantId, userId string) bool {
	if t.Status(tenantId, userId) != constant.PresenceOffline {
		return true
	}

	if t.rdb != nil {
		key := fmt.Sprintf(constant.RedisKeyOnline(), tenantId, userId)
		exists, _ := t.rdb.Exists(ctx, key).Result()
		return exists > 0
	}
	return false
}

func (t *PresenceTracker) updateLocked(state *presenceState) PresenceUpdateData {
	return PresenceUpdateData{
		TenantId:       state.tenantId,
		UserId:         state.userId,
		Status:         state.status(),
		LastActivityAt: state.lastActivityAt.UnixMilli(),
	}
}

func (t *PresenceTracker) mirrorOnline(ctx context.Context, tenantId, userId string) {
	if t.rdb == nil {
		return
	}
	key := fmt.Sprintf(constant.RedisKeyOnline(), tenantId, userId)
	t.rdb.Set(ctx, key, "1", 60*time.Second)
}

func (t *PresenceTracker) mirrorOffline(ctx context.Context, tenantId, userId string) {
	if t.rdb == nil {
		return
	}
	key := fmt.Sprintf(constant.RedisKeyOnline(), tenantId, userId)
	t.rdb.Del(ctx, key)
}
