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

// fakeMembershipStore is an in-memory MembershipStore with call counters
type fakeMembershipStore struct {
	members     map[string]bool // "convType:convId:userId"
	accessible  map[string]bool
	memberCalls int
	accessCalls int
	err         error
}

func newFakeMembershipStore() *fakeMembershipStore {
	return &fakeMembershipStore{
		members:    make(map[string]bool),
		accessible: make(map[string]bool),
	}
}

func (f *fakeMembershipStore) memberKey(convType, convId, userId string) string {
	return convType + ":" + convId + ":" + userId
}

func (f *fakeMembershipStore) IsConversationMember(ctx context.Context, convType, convId, userId string) (bool, error) {
	f.memberCalls++
	if f.err != nil {
		return false, f.err
	}
	return f.members[f.memberKey(convType, convId, userId)], nil
}

func (f *fakeMembershipStore) CanAccessConversation(ctx context.Context, convType, convId, userId, tenantId string) (bool, error) {
	f.accessCalls++
	if f.err != nil {
		return false, f.err
	}
	return f.accessible[f.memberKey(convType, convId, userId)], nil
}

func newTestOracle(store MembershipStore, ttl time.Duration, now *time.Time) *MembershipOracle {
	o := NewMembershipOracle(store, ttl)
	o.nowFunc = func() time.Time { return *now }
	return o
}

func TestMembershipOracle_CachesAnswers(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := newFakeMembershipStore()
	store.members[store.memberKey(constant.ConversationTypeChannel, "c1", "u1")] = true
	oracle := newTestOracle(store, 30*time.Second, &now)

	allowed, err := oracle.IsMember(ctx, "conn1", "u1", constant.ConversationTypeChannel, "c1")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, store.memberCalls)

	// Second lookup within the TTL hits the cache
	allowed, err = oracle.IsMember(ctx, "conn1", "u1", constant.ConversationTypeChannel, "c1")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, store.memberCalls)

	// Negative answers are cached too. Entries are keyed per connection,
	// so another connection's lookup goes to the store.
	allowed, err = oracle.IsMember(ctx, "conn2", "u2", constant.ConversationTypeChannel, "c1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 2, store.memberCalls)

	allowed, err = oracle.IsMember(ctx, "conn2", "u2", constant.ConversationTypeChannel, "c1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 2, store.memberCalls, "negative answer served from cache")
}

func TestMembershipOracle_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := newFakeMembershipStore()
	oracle := newTestOracle(store, 30*time.Second, &now)

	oracle.IsMember(ctx, "conn1", "u1", constant.ConversationTypeChannel, "c1")
	assert.Equal(t, 1, store.memberCalls)

	now = now.Add(31 * time.Second)
	oracle.IsMember(ctx, "conn1", "u1", constant.ConversationTypeChannel, "c1")
	assert.Equal(t, 2, store.memberCalls, "expired entry goes back to the store")
}

func TestMembershipOracle_NeverCachesErrors(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := newFakeMembershipStore()
	store.err = errors.New("store down")
	oracle := newTestOracle(store, 30*time.Second, &now)

	allowed, err := oracle.IsMember(ctx, "conn1", "u1", constant.ConversationTypeChannel, "c1")
	require.Error(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, oracle.CacheSize())

	// Store failures surface with the store-unavailable code
	var coded *errcode.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, errcode.ErrStoreUnavailable.Code, coded.Code)

	// Recovery is visible on the next lookup, not after a TTL
	store.err = nil
	store.members[store.memberKey(constant.ConversationTypeChannel, "c1", "u1")] = true
	allowed, err = oracle.IsMember(ctx, "conn1", "u1", constant.ConversationTypeChannel, "c1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMembershipOracle_Invalidate(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := newFakeMembershipStore()
	oracle := newTestOracle(store, 30*time.Second, &now)

	oracle.IsMember(ctx, "conn1", "u1", constant.ConversationTypeChannel, "c1")
	oracle.IsMember(ctx, "conn1", "u1", constant.ConversationTypeDm, "d1")
	oracle.IsMember(ctx, "conn2", "u2", constant.ConversationTypeChannel, "c1")
	assert.Equal(t, 3, oracle.CacheSize())

	oracle.Invalidate("conn1", constant.ConversationTypeChannel, "c1")
	assert.Equal(t, 2, oracle.CacheSize())

	oracle.InvalidateConn("conn1")
	assert.Equal(t, 1, oracle.CacheSize())

	oracle.IsMember(ctx, "conn1", "u1", constant.ConversationTypeChannel, "c1")
	assert.Equal(t, 4, store.memberCalls)
}

func TestMembershipOracle_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := newFakeMembershipStore()
	oracle := newTestOracle(store, 30*time.Second, &now)

	oracle.IsMember(ctx, "conn1", "u1", constant.ConversationTypeChannel, "c1")
	now = now.Add(20 * time.Second)
	oracle.IsMember(ctx, "conn1", "u1", constant.ConversationTypeChannel, "c2")

	now = now.Add(15 * time.Second)
	removed := oracle.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, oracle.CacheSize())
}

func TestMembershipOracle_AccessIsAlwaysFresh(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := newFakeMembershipStore()
	store.accessible[store.memberKey(constant.ConversationTypeChannel, "c1", "u1")] = true
	oracle := newTestOracle(store, 30*time.Second, &now)

	for i := 0; i < 3; i++ {
		allowed, err := oracle.CanAccess(ctx, "u1", "t1", constant.ConversationTypeChannel, "c1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.Equal(t, 3, store.accessCalls, "join-time access never hits the cache")
	assert.Equal(t, 0, oracle.CacheSize())
}
