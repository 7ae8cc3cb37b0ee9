package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor/internal/entity"
	"github.com/parlorhq/parlor/pkg/constant"
)

func TestCreateDmThreadDuplicateMemberKey(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewConversationRepo(db)

	memberKey := entity.DmMemberKey([]string{"u1", "u2"})
	require.NoError(t, repo.CreateDmThread(ctx, &entity.DmThread{
		Id:        "th1",
		TenantId:  "t1",
		MemberKey: memberKey,
	}, []string{"u1", "u2"}))

	// A racing creation for the same member set loses on the unique index
	err := repo.CreateDmThread(ctx, &entity.DmThread{
		Id:        "th2",
		TenantId:  "t1",
		MemberKey: memberKey,
	}, []string{"u1", "u2"})
	require.Error(t, err)

	// The loser re-reads and finds the winner's row
	thread, err := repo.GetDmThreadByMemberKey(ctx, "t1", memberKey)
	require.NoError(t, err)
	require.NotNil(t, thread)
	assert.Equal(t, "th1", thread.Id)

	// The losing transaction left no member rows behind
	members, err := repo.GetDmThreadMemberUserIds(ctx, "th2")
	require.NoError(t, err)
	assert.Empty(t, members)

	// Same member set in another tenant is a distinct thread
	require.NoError(t, repo.CreateDmThread(ctx, &entity.DmThread{
		Id:        "th3",
		TenantId:  "t2",
		MemberKey: memberKey,
	}, []string{"u1", "u2"}))
}

func TestGetDmThreadMembersByThreadIds(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewConversationRepo(db)

	require.NoError(t, repo.CreateDmThread(ctx, &entity.DmThread{
		Id:        "th1",
		TenantId:  "t1",
		MemberKey: entity.DmMemberKey([]string{"u1", "u2"}),
	}, []string{"u1", "u2"}))
	require.NoError(t, repo.CreateDmThread(ctx, &entity.DmThread{
		Id:        "th2",
		TenantId:  "t1",
		MemberKey: entity.DmMemberKey([]string{"u1", "u2", "u3"}),
	}, []string{"u1", "u2", "u3"}))

	members, err := repo.GetDmThreadMembersByThreadIds(ctx, []string{"th1", "th2", "missing"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, members["th1"])
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, members["th2"])
	assert.NotContains(t, members, "missing")

	members, err = repo.GetDmThreadMembersByThreadIds(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestAddChannelMemberRejoin(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewConversationRepo(db)

	member := &entity.ChannelMember{
		ChannelId: "c1",
		UserId:    "u1",
		RoleLevel: constant.RoleLevelMember,
		Status:    constant.ChannelMemberStatusActive,
		JoinedAt:  1000,
	}
	require.NoError(t, repo.AddChannelMember(ctx, member))
	require.NoError(t, repo.UpdateChannelMemberStatus(ctx, "c1", "u1", constant.ChannelMemberStatusLeft))

	// Re-joining upserts onto the (channel_id, user_id) unique key instead
	// of inserting a second row
	require.NoError(t, repo.AddChannelMember(ctx, &entity.ChannelMember{
		ChannelId: "c1",
		UserId:    "u1",
		RoleLevel: constant.RoleLevelMember,
		Status:    constant.ChannelMemberStatusActive,
		JoinedAt:  2000,
	}))

	var count int64
	require.NoError(t, db.Model(&entity.ChannelMember{}).
		Where("channel_id = ? AND user_id = ?", "c1", "u1").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := repo.GetChannelMember(ctx, "c1", "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsActive())
	assert.Equal(t, int64(2000), got.JoinedAt)
}
