package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor/internal/entity"
	"github.com/parlorhq/parlor/internal/realtime"
	"github.com/parlorhq/parlor/pkg/constant"
)

func TestPinBroadcasts(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)
	pub := &spyPublisher{}
	svc := NewMessageService(repos, nil, pub)

	require.NoError(t, repos.Conversation.CreateChannel(ctx, &entity.Channel{
		Id:            "c1",
		TenantId:      "t1",
		Name:          "general",
		CreatorUserId: "u1",
	}))
	require.NoError(t, repos.DB.Create(&entity.Message{
		Id:               "m1",
		TenantId:         "t1",
		ConversationType: constant.ConversationTypeChannel,
		ConversationId:   "c1",
		AuthorId:         "u1",
		Body:             "keep this",
		CreatedAt:        1000,
		UpdatedAt:        1000,
	}).Error)

	require.NoError(t, svc.PinMessage(ctx, "u1", "m1"))
	assert.Equal(t, 1, pub.count(realtime.EventPinAdded))

	// Pinning twice is a no-op and does not re-broadcast
	require.NoError(t, svc.PinMessage(ctx, "u1", "m1"))
	assert.Equal(t, 1, pub.count(realtime.EventPinAdded))

	require.NoError(t, svc.UnpinMessage(ctx, "u1", "m1"))
	assert.Equal(t, 1, pub.count(realtime.EventPinRemoved))

	// Unpinning an unpinned message stays silent
	require.NoError(t, svc.UnpinMessage(ctx, "u1", "m1"))
	assert.Equal(t, 1, pub.count(realtime.EventPinRemoved))

	room := realtime.ConversationRoom(constant.ConversationTypeChannel, "c1")
	for _, e := range pub.events {
		assert.Equal(t, room, e.roomKey)
	}
}
