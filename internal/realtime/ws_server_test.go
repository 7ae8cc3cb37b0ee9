package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/pkg/constant"
	"github.com/parlorhq/parlor/pkg/errcode"
)

func newTestWsServer(store MembershipStore) *WsServer {
	cfg := &config.Config{}
	cfg.WebSocket.MaxConnNum = 100
	cfg.WebSocket.MaxMessageSize = 51200
	cfg.WebSocket.WriteChannelSize = 16
	cfg.WebSocket.MembershipTTL = 30 * time.Second
	cfg.Typing.TTL = 5 * time.Second
	cfg.Typing.SweepInterval = time.Second
	cfg.Presence.SweepInterval = 30 * time.Second
	cfg.Presence.StalenessThreshold = 2 * time.Minute
	return NewWsServer(cfg, nil, store)
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDispatch_UnknownEvent(t *testing.T) {
	ctx := context.Background()
	server := newTestWsServer(newFakeMembershipStore())
	client, _ := newTestClient("conn1", "u1", "t1", server)

	_, _, err := server.dispatch(ctx, client, &Request{Event: "message.send"})
	assert.Equal(t, errcode.ErrInvalidProtocol, err)
}

func TestDispatch_PingRepliesPong(t *testing.T) {
	ctx := context.Background()
	server := newTestWsServer(newFakeMembershipStore())
	client, _ := newTestClient("conn1", "u1", "t1", server)

	event, data, err := server.dispatch(ctx, client, &Request{Event: EventPresencePing})
	require.NoError(t, err)
	assert.Equal(t, EventPong, event)
	assert.Nil(t, data)

	// Anonymous connections cannot ping
	anon, _ := newTestClient("conn2", "", "", server)
	_, _, err = server.dispatch(ctx, anon, &Request{Event: EventPresencePing})
	assert.Equal(t, errcode.ErrUnauthenticated, err)
}

func TestDispatch_TypingBroadcast(t *testing.T) {
	ctx := context.Background()
	store := newFakeMembershipStore()
	store.members[store.memberKey(constant.ConversationTypeChannel, "c1", "u1")] = true
	store.members[store.memberKey(constant.ConversationTypeChannel, "c1", "u2")] = true
	server := newTestWsServer(store)

	typer, typerConn := newTestClient("conn1", "u1", "t1", server)
	watcher, watcherConn := newTestClient("conn2", "u2", "t1", server)
	room := ConversationRoom(constant.ConversationTypeChannel, "c1")
	server.rooms.Subscribe(room, typer)
	server.rooms.Subscribe(room, watcher)

	startReq := &Request{
		Event: EventTypingStart,
		Data:  mustMarshal(t, TypingReq{ConversationType: constant.ConversationTypeChannel, ConversationId: "c1"}),
	}

	_, _, err := server.dispatch(ctx, typer, startReq)
	require.NoError(t, err)
	assert.Equal(t, 1, watcherConn.EventCount(EventTypingUpdate))
	assert.Equal(t, 0, typerConn.EventCount(EventTypingUpdate), "originator is excluded")

	// Re-arming within the TTL broadcasts nothing
	_, _, err = server.dispatch(ctx, typer, startReq)
	require.NoError(t, err)
	assert.Equal(t, 1, watcherConn.EventCount(EventTypingUpdate))

	stopReq := &Request{
		Event: EventTypingStop,
		Data:  mustMarshal(t, TypingReq{ConversationType: constant.ConversationTypeChannel, ConversationId: "c1"}),
	}
	_, _, err = server.dispatch(ctx, typer, stopReq)
	require.NoError(t, err)
	assert.Equal(t, 2, watcherConn.EventCount(EventTypingUpdate))

	responses := watcherConn.Responses()
	last := responses[len(responses)-1]
	payload := mustMarshal(t, last.Data)
	var delta TypingUpdateData
	require.NoError(t, json.Unmarshal(payload, &delta))
	assert.Equal(t, "u1", delta.UserId)
	assert.False(t, delta.IsTyping)
}

func TestDispatch_TypingDeniedForNonMember(t *testing.T) {
	ctx := context.Background()
	server := newTestWsServer(newFakeMembershipStore())
	client, _ := newTestClient("conn1", "u1", "t1", server)

	req := &Request{
		Event: EventTypingStart,
		Data:  mustMarshal(t, TypingReq{ConversationType: constant.ConversationTypeChannel, ConversationId: "c1"}),
	}
	_, _, err := server.dispatch(ctx, client, req)
	assert.Equal(t, errcode.ErrAccessDenied, err)
}

func TestDispatch_RoomJoin(t *testing.T) {
	ctx := context.Background()
	store := newFakeMembershipStore()
	store.accessible[store.memberKey(constant.ConversationTypeChannel, "c1", "u1")] = true
	server := newTestWsServer(store)
	client, _ := newTestClient("conn1", "u1", "t1", server)

	t.Run("conversation with access", func(t *testing.T) {
		req := &Request{
			Event: EventRoomJoin,
			Data: mustMarshal(t, RoomReq{
				TargetType:       "conversation",
				TargetId:         "c1",
				ConversationType: constant.ConversationTypeChannel,
			}),
		}
		_, _, err := server.dispatch(ctx, client, req)
		require.NoError(t, err)
		assert.True(t, server.rooms.Contains(ConversationRoom(constant.ConversationTypeChannel, "c1"), "conn1"))
	})

	t.Run("conversation without access", func(t *testing.T) {
		req := &Request{
			Event: EventRoomJoin,
			Data: mustMarshal(t, RoomReq{
				TargetType:       "conversation",
				TargetId:         "c2",
				ConversationType: constant.ConversationTypeChannel,
			}),
		}
		_, _, err := server.dispatch(ctx, client, req)
		assert.Equal(t, errcode.ErrAccessDenied, err)
		assert.False(t, server.rooms.Contains(ConversationRoom(constant.ConversationTypeChannel, "c2"), "conn1"))
	})

	t.Run("own tenant", func(t *testing.T) {
		req := &Request{
			Event: EventRoomJoin,
			Data:  mustMarshal(t, RoomReq{TargetType: "tenant", TargetId: "t1"}),
		}
		_, _, err := server.dispatch(ctx, client, req)
		require.NoError(t, err)
		assert.True(t, server.rooms.Contains(TenantRoom("t1"), "conn1"))
	})

	t.Run("foreign tenant", func(t *testing.T) {
		req := &Request{
			Event: EventRoomJoin,
			Data:  mustMarshal(t, RoomReq{TargetType: "tenant", TargetId: "t2"}),
		}
		_, _, err := server.dispatch(ctx, client, req)
		assert.Equal(t, errcode.ErrAccessDenied, err)
	})

	t.Run("foreign user room", func(t *testing.T) {
		req := &Request{
			Event: EventRoomJoin,
			Data:  mustMarshal(t, RoomReq{TargetType: "user", TargetId: "u2"}),
		}
		_, _, err := server.dispatch(ctx, client, req)
		assert.Equal(t, errcode.ErrAccessDenied, err)
	})

	t.Run("unknown target type", func(t *testing.T) {
		req := &Request{
			Event: EventRoomJoin,
			Data:  mustMarshal(t, RoomReq{TargetType: "galaxy", TargetId: "x"}),
		}
		_, _, err := server.dispatch(ctx, client, req)
		assert.Equal(t, errcode.ErrMalformedRequest, err)
	})
}

func TestDispatch_WorkspaceRoomIsTenantScoped(t *testing.T) {
	ctx := context.Background()
	server := newTestWsServer(newFakeMembershipStore())
	client, conn := newTestClient("conn1", "u1", "t1", server)

	// Joining with another tenant's workspace id lands in a room keyed by
	// the caller's own tenant
	req := &Request{
		Event: EventRoomJoin,
		Data:  mustMarshal(t, RoomReq{TargetType: "workspace", TargetId: "ws9"}),
	}
	_, _, err := server.dispatch(ctx, client, req)
	require.NoError(t, err)
	assert.True(t, server.rooms.Contains(WorkspaceRoom("t1", "ws9"), "conn1"))
	assert.False(t, server.rooms.Contains(WorkspaceRoom("t2", "ws9"), "conn1"))

	// Tenant-2 traffic for the same workspace id never reaches the client
	server.Publish(WorkspaceRoom("t2", "ws9"), EventMessageNew, map[string]interface{}{"id": "m1"}, "")
	assert.Equal(t, 0, conn.EventCount(EventMessageNew))

	server.Publish(WorkspaceRoom("t1", "ws9"), EventMessageNew, map[string]interface{}{"id": "m2"}, "")
	assert.Equal(t, 1, conn.EventCount(EventMessageNew))
}

func TestDispatch_RoomLeaveInvalidatesMembership(t *testing.T) {
	ctx := context.Background()
	store := newFakeMembershipStore()
	store.members[store.memberKey(constant.ConversationTypeChannel, "c1", "u1")] = true
	server := newTestWsServer(store)
	client, _ := newTestClient("conn1", "u1", "t1", server)

	// Prime the cache through a typing event
	startReq := &Request{
		Event: EventTypingStart,
		Data:  mustMarshal(t, TypingReq{ConversationType: constant.ConversationTypeChannel, ConversationId: "c1"}),
	}
	_, _, err := server.dispatch(ctx, client, startReq)
	require.NoError(t, err)
	assert.Equal(t, 1, server.oracle.CacheSize())

	leaveReq := &Request{
		Event: EventRoomLeave,
		Data: mustMarshal(t, RoomReq{
			TargetType:       "conversation",
			TargetId:         "c1",
			ConversationType: constant.ConversationTypeChannel,
		}),
	}
	_, _, err = server.dispatch(ctx, client, leaveReq)
	require.NoError(t, err)
	assert.Equal(t, 0, server.oracle.CacheSize())
}

func TestClient_HandleMessageReplies(t *testing.T) {
	server := newTestWsServer(newFakeMembershipStore())
	client, conn := newTestClient("conn1", "u1", "t1", server)

	client.handleMessage([]byte(`{"event":"presence.ping","op_id":"op-7"}`))

	responses := conn.Responses()
	require.Len(t, responses, 1)
	assert.Equal(t, EventPong, responses[0].Event)
	assert.Equal(t, "op-7", responses[0].OpId)
	assert.Equal(t, 0, responses[0].Code)
}

func TestClient_HandleMessageErrors(t *testing.T) {
	server := newTestWsServer(newFakeMembershipStore())
	client, conn := newTestClient("conn1", "", "", server)

	// Malformed JSON
	client.handleMessage([]byte(`{not json`))
	// Unauthenticated handler access
	client.handleMessage([]byte(`{"event":"presence.ping","op_id":"op-1"}`))

	responses := conn.Responses()
	require.Len(t, responses, 2)
	assert.Equal(t, EventError, responses[0].Event)
	assert.Equal(t, errcode.ErrInvalidProtocol.Code, responses[0].Code)
	assert.Equal(t, EventError, responses[1].Event)
	assert.Equal(t, errcode.ErrUnauthenticated.Code, responses[1].Code)
	assert.Equal(t, "op-1", responses[1].OpId)
}

func TestUnregister_BroadcastsTypingStopsBeforeRoomRemoval(t *testing.T) {
	ctx := context.Background()
	store := newFakeMembershipStore()
	store.members[store.memberKey(constant.ConversationTypeChannel, "c1", "u1")] = true
	server := newTestWsServer(store)

	typer, _ := newTestClient("conn1", "u1", "t1", server)
	watcher, watcherConn := newTestClient("conn2", "u2", "t1", server)
	room := ConversationRoom(constant.ConversationTypeChannel, "c1")
	server.rooms.Subscribe(room, typer)
	server.rooms.Subscribe(room, watcher)

	startReq := &Request{
		Event: EventTypingStart,
		Data:  mustMarshal(t, TypingReq{ConversationType: constant.ConversationTypeChannel, ConversationId: "c1"}),
	}
	_, _, err := server.dispatch(ctx, typer, startReq)
	require.NoError(t, err)
	require.Equal(t, 1, watcherConn.EventCount(EventTypingUpdate))

	server.onlineConnNum.Add(1)
	server.unregisterClient(ctx, typer)

	// The watcher sees the synthesized stop even though the typer is gone
	assert.Equal(t, 2, watcherConn.EventCount(EventTypingUpdate))
	assert.False(t, server.rooms.Contains(room, "conn1"))
	assert.Equal(t, 0, server.oracle.CacheSize())
}

func TestPublish_MarshalsOnce(t *testing.T) {
	server := newTestWsServer(newFakeMembershipStore())
	a, aConn := newTestClient("conn1", "u1", "t1", server)
	b, bConn := newTestClient("conn2", "u2", "t1", server)
	server.rooms.Subscribe("room:x", a)
	server.rooms.Subscribe("room:x", b)

	server.Publish("room:x", EventMessageNew, map[string]string{"id": "m1"}, "")

	require.Len(t, aConn.Frames(), 1)
	require.Len(t, bConn.Frames(), 1)
	assert.Equal(t, aConn.Frames()[0], bConn.Frames()[0])
}

func TestOriginAllowed(t *testing.T) {
	server := newTestWsServer(newFakeMembershipStore())

	// Empty allowlist admits everything
	assert.True(t, server.originAllowed("https://example.com"))

	server.cfg.Server.AllowedOrigins = []string{"https://app.example.com"}
	assert.True(t, server.originAllowed("https://app.example.com"))
	assert.False(t, server.originAllowed("https://evil.example.com"))

	server.cfg.Server.AllowedOrigins = []string{"*"}
	assert.True(t, server.originAllowed("https://anything.example.com"))
}
