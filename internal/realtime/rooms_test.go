package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomMap_SubscribeUnsubscribe(t *testing.T) {
	rooms := NewRoomMap()
	client, _ := newTestClient("conn1", "u1", "t1", nil)

	rooms.Subscribe("room:a", client)
	rooms.Subscribe("room:a", client) // idempotent
	assert.True(t, rooms.Contains("room:a", "conn1"))
	assert.Len(t, rooms.Members("room:a"), 1)
	assert.Equal(t, []string{"room:a"}, client.Rooms())

	rooms.Unsubscribe("room:a", client)
	assert.False(t, rooms.Contains("room:a", "conn1"))
	assert.Equal(t, 0, rooms.RoomCount(), "empty rooms are dropped")
	assert.Empty(t, client.Rooms())
}

func TestRoomMap_RemoveConn(t *testing.T) {
	rooms := NewRoomMap()
	client, _ := newTestClient("conn1", "u1", "t1", nil)
	other, _ := newTestClient("conn2", "u2", "t1", nil)

	rooms.Subscribe("room:a", client)
	rooms.Subscribe("room:b", client)
	rooms.Subscribe("room:a", other)

	rooms.RemoveConn(client)
	assert.False(t, rooms.Contains("room:a", "conn1"))
	assert.False(t, rooms.Contains("room:b", "conn1"))
	assert.True(t, rooms.Contains("room:a", "conn2"))
	assert.Equal(t, 1, rooms.RoomCount())
}

func TestRoomMap_Broadcast(t *testing.T) {
	rooms := NewRoomMap()
	sender, senderConn := newTestClient("conn1", "u1", "t1", nil)
	receiver, receiverConn := newTestClient("conn2", "u2", "t1", nil)
	outsider, outsiderConn := newTestClient("conn3", "u3", "t1", nil)

	rooms.Subscribe("room:a", sender)
	rooms.Subscribe("room:a", receiver)
	rooms.Subscribe("room:b", outsider)

	payload := []byte(`{"event":"message.new"}`)
	delivered := rooms.Broadcast("room:a", payload, "conn1")

	assert.Equal(t, 1, delivered)
	assert.Empty(t, senderConn.Frames(), "originator is excluded")
	require.Len(t, receiverConn.Frames(), 1)
	assert.Equal(t, payload, receiverConn.Frames()[0])
	assert.Empty(t, outsiderConn.Frames())
}

func TestRoomMap_BroadcastSkipsClosedConns(t *testing.T) {
	rooms := NewRoomMap()
	open, openConn := newTestClient("conn1", "u1", "t1", nil)
	closed, _ := newTestClient("conn2", "u2", "t1", nil)

	rooms.Subscribe("room:a", open)
	rooms.Subscribe("room:a", closed)
	closed.Close()

	delivered := rooms.Broadcast("room:a", []byte(`{}`), "")
	assert.Equal(t, 1, delivered)
	assert.Len(t, openConn.Frames(), 1)
}
