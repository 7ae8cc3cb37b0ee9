package realtime

import (
	"sync"
)

// RoomMap is the broadcast router. It maps room keys to the connections
// subscribed to them and carries no business logic: membership and access
// decisions happen before a connection reaches a room.
type RoomMap struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Client // roomKey -> connId -> client
}

// NewRoomMap creates a new RoomMap
func NewRoomMap() *RoomMap {
	return &RoomMap{
		rooms: make(map[string]map[string]*Client),
	}
}

// Subscribe adds a connection to a room. Subscribing twice is a no-op.
func (m *RoomMap) Subscribe(roomKey string, client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, exists := m.rooms[roomKey]
	if !exists {
		members = make(map[string]*Client, 4)
		m.rooms[roomKey] = members
	}
	members[client.ConnId] = client
	client.trackRoom(roomKey)
}

// Unsubscribe removes a connection from a room
func (m *RoomMap) Unsubscribe(roomKey string, client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, exists := m.rooms[roomKey]
	if !exists {
		return
	}
	delete(members, client.ConnId)
	if len(members) == 0 {
		delete(m.rooms, roomKey)
	}
	client.untrackRoom(roomKey)
}

// RemoveConn removes a connection from every room it joined
func (m *RoomMap) RemoveConn(client *Client) {
	for _, roomKey := range client.Rooms() {
		m.Unsubscribe(roomKey, client)
	}
}

// Members returns a snapshot of the connections in a room
func (m *RoomMap) Members(roomKey string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, exists := m.rooms[roomKey]
	if !exists {
		return nil
	}

	// Return a copy to avoid race conditions
	clients := make([]*Client, 0, len(members))
	for _, client := range members {
		clients = append(clients, client)
	}
	return clients
}

// Contains reports whether a connection is subscribed to a room
func (m *RoomMap) Contains(roomKey, connId string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, exists := m.rooms[roomKey]
	if !exists {
		return false
	}
	_, ok := members[connId]
	return ok
}

// Broadcast writes a pre-marshaled envelope to every connection in a room,
// optionally excluding one connection (usually the originator).
func (m *RoomMap) Broadcast(roomKey string, payload []byte, excludeConnId string) int {
	delivered := 0
	for _, client := range m.Members(roomKey) {
		if excludeConnId != "" && client.ConnId == excludeConnId {
			continue
		}
		if err := client.PushRaw(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// RoomCount returns the number of active rooms
func (m *RoomMap) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
