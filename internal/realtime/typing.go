package realtime

import (
	"sync"
	"time"
)

type convRef struct {
	convType string
	convId   string
}

type typingEntry struct {
	connId    string
	expiresAt time.Time
}

// TypingTracker tracks who is typing in which conversation. Entries expire
// after a fixed TTL; a start before expiry re-arms the timer without a
// state change. Disconnect cleanup force-stops every entry owned by the
// connection so other clients never see a ghost typer.
type TypingTracker struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[convRef]map[string]*typingEntry // conversation -> userId -> entry
	connIndex map[string]map[convRef]struct{}     // connId -> conversations with an owned entry
	nowFunc   func() time.Time
}

// NewTypingTracker creates a typing tracker with the given entry TTL
func NewTypingTracker(ttl time.Duration) *TypingTracker {
	return &TypingTracker{
		ttl:       ttl,
		entries:   make(map[convRef]map[string]*typingEntry),
		connIndex: make(map[string]map[convRef]struct{}),
		nowFunc:   time.Now,
	}
}

// Start records that a user began typing. Returns true only when this is a
// fresh transition; re-arming an unexpired entry returns false so callers
// skip the redundant broadcast.
func (t *TypingTracker) Start(userId, convType, convId, connId string) bool {
	ref := convRef{convType: convType, convId: convId}
	now := t.nowFunc()

	t.mu.Lock()
	defer t.mu.Unlock()

	users, exists := t.entries[ref]
	if !exists {
		users = make(map[string]*typingEntry, 2)
		t.entries[ref] = users
	}

	entry, exists := users[userId]
	if exists && now.Before(entry.expiresAt) {
		// Re-arm, ownership moves to the latest connection
		t.unindexLocked(entry.connId, ref)
		entry.connId = connId
		entry.expiresAt = now.Add(t.ttl)
		t.indexLocked(connId, ref)
		return false
	}

	users[userId] = &typingEntry{connId: connId, expiresAt: now.Add(t.ttl)}
	t.indexLocked(connId, ref)
	return !exists
}

// Stop clears a user's typing state. Returns true when there was an entry
// to clear.
func (t *TypingTracker) Stop(userId, convType, convId, connId string) bool {
	ref := convRef{convType: convType, convId: convId}

	t.mu.Lock()
	defer t.mu.Unlock()

	users, exists := t.entries[ref]
	if !exists {
		return false
	}
	entry, exists := users[userId]
	if !exists {
		return false
	}

	t.unindexLocked(entry.connId, ref)
	delete(users, userId)
	if len(users) == 0 {
		delete(t.entries, ref)
	}
	return true
}

// Sweep removes expired entries and synthesizes one stop delta per entry
func (t *TypingTracker) Sweep() []TypingUpdateData {
	now := t.nowFunc()

	t.mu.Lock()
	defer t.mu.Unlock()

	var deltas []TypingUpdateData
	for ref, users := range t.entries {
		for userId, entry := range users {
			if now.Before(entry.expiresAt) {
				continue
			}
			t.unindexLocked(entry.connId, ref)
			delete(users, userId)
			deltas = append(deltas, TypingUpdateData{
				ConversationType: ref.convType,
				ConversationId:   ref.convId,
				UserId:           userId,
				IsTyping:         false,
			})
		}
		if len(users) == 0 {
			delete(t.entries, ref)
		}
	}
	return deltas
}

// DisconnectCleanup force-stops every typing entry owned by a connection,
// returning one delta per affected conversation.
func (t *TypingTracker) DisconnectCleanup(connId string) []TypingUpdateData {
	t.mu.Lock()
	defer t.mu.Unlock()

	refs, exists := t.connIndex[connId]
	if !exists {
		return nil
	}
	delete(t.connIndex, connId)

	var deltas []TypingUpdateData
	for ref := range refs {
		users, ok := t.entries[ref]
		if !ok {
			continue
		}
		for userId, entry := range users {
			if entry.connId != connId {
				continue
			}
			delete(users, userId)
			deltas = append(deltas, TypingUpdateData{
				ConversationType: ref.convType,
				ConversationId:   ref.convId,
				UserId:           userId,
				IsTyping:         false,
			})
		}
		if len(users) == 0 {
			delete(t.entries, ref)
		}
	}
	return deltas
}

// TypingUsers returns the users currently typing in a conversation
func (t *TypingTracker) TypingUsers(convType, convId string) []string {
	ref := convRef{convType: convType, convId: convId}
	now := t.nowFunc()

	t.mu.Lock()
	defer t.mu.Unlock()

	users, exists := t.entries[ref]
	if !exists {
		return nil
	}

	userIds := make([]string, 0, len(users))
	for userId, entry := range users {
		if now.Before(entry.expiresAt) {
			userIds = append(userIds, userId)
		}
	}
	return userIds
}

func (t *TypingTracker) indexLocked(connId string, ref convRef) {
	refs, exists := t.connIndex[connId]
	if !exists {
		refs = make(map[convRef]struct{}, 2)
		t.connIndex[connId] = refs
	}
	refs[ref] = struct{}{}
}

func (t *TypingTracker) unindexLocked(connId string, ref convRef) {
	refs, exists := t.connIndex[connId]
	if !exists {
		return
	}
	delete(refs, ref)
	if len(refs) == 0 {
		delete(t.connIndex, connId)
	}
}
