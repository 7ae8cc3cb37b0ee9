package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/parlorhq/parlor/pkg/constant"
)

// Request is the inbound event envelope
type Request struct {
	Event string          `json:"event"` // Event kind
	OpId  string          `json:"op_id"` // Client operation Id for correlation
	Data  json.RawMessage `json:"data"`  // Event payload
}

// Response is the outbound event envelope
type Response struct {
	Event string      `json:"event"`           // Event kind (echo back or server push)
	OpId  string      `json:"op_id,omitempty"` // Operation Id (echo back)
	Code  int         `json:"code"`            // Error code, 0 = success
	Msg   string      `json:"msg,omitempty"`   // Error message
	Data  interface{} `json:"data,omitempty"`  // Event payload
}

// ConversationRef identifies a conversation in an inbound payload
type ConversationRef struct {
	ConversationType string `json:"conversation_type"`
	ConversationId   string `json:"conversation_id"`
}

// PresenceIdleReq represents a presence.idle request
type PresenceIdleReq struct {
	IsIdle bool `json:"is_idle"`
}

// TypingReq represents a typing.start / typing.stop request
type TypingReq struct {
	ConversationType string `json:"conversation_type"`
	ConversationId   string `json:"conversation_id"`
}

// RoomReq represents a room.join / room.leave request
type RoomReq struct {
	TargetType string `json:"target_type"` // conversation | tenant | user | workspace
	TargetId   string `json:"target_id"`
	// Set when TargetType is conversation
	ConversationType string `json:"conversation_type,omitempty"`
}

// PresenceUpdateData is the presence.update payload
type PresenceUpdateData struct {
	TenantId       string `json:"tenant_id"`
	UserId         string `json:"user_id"`
	Status         string `json:"status"`
	LastActivityAt int64  `json:"last_activity_at"`
}

// PresenceBulkUpdateData is the presence.bulkUpdate payload
type PresenceBulkUpdateData struct {
	Updates []PresenceUpdateData `json:"updates"`
}

// TypingUpdateData is the typing.update payload
type TypingUpdateData struct {
	ConversationType string `json:"conversation_type"`
	ConversationId   string `json:"conversation_id"`
	UserId           string `json:"user_id"`
	IsTyping         bool   `json:"is_typing"`
}

// ReadUpdatedData is the read.updated payload
type ReadUpdatedData struct {
	ConversationType  string `json:"conversation_type"`
	ConversationId    string `json:"conversation_id"`
	UserId            string `json:"user_id"`
	LastReadMessageId string `json:"last_read_message_id"`
	LastReadAt        int64  `json:"last_read_at"`
}

// Room key builders. Every room name flows through these so subscribe and
// broadcast always agree on the key format.

// ConversationRoom returns the room key for a conversation
func ConversationRoom(convType, convId string) string {
	return fmt.Sprintf("%s:%s:%s", constant.RoomKindConversation, convType, convId)
}

// TenantRoom returns the room key for a tenant
func TenantRoom(tenantId string) string {
	return fmt.Sprintf("%s:%s", constant.RoomKindTenant, tenantId)
}

// UserRoom returns the room key for a user
func UserRoom(userId string) string {
	return fmt.Sprintf("%s:%s", constant.RoomKindUser, userId)
}

// WorkspaceRoom returns the room key for a workspace. Workspace rooms are
// scoped to a tenant so a workspace id from another tenant can never alias
// into the caller's subscriptions.
func WorkspaceRoom(tenantId, workspaceId string) string {
	return fmt.Sprintf("%s:%s:%s", constant.RoomKindWorkspace, tenantId, workspaceId)
}
