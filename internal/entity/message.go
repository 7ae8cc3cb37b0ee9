package entity

// Message represents a message in a channel or DM thread. CreatedAt is
// assigned by the store and is the canonical ordering key for pagination and
// unread counting. Deletion is always soft: the body is cleared to a tombstone
// and the deleter recorded, the row never removed.
type Message struct {
	Id               string  `json:"id" gorm:"column:id;primaryKey"`
	TenantId         string  `json:"tenant_id" gorm:"column:tenant_id"`
	ConversationType string  `json:"conversation_type" gorm:"column:conversation_type"`
	ConversationId   string  `json:"conversation_id" gorm:"column:conversation_id"`
	AuthorId         string  `json:"author_id" gorm:"column:author_id"`
	Body             string  `json:"body" gorm:"column:body"`
	ParentMessageId  *string `json:"parent_message_id" gorm:"column:parent_message_id"`
	Attachments      *string `json:"attachments" gorm:"column:attachments;type:json"`
	EditedAt         *int64  `json:"edited_at" gorm:"column:edited_at"`
	DeletedAt        *int64  `json:"deleted_at" gorm:"column:deleted_at"`
	DeletedBy        string  `json:"deleted_by" gorm:"column:deleted_by"`
	CreatedAt        int64   `json:"created_at" gorm:"column:created_at"`
	UpdatedAt        int64   `json:"updated_at" gorm:"column:updated_at"`
}

// TableName returns the table name for Message
func (Message) TableName() string {
	return "messages"
}

// IsDeleted checks if the message is a tombstone
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// IsReply checks if the message is a thread reply
func (m *Message) IsReply() bool {
	return m.ParentMessageId != nil && *m.ParentMessageId != ""
}

// Reaction represents an emoji reaction, unique per (message, user, emoji)
type Reaction struct {
	Id        int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	MessageId string `json:"message_id" gorm:"column:message_id;uniqueIndex:uk_msg_user_emoji"`
	UserId    string `json:"user_id" gorm:"column:user_id;uniqueIndex:uk_msg_user_emoji"`
	Emoji     string `json:"emoji" gorm:"column:emoji;uniqueIndex:uk_msg_user_emoji"`
	CreatedAt int64  `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
}

// TableName returns the table name for Reaction
func (Reaction) TableName() string {
	return "reactions"
}

// Pin represents a pinned message in a conversation
type Pin struct {
	Id               int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ConversationType string `json:"conversation_type" gorm:"column:conversation_type;uniqueIndex:uk_conv_msg"`
	ConversationId   string `json:"conversation_id" gorm:"column:conversation_id;uniqueIndex:uk_conv_msg"`
	MessageId        string `json:"message_id" gorm:"column:message_id;uniqueIndex:uk_conv_msg"`
	PinnedBy         string `json:"pinned_by" gorm:"column:pinned_by"`
	CreatedAt        int64  `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
}

// TableName returns the table name for Pin
func (Pin) TableName() string {
	return "pins"
}

// ThreadSummary is derived from reply rows, never persisted. It must be
// recomputable at any time from messages alone.
type ThreadSummary struct {
	ParentMessageId   string `json:"parent_message_id" gorm:"column:parent_message_id"`
	ReplyCount        int64  `json:"reply_count" gorm:"column:reply_count"`
	LastReplyAt       int64  `json:"last_reply_at" gorm:"column:last_reply_at"`
	LastReplyAuthorId string `json:"last_reply_author_id" gorm:"column:last_reply_author_id"`
}

// ReactionInfo represents a reaction with its author resolved
type ReactionInfo struct {
	UserId   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Emoji    string `json:"emoji"`
}

// MessageInfo represents enriched message info for API responses
type MessageInfo struct {
	Id               string          `json:"id"`
	ConversationType string          `json:"conversation_type"`
	ConversationId   string          `json:"conversation_id"`
	Author           *UserInfo       `json:"author,omitempty"`
	AuthorId         string          `json:"author_id"`
	Body             string          `json:"body"`
	ParentMessageId  *string         `json:"parent_message_id,omitempty"`
	Attachments      *string         `json:"attachments,omitempty"`
	Reactions        []*ReactionInfo `json:"reactions,omitempty"`
	ThreadSummary    *ThreadSummary  `json:"thread_summary,omitempty"`
	EditedAt         *int64          `json:"edited_at,omitempty"`
	DeletedAt        *int64          `json:"deleted_at,omitempty"`
	CreatedAt        int64           `json:"created_at"`
}

// ToMessageInfo converts Message to MessageInfo without enrichment
func (m *Message) ToMessageInfo() *MessageInfo {
	return &MessageInfo{
		Id:               m.Id,
		ConversationType: m.ConversationType,
		ConversationId:   m.ConversationId,
		AuthorId:         m.AuthorId,
		Body:             m.Body,
		ParentMessageId:  m.ParentMessageId,
		Attachments:      m.Attachments,
		EditedAt:         m.EditedAt,
		DeletedAt:        m.DeletedAt,
		CreatedAt:        m.CreatedAt,
	}
}
