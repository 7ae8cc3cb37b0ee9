package entity

// ReadPointer marks the last message a user has seen in a conversation.
// One row per (user, conversation) pair, upserted. Unread counts are derived
// by comparing message created_at against the pointed message's created_at,
// never by message id ordering.
type ReadPointer struct {
	Id                int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	UserId            string `json:"user_id" gorm:"column:user_id;uniqueIndex:uk_user_conv"`
	ConversationType  string `json:"conversation_type" gorm:"column:conversation_type;uniqueIndex:uk_user_conv"`
	ConversationId    string `json:"conversation_id" gorm:"column:conversation_id;uniqueIndex:uk_user_conv"`
	LastReadMessageId string `json:"last_read_message_id" gorm:"column:last_read_message_id"`
	LastReadAt        int64  `json:"last_read_at" gorm:"column:last_read_at"`
	UpdatedAt         int64  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli"`
}

// TableName returns the table name for ReadPointer
func (ReadPointer) TableName() string {
	return "read_pointers"
}

// UnreadCount represents the unread count for one conversation
type UnreadCount struct {
	ConversationType string `json:"conversation_type" gorm:"column:conversation_type"`
	ConversationId   string `json:"conversation_id" gorm:"column:conversation_id"`
	Count            int64  `json:"count" gorm:"column:count"`
}
