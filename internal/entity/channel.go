package entity

import "github.com/parlorhq/parlor/pkg/constant"

// Channel represents a tenant-wide conversation, optionally private,
// optionally archived
type Channel struct {
	Id            string  `json:"id" gorm:"column:id;primaryKey"`
	TenantId      string  `json:"tenant_id" gorm:"column:tenant_id"`
	Name          string  `json:"name" gorm:"column:name"`
	Topic         string  `json:"topic" gorm:"column:topic"`
	IsPrivate     bool    `json:"is_private" gorm:"column:is_private"`
	CreatorUserId string  `json:"creator_user_id" gorm:"column:creator_user_id"`
	ArchivedAt    *int64  `json:"archived_at" gorm:"column:archived_at"`
	Extra         *string `json:"extra" gorm:"column:extra;type:json"`
	CreatedAt     int64   `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt     int64   `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli"`
}

// TableName returns the table name for Channel
func (Channel) TableName() string {
	return "channels"
}

// IsArchived checks if the channel has been archived
func (c *Channel) IsArchived() bool {
	return c.ArchivedAt != nil
}

// ChannelMember represents a channel member
type ChannelMember struct {
	Id            int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ChannelId     string `json:"channel_id" gorm:"column:channel_id;uniqueIndex:uk_channel_user"`
	UserId        string `json:"user_id" gorm:"column:user_id;uniqueIndex:uk_channel_user"`
	RoleLevel     int32  `json:"role_level" gorm:"column:role_level"`
	Status        int32  `json:"status" gorm:"column:status"`
	InviterUserId string `json:"inviter_user_id" gorm:"column:inviter_user_id"`
	JoinedAt      int64  `json:"joined_at" gorm:"column:joined_at"`
	CreatedAt     int64  `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt     int64  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli"`
}

// TableName returns the table name for ChannelMember
func (ChannelMember) TableName() string {
	return "channel_members"
}

// IsActive checks if member status is active
func (m *ChannelMember) IsActive() bool {
	return m.Status == constant.ChannelMemberStatusActive
}

// IsOwner checks if member is the channel owner
func (m *ChannelMember) IsOwner() bool {
	return m.RoleLevel == constant.RoleLevelOwner
}

// ChannelInfo represents channel info with member count
type ChannelInfo struct {
	Id            string `json:"id"`
	TenantId      string `json:"tenant_id"`
	Name          string `json:"name"`
	Topic         string `json:"topic"`
	IsPrivate     bool   `json:"is_private"`
	CreatorUserId string `json:"creator_user_id"`
	ArchivedAt    *int64 `json:"archived_at,omitempty"`
	MemberCount   int64  `json:"member_count"`
	CreatedAt     int64  `json:"created_at"`
}
