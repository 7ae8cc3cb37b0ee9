package entity

// DmThread represents a direct-message thread with a fixed member set.
// MemberKey is derived from the sorted member ids, so the same set always
// resolves to the same thread row. Membership is immutable once created.
type DmThread struct {
	Id          string `json:"id" gorm:"column:id;primaryKey"`
	TenantId    string `json:"tenant_id" gorm:"column:tenant_id"`
	MemberKey   string `json:"-" gorm:"column:member_key;uniqueIndex:uk_tenant_member_key,composite:tenant_id"`
	MemberCount int32  `json:"member_count" gorm:"column:member_count"`
	CreatedAt   int64  `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt   int64  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli"`
}

// TableName returns the table name for DmThread
func (DmThread) TableName() string {
	return "dm_threads"
}

// DmThreadMember represents a member of a DM thread
type DmThreadMember struct {
	Id        int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ThreadId  string `json:"thread_id" gorm:"column:thread_id"`
	UserId    string `json:"user_id" gorm:"column:user_id"`
	CreatedAt int64  `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
}

// TableName returns the table name for DmThreadMember
func (DmThreadMember) TableName() string {
	return "dm_thread_members"
}

// DmThreadInfo represents thread info with resolved members
type DmThreadInfo struct {
	Id        string      `json:"id"`
	TenantId  string      `json:"tenant_id"`
	Members   []*UserInfo `json:"members"`
	CreatedAt int64       `json:"created_at"`
}
