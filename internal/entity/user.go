package entity

// User represents a user in the system. Every user belongs to exactly one
// tenant; cross-tenant membership is impossible by construction.
type User struct {
	Id        string  `json:"id" gorm:"column:id;primaryKey"`
	TenantId  string  `json:"tenant_id" gorm:"column:tenant_id"`
	Nickname  string  `json:"nickname" gorm:"column:nickname"`
	Avatar    string  `json:"avatar" gorm:"column:avatar"`
	Password  string  `json:"-" gorm:"column:password"`
	Extra     *string `json:"extra" gorm:"column:extra;type:json"`
	CreatedAt int64   `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt int64   `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli"`
}

// TableName returns the table name for User
func (User) TableName() string {
	return "users"
}

// UserInfo represents public user info (without password)
type UserInfo struct {
	Id        string `json:"id"`
	TenantId  string `json:"tenant_id"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
	CreatedAt int64  `json:"created_at"`
}

// ToUserInfo converts User to UserInfo
func (u *User) ToUserInfo() *UserInfo {
	return &UserInfo{
		Id:        u.Id,
		TenantId:  u.TenantId,
		Nickname:  u.Nickname,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt,
	}
}
