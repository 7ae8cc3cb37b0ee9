package constant

// Conversation types
const (
	ConversationTypeChannel = "channel"
	ConversationTypeDm      = "dm"
)

// Channel member status
const (
	ChannelMemberStatusActive = 0
	ChannelMemberStatusLeft   = 1
)

// Channel member roles
const (
	RoleLevelMember = 0
	RoleLevelAdmin  = 1
	RoleLevelOwner  = 2
)

// Presence status
const (
	PresenceOffline = "offline"
	PresenceOnline  = "online"
	PresenceIdle    = "idle"
)

// Room kinds for realtime addressing
const (
	RoomKindConversation = "conversation"
	RoomKindTenant       = "tenant"
	RoomKindUser         = "user"
	RoomKindWorkspace    = "workspace"
)

// Platform Ids
const (
	PlatformIdUnknown = 0
	PlatformIdIOS     = 1
	PlatformIdAndroid = 2
	PlatformIdWindows = 3
	PlatformIdMacOS   = 4
	PlatformIdWeb     = 5
)

// Redis key patterns (without prefix, use RedisKey() to get full key)
const (
	redisKeyToken  = "token:%s:%d"  // token:{user_id}:{platform_id}
	redisKeyOnline = "online:%s:%s" // online:{tenant_id}:{user_id}
)

// redisKeyPrefix is the global prefix for all Redis keys
var redisKeyPrefix = "parlor:"

// InitRedisKeyPrefix initializes the Redis key prefix from config
func InitRedisKeyPrefix(prefix string) {
	if prefix != "" {
		redisKeyPrefix = prefix
	}
}

// GetRedisKeyPrefix returns the current Redis key prefix
func GetRedisKeyPrefix() string {
	return redisKeyPrefix
}

// Redis key getters with prefix
func RedisKeyToken() string  { return redisKeyPrefix + redisKeyToken }
func RedisKeyOnline() string { return redisKeyPrefix + redisKeyOnline }
