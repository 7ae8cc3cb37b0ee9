package realtime

import "time"

// Inbound event kinds
const (
	EventPresencePing = "presence.ping"
	EventPresenceIdle = "presence.idle"
	EventTypingStart  = "typing.start"
	EventTypingStop   = "typing.stop"
	EventRoomJoin     = "room.join"
	EventRoomLeave    = "room.leave"
)

// Outbound event kinds
const (
	EventPong               = "pong"
	EventPresenceUpdate     = "presence.update"
	EventPresenceBulkUpdate = "presence.bulkUpdate"
	EventTypingUpdate       = "typing.update"
	EventMessageNew         = "message.new"
	EventMessageUpdated     = "message.updated"
	EventMessageDeleted     = "message.deleted"
	EventReactionAdded      = "reaction.added"
	EventReactionRemoved    = "reaction.removed"
	EventPinAdded           = "pin.added"
	EventPinRemoved         = "pin.removed"
	EventReadUpdated        = "read.updated"
	EventError              = "error"
)

// Timeout constants
const (
	// WriteWait is time allowed to write a message to the peer
	WriteWait = 10 * time.Second

	// PongWait is time allowed to read the next pong message from the peer
	PongWait = 30 * time.Second

	// PingPeriod is period between pings. Must be less than PongWait
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is maximum message size allowed from peer
	MaxMessageSize = 51200
)

// Query parameter keys
const (
	QueryToken      = "token"
	QueryPlatformId = "platform_id"
)
