package errcode

import "fmt"

// Error represents a business error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code: e.Code,
		Msg:  fmt.Sprintf("%s: %v", e.Msg, err),
	}
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam    = New(1001, "invalid parameter")
	ErrInternalServer  = New(1002, "internal server error")
	ErrUnauthorized    = New(1003, "unauthorized")
	ErrForbidden       = New(1004, "forbidden")
	ErrNotFound        = New(1005, "not found")
	ErrTooManyRequests = New(1006, "too many requests")
	ErrNoPermission    = New(1007, "no permission to access this resource")

	// Auth errors (2xxx)
	ErrTokenInvalid  = New(2001, "token invalid")
	ErrTokenExpired  = New(2002, "token expired")
	ErrTokenMissing  = New(2003, "token missing")
	ErrTokenMismatch = New(2004, "token user mismatch")
	ErrLoginFailed   = New(2005, "login failed")
	ErrUserNotFound  = New(2006, "user not found")
	ErrUserExists    = New(2007, "user already exists")
	ErrPasswordWrong = New(2008, "password wrong")

	// Conversation errors (3xxx)
	ErrChannelNotFound   = New(3001, "channel not found")
	ErrChannelArchived   = New(3002, "channel has been archived")
	ErrNotChannelMember  = New(3003, "not a channel member")
	ErrNotChannelOwner   = New(3005, "not channel owner")
	ErrThreadNotFound    = New(3006, "dm thread not found")
	ErrThreadTooFewUsers = New(3007, "dm thread needs at least two members")
	ErrConvNotFound      = New(3008, "conversation not found")

	// Message errors (4xxx)
	ErrMessageNotFound = New(4001, "message not found")
	ErrNotAuthor       = New(4002, "not the message author")
	ErrReplyDepth      = New(4003, "replies cannot have replies")
	ErrMessageDeleted  = New(4004, "message has been deleted")
	ErrSendFailed      = New(4005, "message send failed")
	ErrSearchFailed    = New(4006, "search failed")

	// Realtime errors (5xxx)
	ErrConnOverLimit    = New(5001, "connection over max limit")
	ErrConnClosed       = New(5002, "connection closed")
	ErrInvalidProtocol  = New(5003, "invalid protocol")
	ErrUnauthenticated  = New(5005, "connection not authenticated")
	ErrTenantMismatch   = New(5006, "connection has no tenant")
	ErrAccessDenied     = New(5007, "access denied")
	ErrMalformedRequest = New(5008, "malformed request")
	ErrStoreUnavailable = New(5009, "store unavailable")
)
