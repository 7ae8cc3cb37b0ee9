package realtime

import "errors"

// Realtime transport errors
var (
	ErrConnClosed       = errors.New("connection closed")
	ErrWriteChannelFull = errors.New("write channel full")
	ErrInvalidProtocol  = errors.New("invalid protocol")
	ErrPanic            = errors.New("panic error")
)
