package protocol

// Error codes carried in event frames and logs.
const (
	ErrInvalidRequest    = "INVALID_REQUEST"
	ErrNotConnected      = "NOT_CONNECTED"
	ErrSendFailed        = "SEND_FAILED"
	ErrTerminated        = "TERMINATED"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrResourceExhausted = "RESOURCE_EXHAUSTED"
	ErrInternal          = "INTERNAL"
)
