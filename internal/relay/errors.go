package relay

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies a SyncError.
type ErrorType string

const (
	ErrConnectionFailed       ErrorType = "CONNECTION_FAILED"
	ErrConnectionLost         ErrorType = "CONNECTION_LOST"
	ErrInvalidMessage         ErrorType = "INVALID_MESSAGE"
	ErrServerError            ErrorType = "SERVER_ERROR"
	ErrTimeout                ErrorType = "TIMEOUT"
	ErrMaxReconnectAttempts   ErrorType = "MAX_RECONNECT_ATTEMPTS_EXCEEDED"
	ErrProtocolVersion        ErrorType = "PROTOCOL_VERSION"
	ErrInvalidStateTransition ErrorType = "INVALID_STATE_TRANSITION"
	ErrInvalidOperation       ErrorType = "INVALID_OPERATION"
)

// Caller-facing messages for phase-gated operations.
const (
	msgNotActive    = "only active clients can send tutorial state"
	msgNotConnected = "not connected to relay server"
)

// SyncError is the error value used both for call-site failures and for
// asynchronous reports delivered as ErrorOccurred events.
type SyncError struct {
	Type        ErrorType
	Message     string
	Timestamp   time.Time
	Recoverable bool
	Action      string // optional hint for the host, e.g. "call Connect again"
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Is matches any *SyncError of the same Type, so callers can write
// errors.Is(err, &relay.SyncError{Type: relay.ErrInvalidOperation}).
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	return ok && t.Type == e.Type
}

func newError(typ ErrorType, recoverable bool, format string, args ...any) *SyncError {
	return &SyncError{
		Type:        typ,
		Message:     fmt.Sprintf(format, args...),
		Timestamp:   time.Now(),
		Recoverable: recoverable,
	}
}

// IsType reports whether err is a *SyncError of the given type.
func IsType(err error, typ ErrorType) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Type == typ
}
