package rdp

import "fmt"

// ErrorCode classifies engine failures so callers can tell transient
// transport problems from credential or protocol faults.
type ErrorCode int

const (
	ErrConnect ErrorCode = iota + 1
	ErrTLS
	ErrAuth
	ErrProtocol
	ErrClosed
	ErrNotConnected
)

func (c ErrorCode) String() string {
	switch c {
	case ErrConnect:
		return "connect"
	case ErrTLS:
		return "tls"
	case ErrAuth:
		return "auth"
	case ErrProtocol:
		return "protocol"
	case ErrClosed:
		return "closed"
	case ErrNotConnected:
		return "not_connected"
	default:
		return "unknown"
	}
}

// Error wraps a failure with the operation that produced it and a
// classification code.
type Error struct {
	Op   string
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rdp: %s: %s error: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("rdp: %s: %s error", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, code ErrorCode, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}
