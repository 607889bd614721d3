package mysql

import (
	"errors"
	"fmt"
)

// ErrDecodeViolation marks a packet-layer decode failure (§7, taxonomy 1):
// a field ran past the payload or a lenenc integer was malformed. The
// connection is torn down; no ERR packet is attempted.
var ErrDecodeViolation = errors.New("mysql: decode violation")

// ErrUnsupportedCommand marks a command byte Dispatch has no handler
// for, whether a known but unimplemented command or an unknown byte
// (§7, taxonomy 2). The driver closes the connection gracefully.
var ErrUnsupportedCommand = errors.New("mysql: unsupported command")

// ErrInvariant marks an internal invariant violation (§7, taxonomy 5),
// e.g. a prepared statement id present in one session index but not the
// other. Fatal per-connection, logged at error level by the caller.
var ErrInvariant = errors.New("mysql: invariant violation")

// ServerError is a MySQL ERR_Packet in Go-error clothing. Backend
// failures (§7, taxonomy 4) are translated into one of these and
// written to the client without closing the connection.
type ServerError struct {
	Code     uint16
	SQLState string
	Message  string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("mysql error %d (%s): %s", e.Code, e.SQLState, e.Message)
}

// NewServerError builds a ServerError, padding/truncating the SQLSTATE to
// the 5 bytes the wire format requires.
func NewServerError(code uint16, sqlState, message string) *ServerError {
	state := sqlState
	if len(state) < 5 {
		state = state + "     "
	}
	return &ServerError{Code: code, SQLState: state[:5], Message: message}
}

// ErrAccessDenied builds the ERR 1045 / SQLSTATE 28000 auth failure.
// No auth path returns it: HandleAuthFastPath accepts any user name,
// including an empty one, and the proxy does not verify passwords.
func ErrAccessDenied(user string) *ServerError {
	return NewServerError(1045, "28000", fmt.Sprintf("Access denied for user '%s'", user))
}

// ErrBackend wraps a downstream failure as a generic ERR_Packet. 1064 is
// MySQL's generic syntax-error code, used here as the default mapped
// code when the backend driver doesn't hand us a real MySQL errno.
func ErrBackend(err error) *ServerError {
	return NewServerError(1064, "HY000", err.Error())
}
