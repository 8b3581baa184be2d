package msqlsrv

import "fmt"

// ErrorKind enumerates the MySQL server error codes this library (or its
// shim) can signal to the client, each paired with the 5-character SQLSTATE
// MySQL itself reports for that code (§6, §8 scenario 6).
type ErrorKind uint16

const (
	ErrNo                   ErrorKind = 1105 // ER_UNKNOWN_ERROR / generic catch-all, sqlstate HY000
	ErrAccessDenied         ErrorKind = 1045 // ER_ACCESS_DENIED_ERROR
	ErrBadDB                ErrorKind = 1049 // ER_BAD_DB_ERROR
	ErrNoSuchTable          ErrorKind = 1146 // ER_NO_SUCH_TABLE
	ErrParseError           ErrorKind = 1064 // ER_PARSE_ERROR
	ErrUnknownComError      ErrorKind = 1047 // ER_UNKNOWN_COM_ERROR
	ErrWrongArguments       ErrorKind = 1210 // ER_WRONG_ARGUMENTS
	ErrUnknownStmtHandler   ErrorKind = 1243 // ER_UNKNOWN_STMT_HANDLER
	ErrNotSupportedYet      ErrorKind = 1235 // ER_NOT_SUPPORTED_YET
	ErrInternalError        ErrorKind = 1815 // ER_INTERNAL_ERROR
)

// sqlstate returns the 5-character SQLSTATE MySQL associates with k. Codes
// this library doesn't special-case fall back to "HY000", matching real
// servers' default general-error state.
func (k ErrorKind) sqlstate() string {
	switch k {
	case ErrAccessDenied:
		return "28000"
	case ErrBadDB:
		return "42000"
	case ErrNoSuchTable:
		return "42S02"
	case ErrParseError:
		return "42000"
	case ErrUnknownComError:
		return "08S01"
	case ErrWrongArguments:
		return "HY000"
	case ErrUnknownStmtHandler:
		return "HY000"
	case ErrNotSupportedYet:
		return "HY000"
	default:
		return "HY000"
	}
}

// Error pairs an ErrorKind with a message; its Error method formats both
// together with the kind's SQLSTATE. The writer methods that emit ERR
// packets take the kind and message directly. An *Error returned from a
// Handler callback is not turned into an ERR packet: like any other
// returned error, it ends the connection.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("msqlsrv: %s (errno %d, sqlstate %s)", e.Msg, e.Kind, e.Kind.sqlstate())
}

// NewError builds an application-level *Error. Its Kind and Msg fields are
// the arguments writer methods such as QueryResultWriter.Error or
// RowWriter.FinishError take.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// encodeErrPacket renders an ERR packet payload (§4.E): 0xFF, error code
// (2 bytes LE), '#', 5-byte SQLSTATE, then the UTF-8 message.
func encodeErrPacket(kind ErrorKind, msg string) []byte {
	buf := make([]byte, 0, 9+len(msg))
	buf = append(buf, 0xff)
	buf = appendUint16(buf, uint16(kind))
	buf = append(buf, '#')
	buf = append(buf, kind.sqlstate()...)
	buf = append(buf, msg...)
	return buf
}
