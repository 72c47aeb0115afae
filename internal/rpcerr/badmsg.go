package rpcerr

import (
	"errors"
	"fmt"
)

var badMsgText = map[int32]string{
	16: "The msg_id is too low, the client time has to be synchronized.",
	17: "The msg_id is too high, the client time has to be synchronized.",
	18: "Incorrect two lower order of the msg_id bits, the server expects the client message msg_id to be divisible by 4.",
	19: "The container msg_id is the same as the msg_id of a previously received message.",
	20: "The message is too old, it cannot be verified by the server.",
	32: "The msg_seqno is too low.",
	33: "The msg_seqno is too high.",
	34: "An even msg_seqno was expected, but an odd one was received.",
	35: "An odd msg_seqno was expected, but an even one was received.",
	48: "Incorrect server salt.",
	64: "Invalid container.",
}

// BadMsgDescription returns the text for a bad_msg_notification code.
func BadMsgDescription(code int32) string {
	if text, ok := badMsgText[code]; ok {
		return text
	}
	return "Unknown error code"
}

// BadMsgError is returned when the server rejects a message at the session level.
type BadMsgError struct {
	Code     int32
	BadMsgID uint64
}

func (e *BadMsgError) Error() string {
	return fmt.Sprintf("bad msg notification [%d] %s", e.Code, BadMsgDescription(e.Code))
}

// ClockSkew reports whether the code asks for time synchronization.
func (e *BadMsgError) ClockSkew() bool { return e.Code == 16 || e.Code == 17 }

// ErrSecurityCheckMismatch marks inbound traffic that failed replay or integrity checks.
var ErrSecurityCheckMismatch = errors.New("security check mismatch")

// SecurityError names the failed check.
type SecurityError struct {
	Reason string
}

func Security(reason string) *SecurityError { return &SecurityError{Reason: reason} }

func (e *SecurityError) Error() string {
	return "security check failed: " + e.Reason
}

func (e *SecurityError) Unwrap() error { return ErrSecurityCheckMismatch }
