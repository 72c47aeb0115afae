// Package rpcerr translates server error payloads into typed Go errors.
package rpcerr

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Class sentinels. Every *Error unwraps to exactly one of them.
var (
	ErrSeeOther            = errors.New("rpc: see other")
	ErrBadRequest          = errors.New("rpc: bad request")
	ErrUnauthorized        = errors.New("rpc: unauthorized")
	ErrForbidden           = errors.New("rpc: forbidden")
	ErrNotAcceptable       = errors.New("rpc: not acceptable")
	ErrFlood               = errors.New("rpc: flood")
	ErrInternalServerError = errors.New("rpc: internal server error")
	ErrServiceUnavailable  = errors.New("rpc: service unavailable")
	ErrUnknown             = errors.New("rpc: unknown error")
)

var classes = map[int32]error{
	303: ErrSeeOther,
	400: ErrBadRequest,
	401: ErrUnauthorized,
	403: ErrForbidden,
	406: ErrNotAcceptable,
	420: ErrFlood,
	500: ErrInternalServerError,
	503: ErrServiceUnavailable,
}

// AuthKeyDuplicated is the error id the server uses when the same key is used from two places.
const AuthKeyDuplicated = "AUTH_KEY_DUPLICATED"

var valuePattern = regexp.MustCompile(`_(\d+)`)

// Error is a server-reported failure of one query.
type Error struct {
	Code    int32
	ID      string
	Message string
	Value   int
	Query   string
}

// New normalizes message: a numeric suffix becomes "_X" and is kept in Value.
func New(code int32, message, query string) *Error {
	e := &Error{Code: code, ID: message, Message: message, Query: query}
	if m := valuePattern.FindStringSubmatch(message); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			e.Value = v
			e.ID = valuePattern.ReplaceAllString(message, "_X")
		}
	}
	return e
}

func (e *Error) Error() string {
	if e.Query == "" {
		return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("rpc error %d: %s (caused by %q)", e.Code, e.Message, e.Query)
}

func (e *Error) Unwrap() error {
	if c, ok := classes[e.Code]; ok {
		return c
	}
	return ErrUnknown
}

// FloodWait reports the server-requested delay when err is a flood-class error with a value.
func FloodWait(err error) (time.Duration, bool) {
	var e *Error
	if !errors.As(err, &e) || e.Code != 420 || e.Value <= 0 {
		return 0, false
	}
	return time.Duration(e.Value) * time.Second, true
}

// IsRetryable reports whether err is a transient server-side failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInternalServerError) || errors.Is(err, ErrServiceUnavailable)
}

// IsAuthKeyDuplicated reports whether err means the auth key can no longer be used.
func IsAuthKeyDuplicated(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.ID == AuthKeyDuplicated
}
