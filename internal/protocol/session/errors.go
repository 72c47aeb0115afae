package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/danmuck/mtsession/internal/protocol/frame"
)

var (
	ErrTimeout          = errors.New("session: request timed out")
	ErrMaxRetries       = fmt.Errorf("%w: exceeded maximum number of retries", ErrTimeout)
	ErrNotRunning       = fmt.Errorf("%w: session not running", ErrTimeout)
	ErrSessionStopped   = errors.New("session: stopped")
	ErrNotConnected     = errors.New("session: connection closed")
	ErrDuplicateRequest = errors.New("session: duplicate pending message id")
	ErrResendBudget     = errors.New("session: resend budget exhausted")
	ErrInvalidOptions   = errors.New("session: invalid options")
	ErrDialFailed       = errors.New("session: dial failed")
)

// IsTransportError reports whether err is recovered by reconnecting and retrying.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrSessionStopped),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, frame.ErrEmptyFrame),
		errors.Is(err, frame.ErrShortHeader),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var te *frame.TransportError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
