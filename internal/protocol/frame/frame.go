package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the size of the little-endian payload length prefix.
const HeaderLen = 4

var (
	ErrShortHeader     = errors.New("frame: short length header")
	ErrEmptyFrame      = errors.New("frame: zero-length frame")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 8 * 1024 * 1024}
}

var transportErrorText = map[int32]string{
	404: "auth key not found",
	429: "transport flood",
	444: "invalid DC",
}

// TransportError is a 4-byte frame carrying a negative error code instead of a packet.
type TransportError struct {
	Code int32
}

func (e *TransportError) Error() string {
	if text, ok := transportErrorText[e.Code]; ok {
		return fmt.Sprintf("frame: transport error %d: %s", e.Code, text)
	}
	return fmt.Sprintf("frame: transport error %d", e.Code)
}

// Description returns the known text for the code, or "".
func (e *TransportError) Description() string { return transportErrorText[e.Code] }

// ReadFrame reads one length-prefixed payload. A zero-length frame yields ErrEmptyFrame
// and a 4-byte negative payload yields *TransportError.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if n > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if err := AsTransportError(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes header and payload with a single Write call.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if uint64(len(payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderLen+len(payload))
	binary.LittleEndian.PutUint32(buf[:HeaderLen], uint32(len(payload)))
	copy(buf[HeaderLen:], payload)
	_, err := w.Write(buf)
	return err
}

// EncodeTransportError builds the payload a server sends to report code.
func EncodeTransportError(code int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(-code))
	return b
}

// AsTransportError returns a *TransportError when payload is an error frame, else nil.
func AsTransportError(payload []byte) error {
	if len(payload) != 4 {
		return nil
	}
	v := int32(binary.LittleEndian.Uint32(payload))
	if v >= 0 {
		return nil
	}
	return &TransportError{Code: -v}
}
