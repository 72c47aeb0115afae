package rpcerr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNormalizesNumericSuffix(t *testing.T) {
	e := New(420, "FLOOD_WAIT_17", "messages.SendMessage")
	assert.Equal(t, "FLOOD_WAIT_X", e.ID)
	assert.Equal(t, 17, e.Value)
	assert.Equal(t, "FLOOD_WAIT_17", e.Message)
	assert.Contains(t, e.Error(), "messages.SendMessage")
}

func TestClassesUnwrap(t *testing.T) {
	cases := []struct {
		code int32
		want error
	}{
		{303, ErrSeeOther},
		{400, ErrBadRequest},
		{401, ErrUnauthorized},
		{403, ErrForbidden},
		{406, ErrNotAcceptable},
		{420, ErrFlood},
		{500, ErrInternalServerError},
		{503, ErrServiceUnavailable},
		{418, ErrUnknown},
	}
	for _, tc := range cases {
		err := fmt.Errorf("wrapped: %w", New(tc.code, "SOME_ERROR", ""))
		assert.True(t, errors.Is(err, tc.want), "code %d", tc.code)
	}
}

func TestFloodWait(t *testing.T) {
	d, ok := FloodWait(New(420, "FLOOD_WAIT_3", "q"))
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = FloodWait(New(400, "PEER_ID_INVALID", "q"))
	assert.False(t, ok)
	_, ok = FloodWait(errors.New("plain"))
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(500, "RPC_CALL_FAIL", "")))
	assert.True(t, IsRetryable(New(503, "TIMEOUT", "")))
	assert.False(t, IsRetryable(New(400, "BAD", "")))
}

func TestAuthKeyDuplicated(t *testing.T) {
	assert.True(t, IsAuthKeyDuplicated(New(406, AuthKeyDuplicated, "")))
	assert.False(t, IsAuthKeyDuplicated(New(406, "OTHER", "")))
}

func TestBadMsgDescriptions(t *testing.T) {
	e := &BadMsgError{Code: 48}
	assert.Equal(t, "bad msg notification [48] Incorrect server salt.", e.Error())
	assert.False(t, e.ClockSkew())
	assert.True(t, (&BadMsgError{Code: 16}).ClockSkew())
	assert.Equal(t, "Unknown error code", BadMsgDescription(99))
}

func TestSecurityErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("recv: %w", Security("duplicate message id"))
	assert.ErrorIs(t, err, ErrSecurityCheckMismatch)
}
