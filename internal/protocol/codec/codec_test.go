package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/mtsession/internal/protocol"
)

func newPair(t *testing.T) (*Codec, *Codec) {
	t.Helper()
	key, err := GenerateAuthKey()
	require.NoError(t, err)
	client, err := NewClient(key)
	require.NoError(t, err)
	server, err := NewServer(key)
	require.NoError(t, err)
	return client, server
}

func TestClientToServerRoundTrip(t *testing.T) {
	client, server := newPair(t)

	msg := protocol.Message{MsgID: 0x6553f10000000004, SeqNo: 3, Body: &protocol.Ping{PingID: 77}}
	b, err := client.Pack(msg, 0xaa, 0xbb)
	require.NoError(t, err)

	p, err := server.Unpack(b, 0xbb)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xaa), p.Salt)
	assert.Equal(t, msg.MsgID, p.Message.MsgID)
	assert.Equal(t, msg.SeqNo, p.Message.SeqNo)
	ping, ok := p.Message.Body.(*protocol.Ping)
	require.True(t, ok)
	assert.Equal(t, int64(77), ping.PingID)
}

func TestServerToClientRoundTrip(t *testing.T) {
	client, server := newPair(t)

	msg := protocol.Message{MsgID: 0x6553f10000000001, SeqNo: 1, Body: &protocol.Pong{MsgID: 4, PingID: 5}}
	b, err := server.Pack(msg, 1, 2)
	require.NoError(t, err)
	p, err := client.Unpack(b, 2)
	require.NoError(t, err)
	assert.IsType(t, &protocol.Pong{}, p.Message.Body)
}

func TestUnpackRejectsWrongSession(t *testing.T) {
	client, server := newPair(t)
	b, err := server.Pack(protocol.Message{MsgID: 5, Body: &protocol.Pong{}}, 1, 2)
	require.NoError(t, err)
	_, err = client.Unpack(b, 3)
	assert.True(t, errors.Is(err, ErrSessionMismatch), "got %v", err)
}

func TestUnpackRejectsOwnDirection(t *testing.T) {
	client, _ := newPair(t)
	b, err := client.Pack(protocol.Message{MsgID: 4, Body: &protocol.Ping{}}, 1, 2)
	require.NoError(t, err)
	_, err = client.Unpack(b, 2)
	assert.True(t, errors.Is(err, ErrDecrypt), "got %v", err)
}

func TestUnpackRejectsClientParityFromServer(t *testing.T) {
	client, server := newPair(t)
	b, err := server.Pack(protocol.Message{MsgID: 8, Body: &protocol.Pong{}}, 1, 2)
	require.NoError(t, err)
	_, err = client.Unpack(b, 2)
	assert.True(t, errors.Is(err, ErrMsgIDParity), "got %v", err)
}

func TestUnpackRejectsForeignKey(t *testing.T) {
	client, _ := newPair(t)
	_, other := newPair(t)
	b, err := other.Pack(protocol.Message{MsgID: 5, Body: &protocol.Pong{}}, 1, 2)
	require.NoError(t, err)
	_, err = client.Unpack(b, 2)
	assert.True(t, errors.Is(err, ErrAuthKeyMismatch), "got %v", err)
}

func TestUnpackShortPacket(t *testing.T) {
	client, _ := newPair(t)
	_, err := client.Unpack([]byte{1, 2, 3}, 0)
	assert.True(t, errors.Is(err, ErrShortPacket))
}

func TestNewAuthKeyRejectsShortKey(t *testing.T) {
	_, err := NewAuthKey(make([]byte, 8))
	assert.ErrorIs(t, err, ErrShortKey)
}
