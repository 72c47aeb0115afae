package envelope

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/mtsession/internal/protocol"
	"github.com/danmuck/mtsession/internal/protocol/msgid"
)

func newFactory() *Factory {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	return New(msgid.New(mock, msgid.KindClient))
}

func TestWrapAppliesParityRule(t *testing.T) {
	f := newFactory()

	m1 := f.Wrap(&protocol.HelpGetConfig{})
	m2 := f.Wrap(&protocol.Ping{PingID: 1})
	m3 := f.Wrap(&protocol.HelpGetConfig{})
	m4 := f.Wrap(&protocol.MsgsAck{MsgIDs: []uint64{1}})

	assert.Equal(t, int32(1), m1.SeqNo)
	assert.Equal(t, int32(2), m2.SeqNo)
	assert.Equal(t, int32(3), m3.SeqNo)
	assert.Equal(t, int32(4), m4.SeqNo)
	assert.True(t, m1.ContentRelated())
	assert.False(t, m2.ContentRelated())
	assert.Less(t, m1.MsgID, m2.MsgID)
	assert.Less(t, m3.MsgID, m4.MsgID)
}

func TestContainerWrapsEachBody(t *testing.T) {
	f := newFactory()

	c, inner := f.Container(&protocol.MsgsAck{MsgIDs: []uint64{9}}, &protocol.PingDelayDisconnect{PingID: 2, DisconnectDelay: 25})
	require.Len(t, inner, 2)
	body, ok := c.Body.(*protocol.MsgContainer)
	require.True(t, ok)
	require.Len(t, body.Messages, 2)

	assert.Equal(t, int32(0), inner[0].SeqNo)
	assert.Equal(t, int32(1), inner[1].SeqNo)
	assert.Equal(t, int32(2), c.SeqNo)
	assert.Greater(t, c.MsgID, inner[1].MsgID)
}

func TestResetRestartsSequence(t *testing.T) {
	f := newFactory()
	f.Wrap(&protocol.HelpGetConfig{})
	f.Wrap(&protocol.HelpGetConfig{})
	f.Reset()
	assert.Equal(t, int32(1), f.Wrap(&protocol.HelpGetConfig{}).SeqNo)
}
