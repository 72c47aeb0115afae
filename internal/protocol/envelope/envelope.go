// Package envelope wraps outbound objects into messages with ids and sequence numbers.
package envelope

import (
	"sync"

	"github.com/danmuck/mtsession/internal/protocol"
	"github.com/danmuck/mtsession/internal/protocol/msgid"
)

// Factory owns the sequence counter of one session.
type Factory struct {
	ids *msgid.Generator

	mu          sync.Mutex
	contentSent int32
}

func New(ids *msgid.Generator) *Factory {
	return &Factory{ids: ids}
}

// IDs exposes the generator backing the factory.
func (f *Factory) IDs() *msgid.Generator { return f.ids }

// Wrap assigns a fresh id and sequence number to body.
func (f *Factory) Wrap(body protocol.Object) protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wrapLocked(body)
}

// Container wraps bodies individually and batches them into one container message.
// The inner messages are returned alongside so callers can correlate responses.
func (f *Factory) Container(bodies ...protocol.Object) (protocol.Message, []protocol.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inner := make([]protocol.Message, 0, len(bodies))
	for _, body := range bodies {
		inner = append(inner, f.wrapLocked(body))
	}
	return f.wrapLocked(&protocol.MsgContainer{Messages: inner}), inner
}

// Reset zeroes the sequence counter for a new session id.
func (f *Factory) Reset() {
	f.mu.Lock()
	f.contentSent = 0
	f.mu.Unlock()
}

func (f *Factory) wrapLocked(body protocol.Object) protocol.Message {
	seq := f.contentSent * 2
	if ContentRelated(body) {
		seq++
		f.contentSent++
	}
	return protocol.Message{MsgID: f.ids.Next(), SeqNo: seq, Body: body}
}

// ContentRelated reports whether body requires acknowledgement.
func ContentRelated(body protocol.Object) bool {
	switch body.(type) {
	case *protocol.Ping, *protocol.MsgsAck, *protocol.MsgContainer:
		return false
	default:
		return true
	}
}
