// Package msgid generates time-derived, strictly increasing message identifiers.
package msgid

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Kind selects the two low-order bits stamped on every generated id.
type Kind uint64

const (
	KindClient         Kind = 0
	KindServerResponse Kind = 1
	KindServerPush     Kind = 3
)

const (
	kindMask = 3
	// step keeps the low bits stable when the clock does not advance.
	step = 4
)

// Generator produces ids for one endpoint. Safe for concurrent use.
type Generator struct {
	clock clock.Clock
	kind  Kind

	mu     sync.Mutex
	last   uint64
	offset time.Duration
}

// New returns a generator. A nil clock uses the wall clock.
func New(c clock.Clock, kind Kind) *Generator {
	if c == nil {
		c = clock.New()
	}
	return &Generator{clock: c, kind: kind & kindMask}
}

// Next returns an id strictly greater than every id returned before.
func (g *Generator) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := FromTime(g.clock.Now().Add(g.offset))
	id = id&^kindMask | uint64(g.kind)
	if id <= g.last {
		id = g.last + step
	}
	g.last = id
	return id
}

// Now reports the generator's time basis, including any server offset.
func (g *Generator) Now() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clock.Now().Add(g.offset)
}

// Offset reports the correction applied to the local clock.
func (g *Generator) Offset() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.offset
}

// SyncServerTime aligns the time basis with the server clock carried by a server-issued id.
func (g *Generator) SyncServerTime(serverMsgID uint64) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offset = Time(serverMsgID).Sub(g.clock.Now())
	return g.offset
}

// FromTime encodes t as seconds in the high half and the sub-second fraction in the low half.
func FromTime(t time.Time) uint64 {
	sec := uint64(t.Unix())
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return sec<<32 | frac
}

// Time decodes the timestamp carried by id.
func Time(id uint64) time.Time {
	sec := int64(id >> 32)
	frac := id & 0xffffffff
	ns := int64((frac * uint64(time.Second)) >> 32)
	return time.Unix(sec, ns)
}

// IsClient reports whether id carries client parity.
func IsClient(id uint64) bool { return id&kindMask == uint64(KindClient) }

// IsServer reports whether id carries one of the server parities.
func IsServer(id uint64) bool { return id&1 == 1 }
