package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/danmuck/mtsession/internal/protocol"
)

type pendingResult struct {
	value protocol.Object
	err   error
}

// PendingHandle is returned by Register and consumed by Await.
type PendingHandle struct {
	MsgID uint64
	ch    chan pendingResult
}

// PendingTable correlates outbound message ids with their responses.
// Entries leave the table when fulfilled, abandoned on timeout, or failed on teardown.
type PendingTable struct {
	clock clock.Clock
	log   zerolog.Logger

	mu    sync.Mutex
	items map[uint64]*PendingHandle
}

func NewPendingTable(c clock.Clock, logger zerolog.Logger) *PendingTable {
	if c == nil {
		c = clock.New()
	}
	return &PendingTable{
		clock: c,
		log:   logger,
		items: make(map[uint64]*PendingHandle),
	}
}

func (p *PendingTable) Register(id uint64) (*PendingHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.items[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateRequest, id)
	}
	h := &PendingHandle{MsgID: id, ch: make(chan pendingResult, 1)}
	p.items[id] = h
	return h, nil
}

// Fulfill delivers value to the waiter of id. Unknown ids are dropped and reported false.
func (p *PendingTable) Fulfill(id uint64, value protocol.Object) bool {
	return p.complete(id, pendingResult{value: value})
}

// Fail delivers err to the waiter of id.
func (p *PendingTable) Fail(id uint64, err error) bool {
	return p.complete(id, pendingResult{err: err})
}

func (p *PendingTable) complete(id uint64, r pendingResult) bool {
	p.mu.Lock()
	h, ok := p.items[id]
	if ok {
		delete(p.items, id)
	}
	p.mu.Unlock()
	if !ok {
		p.log.Debug().Uint64("msg_id", id).Msg("response for unknown or abandoned request dropped")
		return false
	}
	h.ch <- r
	return true
}

// Await blocks until h is fulfilled, timeout elapses, or ctx ends.
func (p *PendingTable) Await(ctx context.Context, h *PendingHandle, timeout time.Duration) (protocol.Object, error) {
	timer := p.clock.Timer(timeout)
	defer timer.Stop()
	select {
	case r := <-h.ch:
		return r.value, r.err
	case <-timer.C:
		p.Remove(h.MsgID)
		return nil, fmt.Errorf("%w: msg_id=%d after %s", ErrTimeout, h.MsgID, timeout)
	case <-ctx.Done():
		p.Remove(h.MsgID)
		return nil, ctx.Err()
	}
}

func (p *PendingTable) Remove(id uint64) {
	p.mu.Lock()
	delete(p.items, id)
	p.mu.Unlock()
}

// FailAll completes every entry with err and returns how many there were.
func (p *PendingTable) FailAll(err error) int {
	p.mu.Lock()
	items := p.items
	p.items = make(map[uint64]*PendingHandle)
	p.mu.Unlock()
	for _, h := range items {
		h.ch <- pendingResult{err: err}
	}
	return len(items)
}

func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
