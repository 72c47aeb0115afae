package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/mtsession/internal/protocol/msgid"
	"github.com/danmuck/mtsession/internal/rpcerr"
)

// ReplayGuard keeps a sorted window of accepted inbound ids.
type ReplayGuard struct {
	max    int
	future time.Duration
	past   time.Duration
	now    func() time.Time

	mu  sync.Mutex
	ids []uint64
}

func NewReplayGuard(max int, future, past time.Duration, now func() time.Time) *ReplayGuard {
	if now == nil {
		now = time.Now
	}
	return &ReplayGuard{max: max, future: future, past: past, now: now}
}

// Check validates id and records it on success. Rejections are *rpcerr.SecurityError.
func (g *ReplayGuard) Check(id uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.ids) > 0 && id < g.ids[0] {
		return rpcerr.Security("the msg_id is lower than all the stored values")
	}
	i := sort.Search(len(g.ids), func(i int) bool { return g.ids[i] >= id })
	if i < len(g.ids) && g.ids[i] == id {
		return rpcerr.Security("the msg_id is equal to any of the stored values")
	}
	skew := msgid.Time(id).Sub(g.now())
	if skew > g.future {
		return rpcerr.Security(fmt.Sprintf("the msg_id belongs to over %s in the future, synchronize the system clock", g.future))
	}
	if skew < -g.past {
		return rpcerr.Security(fmt.Sprintf("the msg_id belongs to over %s in the past, synchronize the system clock", g.past))
	}

	g.ids = append(g.ids, 0)
	copy(g.ids[i+1:], g.ids[i:])
	g.ids[i] = id
	if len(g.ids) > g.max {
		drop := g.max / 2
		g.ids = append(g.ids[:0:0], g.ids[drop:]...)
	}
	return nil
}

func (g *ReplayGuard) Reset() {
	g.mu.Lock()
	g.ids = nil
	g.mu.Unlock()
}

func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}

// Snapshot copies the current window.
func (g *ReplayGuard) Snapshot() []uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]uint64(nil), g.ids...)
}
