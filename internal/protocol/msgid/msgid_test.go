package msgid

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIsStrictlyIncreasingWithFrozenClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	g := New(mock, KindClient)

	prev := g.Next()
	for i := 0; i < 1000; i++ {
		id := g.Next()
		require.Greater(t, id, prev)
		require.True(t, IsClient(id), "id %d lost client parity", id)
		prev = id
	}
}

func TestNextTracksClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	g := New(mock, KindClient)

	first := g.Next()
	mock.Add(3 * time.Second)
	second := g.Next()

	assert.Equal(t, int64(1_700_000_000), Time(first).Unix())
	assert.Equal(t, int64(1_700_000_003), Time(second).Unix())
}

func TestServerKindsKeepParity(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 500_000_000))

	resp := New(mock, KindServerResponse)
	push := New(mock, KindServerPush)
	for i := 0; i < 10; i++ {
		r := resp.Next()
		p := push.Next()
		require.Equal(t, uint64(1), r%4)
		require.Equal(t, uint64(3), p%4)
		require.True(t, IsServer(r))
		require.True(t, IsServer(p))
	}
}

func TestNextConcurrentUnique(t *testing.T) {
	g := New(nil, KindClient)
	const workers, per = 8, 500

	var mu sync.Mutex
	seen := make(map[uint64]struct{}, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, per)
			for i := 0; i < per; i++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, workers*per)
}

func TestSyncServerTimeShiftsBasis(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	g := New(mock, KindClient)

	server := FromTime(time.Unix(1_700_000_120, 0)) | 1
	offset := g.SyncServerTime(server)
	assert.Equal(t, 120*time.Second, offset)
	assert.Equal(t, int64(1_700_000_120), g.Now().Unix())
	assert.Equal(t, int64(1_700_000_120), Time(g.Next()).Unix())
}

func TestTimeRoundTripsFraction(t *testing.T) {
	in := time.Unix(1_700_000_000, 250_000_000)
	out := Time(FromTime(in))
	assert.InDelta(t, float64(in.UnixNano()), float64(out.UnixNano()), 2)
}
