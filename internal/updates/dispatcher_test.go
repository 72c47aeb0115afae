package updates

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/mtsession/internal/protocol"
	"github.com/danmuck/mtsession/internal/testutil/testlog"
)

func TestDispatcherBoundsInFlight(t *testing.T) {
	testlog.Start(t)
	release := make(chan struct{})
	var peak, running atomic.Int64
	d := New(func(ctx context.Context, _ protocol.Object) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	}, Options{MaxInFlight: 2})

	ctx := context.Background()
	require.NoError(t, d.HandleUpdate(ctx, &protocol.Ping{}))
	require.NoError(t, d.HandleUpdate(ctx, &protocol.Ping{}))

	blocked, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err := d.HandleUpdate(blocked, &protocol.Ping{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, d.Close(ctx))
	assert.Equal(t, int64(2), peak.Load())
	handled, failed := d.Stats()
	assert.Equal(t, uint64(2), handled)
	assert.Zero(t, failed)
}

func TestDispatcherRecordsFailuresAndPanics(t *testing.T) {
	testlog.Start(t)
	d := New(func(_ context.Context, u protocol.Object) error {
		switch u.(type) {
		case *protocol.Pong:
			return errors.New("boom")
		case *protocol.MsgsAck:
			panic("handler bug")
		}
		return nil
	}, Options{})

	ctx := context.Background()
	require.NoError(t, d.HandleUpdate(ctx, &protocol.Ping{}))
	require.NoError(t, d.HandleUpdate(ctx, &protocol.Pong{}))
	require.NoError(t, d.HandleUpdate(ctx, &protocol.MsgsAck{}))
	require.NoError(t, d.Close(ctx))

	handled, failed := d.Stats()
	assert.Equal(t, uint64(1), handled)
	assert.Equal(t, uint64(2), failed)
	assert.Zero(t, d.InFlight())
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	testlog.Start(t)
	d := New(func(context.Context, protocol.Object) error { return nil }, Options{})
	require.NoError(t, d.Close(context.Background()))
	require.ErrorIs(t, d.HandleUpdate(context.Background(), &protocol.Ping{}), ErrClosed)
}

func TestDispatcherCloseCancelsSlowHandlers(t *testing.T) {
	testlog.Start(t)
	d := New(func(ctx context.Context, _ protocol.Object) error {
		<-ctx.Done()
		return ctx.Err()
	}, Options{})
	require.NoError(t, d.HandleUpdate(context.Background(), &protocol.Ping{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	_, failed := d.Stats()
	assert.Equal(t, uint64(1), failed)
}
