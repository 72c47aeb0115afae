// Package updates runs server pushes through a bounded set of handler goroutines.
// When every slot is busy HandleUpdate blocks, which in turn slows the receive loop.
package updates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/danmuck/mtsession/internal/observability"
	"github.com/danmuck/mtsession/internal/protocol"
)

var ErrClosed = errors.New("updates: dispatcher closed")

// Handler processes one update. The context is cancelled when the dispatcher closes.
type Handler func(ctx context.Context, update protocol.Object) error

type Options struct {
	// MaxInFlight bounds concurrently running handlers. Zero means 64.
	MaxInFlight int64
	Logger      *zerolog.Logger
}

type Dispatcher struct {
	handler Handler
	sem     *semaphore.Weighted
	log     zerolog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   atomic.Bool
	inFlight atomic.Int64
	handled  atomic.Uint64
	failed   atomic.Uint64
}

func New(handler Handler, opts Options) *Dispatcher {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 64
	}
	logger := observability.ComponentLogger("updates")
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "updates").Logger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler: handler,
		sem:     semaphore.NewWeighted(opts.MaxInFlight),
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// HandleUpdate schedules update, waiting for a free slot.
func (d *Dispatcher) HandleUpdate(ctx context.Context, update protocol.Object) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if d.closed.Load() {
		d.sem.Release(1)
		return ErrClosed
	}
	d.wg.Add(1)
	d.inFlight.Add(1)
	go d.run(update)
	return nil
}

func (d *Dispatcher) run(update protocol.Object) {
	defer d.wg.Done()
	defer d.sem.Release(1)
	defer d.inFlight.Add(-1)

	name := update.TypeName()
	err := d.call(update)
	observability.RecordUpdate(name, err == nil)
	if err != nil {
		d.failed.Add(1)
		d.log.Warn().Err(err).Str("update", name).Msg("update handler failed")
		return
	}
	d.handled.Add(1)
}

func (d *Dispatcher) call(update protocol.Object) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("updates: handler panic: %v", r)
		}
	}()
	return d.handler(d.ctx, update)
}

// InFlight reports handlers currently running.
func (d *Dispatcher) InFlight() int64 { return d.inFlight.Load() }

// Stats returns the number of successful and failed handler runs.
func (d *Dispatcher) Stats() (handled, failed uint64) {
	return d.handled.Load(), d.failed.Load()
}

// Close stops accepting updates and waits for running handlers. When ctx ends first the
// handlers' context is cancelled and Close returns ctx.Err().
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closed.Store(true)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
