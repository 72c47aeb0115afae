package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/mtsession/internal/observability"
	"github.com/danmuck/mtsession/internal/protocol"
	"github.com/danmuck/mtsession/internal/rpcerr"
)

type invokeOptions struct {
	retries        int
	timeout        time.Duration
	sleepThreshold time.Duration
}

type InvokeOption func(*invokeOptions)

// WithRetries sets the transient-failure budget.
func WithRetries(n int) InvokeOption {
	return func(o *invokeOptions) { o.retries = n }
}

func WithTimeout(d time.Duration) InvokeOption {
	return func(o *invokeOptions) { o.timeout = d }
}

// WithSleepThreshold sets the longest flood wait slept through. Negative sleeps through any wait.
func WithSleepThreshold(d time.Duration) InvokeOption {
	return func(o *invokeOptions) { o.sleepThreshold = d }
}

// Invoke sends query and returns its result, absorbing flood waits, reconnects and
// transient server failures within the retry budget.
func (s *Session) Invoke(ctx context.Context, query protocol.Object, opts ...InvokeOption) (protocol.Object, error) {
	o := invokeOptions{
		retries:        s.cfg.MaxRetries,
		timeout:        s.cfg.WaitTimeout,
		sleepThreshold: s.cfg.SleepThreshold,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := s.WaitRunning(ctx, s.cfg.WaitTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Debug().Err(err).Msg("invoking before the session is running")
	}

	name := protocol.Unwrap(query).TypeName()
	logger := s.log.With().Str("query", name).Logger()
	started := s.clock.Now()

	result, err := s.invoke(ctx, query, name, o)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var rpcErr *rpcerr.Error
		if errors.As(err, &rpcErr) {
			outcome = rpcErr.ID
		}
		logger.Debug().Err(err).Msg("invoke failed")
	}
	observability.RecordRPC(s.opts.DCID, name, outcome, s.clock.Since(started))
	return result, err
}

func (s *Session) invoke(ctx context.Context, query protocol.Object, name string, o invokeOptions) (protocol.Object, error) {
	retries := o.retries
	var lastErr error
	for retries > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn := s.connection()
		if conn == nil || conn.Closed() {
			s.log.Warn().Str("query", name).Msg("connection is closed or not established, reconnecting")
			if err := s.restart(ctx, conn); err != nil {
				return nil, err
			}
			if err := sleep(ctx, s.clock, s.cfg.ReconnectDelay); err != nil {
				return nil, err
			}
			continue
		}

		result, err := s.send(ctx, query, true, o.timeout, 0)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if wait, ok := rpcerr.FloodWait(err); ok {
			if o.sleepThreshold >= 0 && wait > o.sleepThreshold {
				return nil, err
			}
			s.log.Warn().Str("query", name).Dur("wait", wait).Msg("flood wait, sleeping before continuing")
			observability.RecordFloodWait(s.opts.DCID, name, wait)
			if err := sleep(ctx, s.clock, wait); err != nil {
				return nil, err
			}
			continue
		}

		transport := IsTransportError(err)
		if !transport && !rpcerr.IsRetryable(err) {
			return nil, err
		}
		retries--
		lastErr = err
		observability.RecordRetry(s.opts.DCID, name)
		if retries == 0 {
			break
		}

		event := s.log.Info()
		if retries < 2 {
			event = s.log.Warn()
		}
		event.Err(err).Str("query", name).Int("attempt", o.retries-retries).Msg("retrying")

		if transport && retries > 1 {
			if err := s.restart(ctx, conn); err != nil {
				if errors.Is(err, ErrSessionStopped) || ctx.Err() != nil {
					return nil, err
				}
				s.log.Warn().Err(err).Msg("failed to restart session")
			}
		}
		if err := sleep(ctx, s.clock, s.cfg.RetryDelay); err != nil {
			return nil, err
		}
	}

	if lastErr == nil {
		return nil, ErrMaxRetries
	}
	return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}
