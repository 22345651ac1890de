package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueueSize    = 256
	defaultMaxAttempts  = 3
	defaultBackoff      = 200 * time.Millisecond
	defaultPurgeTimeout = 2 * time.Second
	drainTimeout        = 3 * time.Second
)

// Purger removes keys matching glob patterns.
type Purger interface {
	Purge(ctx context.Context, patterns []string) (int, error)
}

// AsyncInvalidator queues invalidation requests and applies them from a
// background worker. Invalidate never blocks the caller: when the queue is
// full the request is dropped and logged, and cached entries age out on
// their TTL instead.
type AsyncInvalidator struct {
	purger       Purger
	queue        chan []string
	logger       *zap.Logger
	maxAttempts  int
	backoff      time.Duration
	purgeTimeout time.Duration
}

type Option func(*AsyncInvalidator)

func WithQueueSize(n int) Option {
	return func(a *AsyncInvalidator) { a.queue = make(chan []string, n) }
}

func WithRetry(attempts int, backoff time.Duration) Option {
	return func(a *AsyncInvalidator) {
		a.maxAttempts = attempts
		a.backoff = backoff
	}
}

func NewAsyncInvalidator(purger Purger, logger *zap.Logger, opts ...Option) *AsyncInvalidator {
	a := &AsyncInvalidator{
		purger:       purger,
		queue:        make(chan []string, defaultQueueSize),
		logger:       logger.Named("cache"),
		maxAttempts:  defaultMaxAttempts,
		backoff:      defaultBackoff,
		purgeTimeout: defaultPurgeTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Invalidate enqueues patterns for deletion.
func (a *AsyncInvalidator) Invalidate(_ context.Context, patterns []string) {
	if len(patterns) == 0 {
		return
	}
	select {
	case a.queue <- patterns:
	default:
		a.logger.Warn("invalidation queue full, dropping request", zap.Strings("patterns", patterns))
	}
}

// Run processes the queue until ctx is cancelled, then drains whatever is
// still queued within a short grace period.
func (a *AsyncInvalidator) Run(ctx context.Context) error {
	for {
		select {
		case patterns := <-a.queue:
			a.purge(ctx, patterns)
		case <-ctx.Done():
			a.drain()
			return nil
		}
	}
}

func (a *AsyncInvalidator) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case patterns := <-a.queue:
			a.purge(ctx, patterns)
		default:
			return
		}
	}
}

func (a *AsyncInvalidator) purge(ctx context.Context, patterns []string) {
	for attempt := 1; ; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, a.purgeTimeout)
		n, err := a.purger.Purge(pctx, patterns)
		cancel()
		if err == nil {
			a.logger.Debug("cache invalidated", zap.Strings("patterns", patterns), zap.Int("keys", n))
			return
		}

		if attempt >= a.maxAttempts || !sleep(ctx, a.backoff*time.Duration(attempt)) {
			a.logger.Error("cache invalidation failed",
				zap.Strings("patterns", patterns),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Nop is used when no cache is configured.
type Nop struct{}

func (Nop) Invalidate(context.Context, []string) {}
