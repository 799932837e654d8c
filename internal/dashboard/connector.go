package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"mvr-etl/internal/observability"
	"mvr-etl/internal/storage"
)

// ErrNotConnected is returned when no connection could be acquired.
var ErrNotConnected = errors.New("database connection unavailable")

// OpenFunc opens a reader and returns a release function for it.
type OpenFunc func(ctx context.Context) (storage.Reader, func(), error)

// ConnectorOptions tunes connection retry.
type ConnectorOptions struct {
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
	AttemptTimeout  time.Duration
}

// Connector acquires a verified reader per request, retrying with exponential backoff.
type Connector struct {
	open   OpenFunc
	opts   ConnectorOptions
	logger *zap.Logger
}

// NewConnector creates a Connector.
func NewConnector(open OpenFunc, opts ConnectorOptions, logger *zap.Logger) *Connector {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	if opts.MaxElapsedTime <= 0 {
		opts.MaxElapsedTime = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{open: open, opts: opts, logger: logger.With(zap.String("component", "connector"))}
}

// Acquire returns a pinged reader and its release function. The caller must
// call release exactly once. On failure the error wraps ErrNotConnected.
func (c *Connector) Acquire(ctx context.Context) (storage.Reader, func(), error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxElapsedTime = c.opts.MaxElapsedTime

	var (
		reader  storage.Reader
		release func()
		attempt int
	)
	op := func() error {
		attempt++
		actx := ctx
		if c.opts.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, c.opts.AttemptTimeout)
			defer cancel()
		}

		r, rel, err := c.open(actx)
		if err != nil {
			return err
		}
		if err := r.Ping(actx); err != nil {
			rel()
			return err
		}
		reader, release = r, rel
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("connect failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		observability.RecordDashboardConnect(false)
		return nil, nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	observability.RecordDashboardConnect(true)
	return reader, release, nil
}
