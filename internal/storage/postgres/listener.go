package postgres

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Listener delivers table refresh notifications from RefreshChannel.
type Listener struct {
	pool    *Pool
	channel string
	logger  *zap.Logger
}

// NewListener creates a Listener on RefreshChannel.
func NewListener(pool *Pool, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		pool:    pool,
		channel: RefreshChannel,
		logger:  logger.With(zap.String("component", "pg_listener")),
	}
}

// Listen holds one pooled connection and calls fn with the table name of every
// notification until ctx is done. A nil error is returned on cancellation.
func (l *Listener) Listen(ctx context.Context, fn func(table string)) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+quote(l.channel)); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	defer func() {
		if !conn.Conn().IsClosed() {
			_, _ = conn.Exec(context.Background(), "UNLISTEN "+quote(l.channel))
		}
	}()
	l.logger.Info("listening", zap.String("channel", l.channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		l.logger.Debug("table refreshed", zap.String("table", n.Payload))
		fn(n.Payload)
	}
}
