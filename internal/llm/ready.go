package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/agentd/internal/backoff"
)

// WaitReady blocks until b answers a ping or ctx is done. Backends without
// a readiness probe are considered ready.
func WaitReady(ctx context.Context, b Backend, policy backoff.Policy, logger *slog.Logger) error {
	pinger, ok := b.(Pinger)
	if !ok {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	_, err := backoff.Retry(ctx, policy, 0, func(int) (struct{}, error) {
		err := pinger.Ping(ctx)
		if pe, ok := AsProviderError(err); ok && pe.Reason == ReasonAuth {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, func(attempt int, err error, wait time.Duration) {
		logger.Info("backend not ready", "backend", b.Name(), "attempt", attempt, "retry_in", wait, "error", err)
	})
	return err
}
