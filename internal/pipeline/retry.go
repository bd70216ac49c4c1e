package pipeline

import (
	"context"
	"time"
)

// call runs fn once under the configured per-call timeout.
func (s *Service) call(ctx context.Context, fn func(context.Context) error) error {
	if s.opts.CallTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	return fn(ctx)
}

// retry runs fn up to MaxRetries+1 times with exponential backoff. Each
// attempt gets its own timeout.
func (s *Service) retry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying call", "attempt", attempt, "error", err)
			t := time.NewTimer(retryDelay(attempt - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return err
			case <-t.C:
			}
		}
		if err = s.call(ctx, fn); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func retryDelay(attempt int) time.Duration {
	// 200ms << 5 already exceeds the cap; larger shifts overflow.
	if attempt >= 5 {
		return 5 * time.Second
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}
