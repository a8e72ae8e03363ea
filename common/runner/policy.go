package runner

import (
	"context"
	"time"

	"github.com/lyzr/planrunner/common/planerr"
	"github.com/lyzr/planrunner/common/planmodel"
)

// attempt runs fn once under the per-attempt timeout named by pol.TimeoutMS
// (spec.md §4.7.3: "timeout_ms ... enforced per attempt, not per node").
// A zero timeout means no deadline.
func attempt(ctx context.Context, pol planmodel.Policy, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error) {
	if pol.TimeoutMS <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(pol.TimeoutMS)*time.Millisecond)
	defer cancel()

	type result struct {
		out map[string]any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn(attemptCtx)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-attemptCtx.Done():
		return nil, planerr.New(planerr.CodeTimeout, "node exceeded timeout_ms").WithDetails(map[string]any{"timeout_ms": pol.TimeoutMS})
	}
}

// runWithPolicy runs fn under pol's retry and timeout policy (spec.md
// §4.7.3): up to 1+pol.Retries attempts when on_error is "retry", a single
// attempt otherwise. onAttempt fires with the 1-based attempt number before
// each attempt; onRetry fires after an attempt that failed but will be
// retried. Both let the caller raise node_start(attempt)/error(retry=true)
// evidence per attempt (spec.md §6 scenario 6: three node_start(attempt=1..3),
// two error(retry=true)). attempts is the number of attempts actually made.
func runWithPolicy(ctx context.Context, pol planmodel.Policy, onAttempt func(attemptNum int), onRetry func(attemptNum int, err error), fn func(ctx context.Context) (map[string]any, error)) (out map[string]any, attempts int, err error) {
	maxAttempts := 1
	if pol.OnError == planmodel.OnErrorRetry && pol.Retries > 0 {
		maxAttempts = 1 + pol.Retries
	}

	var lastErr error
	for i := 1; i <= maxAttempts; i++ {
		if onAttempt != nil {
			onAttempt(i)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, i, ctxErr
		}
		result, attemptErr := attempt(ctx, pol, fn)
		if attemptErr == nil {
			return result, i, nil
		}
		lastErr = attemptErr
		willRetry := pol.OnError == planmodel.OnErrorRetry && i < maxAttempts
		if willRetry && onRetry != nil {
			onRetry(i, attemptErr)
		}
		if !willRetry {
			return nil, i, lastErr
		}
	}
	return nil, maxAttempts, lastErr
}
