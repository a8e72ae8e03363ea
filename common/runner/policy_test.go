package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/planrunner/common/planmodel"
)

func TestRunWithPolicyRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	var startedAttempts, retriedAttempts []int
	pol := planmodel.Policy{OnError: planmodel.OnErrorRetry, Retries: 3}

	out, reportedAttempts, err := runWithPolicy(context.Background(), pol,
		func(attemptNum int) { startedAttempts = append(startedAttempts, attemptNum) },
		func(attemptNum int, _ error) { retriedAttempts = append(retriedAttempts, attemptNum) },
		func(ctx context.Context) (map[string]any, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("transient")
			}
			return map[string]any{"ok": true}, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, reportedAttempts)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, []int{1, 2, 3}, startedAttempts)
	assert.Equal(t, []int{1, 2}, retriedAttempts)
}

func TestRunWithPolicyHaltDoesNotRetry(t *testing.T) {
	attempts := 0
	pol := planmodel.Policy{OnError: planmodel.OnErrorHalt}

	_, reportedAttempts, err := runWithPolicy(context.Background(), pol, nil, nil, func(ctx context.Context) (map[string]any, error) {
		attempts++
		return nil, errors.New("boom")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, reportedAttempts)
}

func TestAttemptEnforcesTimeout(t *testing.T) {
	pol := planmodel.Policy{TimeoutMS: 10}

	_, err := attempt(context.Background(), pol, func(ctx context.Context) (map[string]any, error) {
		select {
		case <-time.After(time.Second):
			return map[string]any{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	require.Error(t, err)
}
