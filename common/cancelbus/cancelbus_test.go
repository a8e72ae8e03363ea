package cancelbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelSignalsRegisteredRun(t *testing.T) {
	b := New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	b.Register("run-1", cancel)

	require.NoError(t, b.Cancel(context.Background(), "run-1"))

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected ctx to be cancelled")
	}
}

func TestCancelUnknownRunIsNotAnError(t *testing.T) {
	b := New(nil)
	assert.NoError(t, b.Cancel(context.Background(), "no-such-run"))
}

func TestUnregisterStopsFurtherSignalling(t *testing.T) {
	b := New(nil)
	called := false
	b.Register("run-1", func() { called = true })
	b.Unregister("run-1")

	require.NoError(t, b.Cancel(context.Background(), "run-1"))
	assert.False(t, called)
}
