// Package cancelbus implements external cancellation (spec.md §5
// "external cancellation (cancel(run_id))"): an in-process registry of
// cancel funcs, optionally fanned out across processes over Redis pub/sub
// so a run started on one host can be cancelled from another. Grounded on
// the teacher's common/redis client wrapper (go-redis/v9), generalized
// from key/value operations to Publish/Subscribe.
package cancelbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const channelName = "planrunner.cancel"

type cancelMessage struct {
	RunID string `json:"run_id"`
}

// Bus registers local cancel functions by run id and signals them either
// directly (same process) or via a Redis channel (cross-process).
type Bus struct {
	mu    sync.Mutex
	local map[string]context.CancelFunc

	rdb *redis.Client
}

// New constructs a Bus. rdb may be nil, in which case Cancel only reaches
// runs registered in this same process.
func New(rdb *redis.Client) *Bus {
	return &Bus{local: make(map[string]context.CancelFunc), rdb: rdb}
}

// Register associates runID with cancel for the lifetime of the run.
// Callers must Unregister when the run finishes to avoid leaking entries.
func (b *Bus) Register(runID string, cancel context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.local[runID] = cancel
}

// Unregister removes runID's cancel func once the run has finished.
func (b *Bus) Unregister(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.local, runID)
}

// Cancel signals runID's cancellation token locally and, if a Redis client
// was configured, publishes to the cross-process channel too.
func (b *Bus) Cancel(ctx context.Context, runID string) error {
	b.signalLocal(runID)

	if b.rdb == nil {
		return nil
	}
	data, err := json.Marshal(cancelMessage{RunID: runID})
	if err != nil {
		return fmt.Errorf("cancelbus: marshaling cancel message: %w", err)
	}
	if err := b.rdb.Publish(ctx, channelName, data).Err(); err != nil {
		return fmt.Errorf("cancelbus: publishing cancel for run %s: %w", runID, err)
	}
	return nil
}

func (b *Bus) signalLocal(runID string) {
	b.mu.Lock()
	cancel, ok := b.local[runID]
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

// Listen subscribes to the cross-process cancellation channel until ctx is
// cancelled, signalling any locally-registered run named in an incoming
// message. No-op when no Redis client is configured.
func (b *Bus) Listen(ctx context.Context) error {
	if b.rdb == nil {
		return nil
	}
	sub := b.rdb.Subscribe(ctx, channelName)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m cancelMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				continue
			}
			b.signalLocal(m.RunID)
		}
	}
}
