package outbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, Repository) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PollingInterval = 20 * time.Millisecond
	cfg.InitialDelay = 0
	cfg.LeaseDuration = 50 * time.Millisecond
	cfg.Logger = NewNopLogger()

	repo := NewMemoryRepository()
	d, err := NewDispatcher(cfg, repo, nil)
	require.NoError(t, err)
	return d, repo
}

// TestPublishFastPathProcessesImmediately covers the fast-path channel: a
// message published by this process is handled without waiting for a poll
// cycle.
func TestPublishFastPathProcessesImmediately(t *testing.T) {
	d, _ := newTestDispatcher(t)
	var handled int32
	d.RegisterHandler("greet", HandlerFunc(func(ctx context.Context, msg *Message) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}))
	d.Start()
	defer d.Close()

	err := d.Publish(context.Background(), &Message{ID: "m1", HandlerType: "greet", Content: []byte("hi")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&handled) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestSlowPathClaimsUnpublishedMessages covers the slow-path poller
// claiming a message inserted directly into the repository (as if by
// another process), per spec §4.6's claim query.
func TestSlowPathClaimsUnpublishedMessages(t *testing.T) {
	d, repo := newTestDispatcher(t)
	var handled int32
	d.RegisterHandler("greet", HandlerFunc(func(ctx context.Context, msg *Message) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}))

	require.NoError(t, repo.Insert(context.Background(), &Message{
		ID: "m2", HandlerType: "greet", OccurredAt: time.Now(),
	}))

	d.Start()
	defer d.Close()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&handled) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHandlerFailureRetriesThenPoisons covers spec §8's retry/poison
// property: a message whose handler always fails is retried up to
// MaxRetries, then poisoned and excluded from future claims.
func TestHandlerFailureRetriesThenPoisons(t *testing.T) {
	d, repo := newTestDispatcher(t)
	d.config.MaxRetries = 2
	var attempts int32
	d.RegisterHandler("fail", HandlerFunc(func(ctx context.Context, msg *Message) error {
		atomic.AddInt32(&attempts, 1)
		return assert.AnError
	}))

	require.NoError(t, repo.Insert(context.Background(), &Message{
		ID: "m3", HandlerType: "fail", OccurredAt: time.Now(),
	}))

	d.Start()
	defer d.Close()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	mem := repo.(*memoryRepository)
	mem.mu.Lock()
	msg := mem.messages["m3"]
	mem.mu.Unlock()
	assert.True(t, msg.IsTerminal(d.config.MaxRetries))
}

// TestDuplicateProcessingGuard covers spec §8 scenario 5: once a message is
// claimed and a slow handler stalls past lease expiry, a second dispatcher
// may claim and process it; the first dispatcher's eventual terminal
// update must then be a no-op (lease already moved on).
func TestDuplicateProcessingGuard(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, repo.Insert(context.Background(), &Message{
		ID: "m4", HandlerType: "slow", OccurredAt: time.Now(),
	}))

	cfgA := DefaultConfig()
	cfgA.LeaseDuration = 20 * time.Millisecond
	cfgA.Logger = NewNopLogger()
	dA, err := NewDispatcher(cfgA, repo, nil)
	require.NoError(t, err)

	now := time.Now()
	claimedA, err := repo.ClaimBatch(context.Background(), now, dA.InstanceID(), now.Add(cfgA.LeaseDuration), cfgA.MaxRetries, "", 10)
	require.NoError(t, err)
	require.Len(t, claimedA, 1)

	time.Sleep(30 * time.Millisecond) // let A's lease expire

	cfgB := DefaultConfig()
	cfgB.LeaseDuration = time.Minute
	cfgB.Logger = NewNopLogger()
	dB, err := NewDispatcher(cfgB, repo, nil)
	require.NoError(t, err)

	now = time.Now()
	claimedB, err := repo.ClaimBatch(context.Background(), now, dB.InstanceID(), now.Add(cfgB.LeaseDuration), cfgB.MaxRetries, "", 10)
	require.NoError(t, err)
	require.Len(t, claimedB, 1, "B must be able to claim after A's lease expired")

	okB, err := repo.MarkProcessed(context.Background(), "m4", dB.InstanceID(), time.Now())
	require.NoError(t, err)
	assert.True(t, okB)

	// A's belated terminal update must now be a no-op.
	okA, err := repo.MarkProcessed(context.Background(), "m4", dA.InstanceID(), time.Now())
	require.NoError(t, err)
	assert.False(t, okA, "A's stale lease must not be able to mark the message processed")
}
