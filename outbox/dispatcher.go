package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Dispatcher is a per-process outbox consumer, per spec §4.6: a fast-path
// channel reader handles messages just published by this same process,
// while an independent slow-path poller claims whatever is unclaimed or
// lease-expired across the whole table. Both run as cooperative
// errgroup-managed goroutines and may process concurrently, sharing the
// same lease-ownership check before any terminal update — grounded on the
// single-poller/buffered-channel architecture in
// other_examples/a0f96cf1_Belac-Technology-flow-catalyst__...-outbox-processor.go,
// adapted here to this spec's lease-column claim model instead of its
// lock-free status-column model.
type Dispatcher struct {
	config     Config
	repo       Repository
	registry   *handlerRegistry
	metrics    *metrics
	instanceID string

	fastPath chan *Message

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewDispatcher constructs a Dispatcher with its own InstanceID, a UUID
// string generated once here and used as the lease identity (LockID) of
// every claim this Dispatcher makes. The id is per Dispatcher, not shared
// process-wide: two Dispatchers in one process hold distinct ids.
func NewDispatcher(cfg Config, repo Repository, registry prometheus.Registerer) (*Dispatcher, error) {
	if err := (&cfg).validate(); err != nil {
		return nil, err
	}
	instanceID := uuid.NewString()
	return &Dispatcher{
		config:     cfg,
		repo:       repo,
		registry:   newHandlerRegistry(),
		metrics:    newMetrics(registry, instanceID),
		instanceID: instanceID,
		fastPath:   make(chan *Message, cfg.BatchSize*4),
	}, nil
}

// InstanceID returns this dispatcher's lease identity.
func (d *Dispatcher) InstanceID() string { return d.instanceID }

// RegisterHandler binds handlerType to h; must be called before Start.
func (d *Dispatcher) RegisterHandler(handlerType string, h Handler) {
	d.registry.register(handlerType, h)
}

// Start begins the fast-path and slow-path loops.
func (d *Dispatcher) Start() {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.group, d.ctx = errgroup.WithContext(d.ctx)
	d.group.Go(func() error { d.fastPathLoop(d.ctx); return nil })
	d.group.Go(func() error { d.pollLoop(d.ctx); return nil })
}

// Close cancels both loops and waits for in-flight processing to finish.
func (d *Dispatcher) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.group != nil {
		d.group.Wait()
	}
}

// Publish inserts msg (already committed by the caller's business
// transaction) and claims it for this instance immediately, handing it to
// the fast path instead of waiting for the next poll cycle. Publish itself
// always succeeds once the row is committed; delivery outcome is only
// observable via metrics, per spec §7.
func (d *Dispatcher) Publish(ctx context.Context, msg *Message) error {
	now := time.Now()
	msg.LockID = d.instanceID
	msg.LockExpiration = now.Add(d.config.LeaseDuration)
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = now
	}
	if err := d.repo.Insert(ctx, msg); err != nil {
		return err
	}
	select {
	case d.fastPath <- msg:
	default:
		// fast path is saturated; the slow-path poller will pick this up
		// once the lease this Publish call set expires.
	}
	return nil
}

func (d *Dispatcher) fastPathLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.fastPath:
			d.metrics.claimed.Inc()
			d.processClaimed(ctx, msg)
		}
	}
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(d.config.InitialDelay):
	}

	ticker := time.NewTicker(d.config.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOnce(ctx)
		}
	}
}

func (d *Dispatcher) pollOnce(ctx context.Context) {
	now := time.Now()
	claimed, err := d.repo.ClaimBatch(ctx, now, d.instanceID, now.Add(d.config.LeaseDuration),
		d.config.MaxRetries, d.config.PartitionKey, d.config.BatchSize)
	if err != nil {
		d.config.Logger.Errorf("outbox: %s claim batch failed: %v", d.instanceID, err)
		return
	}
	for _, msg := range claimed {
		d.metrics.claimed.Inc()
		d.processClaimed(ctx, msg)
	}
}

// processClaimed implements spec §4.6 step 1-3: resolve a handler, dispatch
// it, and terminally update the message under the lease-ownership check.
func (d *Dispatcher) processClaimed(ctx context.Context, msg *Message) {
	h, ok := d.registry.resolve(msg.HandlerType)
	if !ok {
		d.config.Logger.Errorf("outbox: %s no handler for type %q (message %s)", d.instanceID, msg.HandlerType, msg.ID)
		d.markFailed(ctx, msg, ErrNoHandler.Error())
		return
	}

	if err := h.Handle(ctx, msg); err != nil {
		d.config.Logger.Warnf("outbox: %s handler failed for message %s: %v", d.instanceID, msg.ID, err)
		d.markFailed(ctx, msg, err.Error())
		return
	}

	ok, err := d.repo.MarkProcessed(ctx, msg.ID, d.instanceID, time.Now())
	if err != nil {
		d.config.Logger.Errorf("outbox: %s mark-processed failed for message %s: %v", d.instanceID, msg.ID, err)
		return
	}
	if !ok {
		d.metrics.leaseLost.Inc()
		d.config.Logger.Warnf("outbox: %s message %s: %v", d.instanceID, msg.ID, ErrLeaseLost)
		return
	}
	d.metrics.processed.Inc()
}

func (d *Dispatcher) markFailed(ctx context.Context, msg *Message, reason string) {
	ok, err := d.repo.MarkFailed(ctx, msg.ID, d.instanceID, reason)
	if err != nil {
		d.config.Logger.Errorf("outbox: %s mark-failed failed for message %s: %v", d.instanceID, msg.ID, err)
		return
	}
	if !ok {
		d.metrics.leaseLost.Inc()
		return
	}
	msg.RetryCount++
	if msg.RetryCount >= d.config.MaxRetries {
		d.metrics.poisoned.Inc()
		d.config.Logger.Warnf("outbox: %s message %s: %v (%d retries)", d.instanceID, msg.ID, ErrPoisoned, msg.RetryCount)
		return
	}
	d.metrics.retried.Inc()
}
