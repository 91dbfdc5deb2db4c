package outbox

import (
	"time"

	"github.com/pkg/errors"
)

// Config parameterizes a Dispatcher, per spec §6's outbox configuration.
type Config struct {
	// PollingInterval is how often the slow-path poller scans for unclaimed
	// or lease-expired messages.
	PollingInterval time.Duration

	// BatchSize bounds how many messages a single poll claims.
	BatchSize int

	// MaxRetries is the retry ceiling; a message at or beyond it is
	// poisoned and excluded from future claims.
	MaxRetries int

	// LeaseDuration is how long a claim holds exclusive ownership of a
	// message before another dispatcher may reclaim it.
	LeaseDuration time.Duration

	// InitialDelay postpones the first poll after Start, giving the
	// process time to settle (e.g. warm caches, finish other startup
	// work) before taking on claim contention.
	InitialDelay time.Duration

	// PartitionKey, when set, restricts claims to messages whose
	// PartitionKey matches (or is unset); the zero value claims across all
	// partitions.
	PartitionKey string

	Logger *Logger
}

// DefaultConfig returns the defaults named in spec §6.
func DefaultConfig() Config {
	return Config{
		PollingInterval: 10 * time.Second,
		BatchSize:       20,
		MaxRetries:      3,
		LeaseDuration:   60 * time.Second,
		InitialDelay:    2 * time.Minute,
	}
}

func (c *Config) validate() error {
	if c.PollingInterval <= 0 {
		return errors.New("outbox: PollingInterval must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.New("outbox: BatchSize must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("outbox: MaxRetries must not be negative")
	}
	if c.LeaseDuration <= 0 {
		return errors.New("outbox: LeaseDuration must be positive")
	}
	if c.Logger == nil {
		c.Logger = NewNopLogger()
	}
	return nil
}
