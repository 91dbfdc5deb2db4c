package bloom

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// AutoSeeder rebuilds a named filter's contents from the authoritative
// source of truth (e.g. a full table scan) when its persisted snapshot is
// missing or fails validation on load.
type AutoSeeder interface {
	Seed(ctx context.Context, f *Filter) error
}

// Provider lazily constructs and caches one Filter per logical name, per
// spec §9's note that filter instances are process-wide singletons rather
// than per-request state. Each name is initialized exactly once even under
// concurrent first access.
type Provider struct {
	storage  StorageProvider
	registry prometheus.Registerer
	logger   *Logger
	seeder   AutoSeeder

	mu      sync.Mutex
	once    map[string]*sync.Once
	filters map[string]*Filter
	errs    map[string]error
}

// NewProvider builds a Provider. seeder may be nil, in which case a filter
// whose snapshot fails to load is simply left empty (every query a miss)
// rather than reseeded.
func NewProvider(storage StorageProvider, registry prometheus.Registerer, logger *Logger, seeder AutoSeeder) *Provider {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Provider{
		storage:  storage,
		registry: registry,
		logger:   logger,
		seeder:   seeder,
		once:     make(map[string]*sync.Once),
		filters:  make(map[string]*Filter),
		errs:     make(map[string]error),
	}
}

// Get returns the named filter, building and loading it on first access.
// If the persisted snapshot is missing or invalid, Get returns an empty,
// usable filter immediately and schedules AutoSeeder.Seed in the
// background so the caller is never blocked on a rebuild.
func (p *Provider) Get(ctx context.Context, name string, cfg Config) (*Filter, error) {
	p.mu.Lock()
	once, ok := p.once[name]
	if !ok {
		once = &sync.Once{}
		p.once[name] = once
	}
	p.mu.Unlock()

	once.Do(func() {
		p.init(ctx, name, cfg)
	})

	p.mu.Lock()
	f, err := p.filters[name], p.errs[name]
	p.mu.Unlock()
	return f, err
}

func (p *Provider) init(ctx context.Context, name string, cfg Config) {
	f, err := New(name, cfg, p.registry)
	if err != nil {
		p.mu.Lock()
		p.errs[name] = err
		p.mu.Unlock()
		return
	}

	if p.storage != nil {
		if loadErr := f.Load(ctx, p.storage); loadErr != nil {
			p.logger.Warnf("bloom: %s snapshot load failed, starting empty: %v", name, loadErr)
			if p.seeder != nil {
				f.metrics.autoReseed.Inc()
				go func() {
					seedCtx := context.Background()
					if err := p.seeder.Seed(seedCtx, f); err != nil {
						p.logger.Errorf("bloom: %s background reseed failed: %v", name, err)
					}
				}()
			}
		}
	}

	p.mu.Lock()
	p.filters[name] = f
	p.mu.Unlock()
}
