package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/store"
)

// KeyPruner periodically forgets violation idempotency keys older than the
// retention window. Violation records themselves are never pruned; only the
// de-duplication window shrinks. A retention of 0 disables pruning.
type KeyPruner struct {
	store     store.ExamStore
	retention time.Duration
	interval  time.Duration
	logger    *log.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type PrunerConfig struct {
	// RetentionDays is how long an idempotency key stays valid.
	RetentionDays int

	// IntervalHours is how often the pruner runs. Defaults to 6.
	IntervalHours int
}

// NewKeyPruner creates a pruner but does not start it.
func NewKeyPruner(s store.ExamStore, cfg PrunerConfig, logger *log.Logger) *KeyPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	return &KeyPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs one prune immediately and then one per interval until ctx is
// cancelled or Stop is called. Calling Start twice is a no-op.
func (p *KeyPruner) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true

	if p.retention <= 0 {
		p.logger.Printf("idempotency key pruner disabled (retention=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Printf("idempotency key pruner started (retention=%dd, interval=%dh)",
		int(p.retention.Hours()/24), int(p.interval.Hours()))
}

// Stop signals the pruner to exit and waits for it. Safe before Start and
// safe to repeat.
func (p *KeyPruner) Stop() {
	p.mu.Lock()
	if !p.started {
		p.started = true
		close(p.done)
	}
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-p.done
}

// PruneOnce deletes keys older than the retention window and returns how
// many went.
func (p *KeyPruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-p.retention)
	return p.store.PruneKeysOlderThan(ctx, cutoff)
}

func (p *KeyPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *KeyPruner) prune(ctx context.Context) {
	deleted, err := p.PruneOnce(ctx)
	if err != nil {
		p.logger.Printf("idempotency key prune error: %v", err)
		return
	}
	if deleted > 0 {
		p.logger.Printf("idempotency key prune: deleted %d keys older than %s",
			deleted, time.Now().UTC().Add(-p.retention).Format(time.RFC3339))
	}
}
