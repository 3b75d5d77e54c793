package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Janitor runs a background goroutine that periodically evicts workers
// whose liveness window has expired, so routing results stay trustworthy
// even when heartbeats are arbitrarily delayed.
type Janitor struct {
	registry *Registry
	interval time.Duration
	stopCh   chan struct{}
	mu       sync.Mutex
	running  bool

	// OnEvict fires after a sweep that removed at least one worker.
	OnEvict func(removed int)
}

// NewJanitor creates a janitor for the given registry.
func NewJanitor(r *Registry, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Janitor{
		registry: r,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the eviction loop. The first sweep runs immediately so a
// freshly restarted controller does not route to workers that died while
// it was down.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.mu.Unlock()

	log.Info().Dur("interval", j.interval).Msg("stale-worker janitor started")
	go j.loop(ctx)
}

// Stop halts the eviction loop.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	j.running = false
	close(j.stopCh)
	log.Info().Msg("stale-worker janitor stopped")
}

func (j *Janitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (j *Janitor) sweep() {
	if removed := j.registry.CleanupStale(); removed > 0 && j.OnEvict != nil {
		j.OnEvict(removed)
	}
}
