package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/bff-front/internal/log"
)

// CleanupManager sweeps expired sessions and cached delegated tokens out of
// backends that have no TTL of their own. Redis and memory expire entries
// natively and never need one.
type CleanupManager struct {
	cleaner   Cleaner
	interval  time.Duration
	passLimit time.Duration
	onPurge   func(int)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// CleanupOption configures a CleanupManager
type CleanupOption func(*CleanupManager)

// WithPurgeObserver is called with the number of documents removed by each
// sweep that removed anything
func WithPurgeObserver(fn func(int)) CleanupOption {
	return func(cm *CleanupManager) { cm.onPurge = fn }
}

// WithPassTimeout bounds a single sweep. Defaults to the interval.
func WithPassTimeout(d time.Duration) CleanupOption {
	return func(cm *CleanupManager) { cm.passLimit = d }
}

func NewCleanupManager(cleaner Cleaner, interval time.Duration, opts ...CleanupOption) *CleanupManager {
	cm := &CleanupManager{
		cleaner:   cleaner,
		interval:  interval,
		passLimit: interval,
	}
	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

// Start sweeps once immediately and then every interval until Stop or ctx
// is cancelled
func (cm *CleanupManager) Start(ctx context.Context) {
	ctx, cm.cancel = context.WithCancel(ctx)

	log.LogInfoWithFields("cleanup", "Starting expired session sweeper", map[string]any{
		"interval": cm.interval.String(),
	})

	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		cm.loop(ctx)
	}()
}

// Stop cancels any sweep in flight and waits for the loop to exit
func (cm *CleanupManager) Stop() {
	if cm.cancel == nil {
		return
	}
	cm.cancel()
	cm.wg.Wait()
	log.LogDebugWithFields("cleanup", "Expired session sweeper stopped", nil)
}

func (cm *CleanupManager) loop(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		cm.sweep(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (cm *CleanupManager) sweep(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, cm.passLimit)
	defer cancel()

	start := time.Now()
	removed, err := cm.cleaner.CleanupExpiredSessions(passCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.LogErrorWithFields("cleanup", "Expired session sweep failed", map[string]any{
			"error": err.Error(),
		})
		return
	}
	if removed == 0 {
		return
	}

	log.LogInfoWithFields("cleanup", "Removed expired sessions", map[string]any{
		"count":   removed,
		"elapsed": time.Since(start).String(),
	})
	if cm.onPurge != nil {
		cm.onPurge(removed)
	}
}
