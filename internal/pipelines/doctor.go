package pipelines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// ErrUnavailable is returned by RequireAnalysis when a pipeline needed for
// video analysis is missing from the environment.
var ErrUnavailable = errors.New("pipeline unavailable")

// CachedDoctor memoises doctor probes for a TTL. Analysis jobs consult it
// before every run and /status reads it without probing.
type CachedDoctor struct {
	runner Runner
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(runner Runner, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDoctor{
		runner: runner,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns the cached capabilities while fresh and re-probes otherwise.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	if caps := d.fresh(); caps != nil {
		return caps, nil
	}
	return d.Refresh(ctx)
}

func (d *CachedDoctor) fresh() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		return d.cached
	}
	return nil
}

// Peek returns the last probe without running a new one. It may be nil.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh probes unconditionally. A failed probe falls back to the previous
// result when there is one.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.runner.RunDoctor(ctx)
	if err != nil {
		if d.cached != nil {
			d.logger.Warn("doctor probe failed, keeping previous capabilities", "error", err)
			return d.cached, nil
		}
		d.logger.Warn("doctor probe failed", "error", err)
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// RequireAnalysis checks that both the pose and beat pipelines can run.
func (d *CachedDoctor) RequireAnalysis(ctx context.Context) error {
	caps, err := d.Get(ctx)
	if err != nil {
		return fmt.Errorf("doctor probe failed: %w", err)
	}
	var missing []string
	if !caps.HasPose {
		missing = append(missing, "pose")
	}
	if !caps.HasBeats {
		missing = append(missing, "beats")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnavailable, strings.Join(missing, ", "))
	}
	return nil
}

func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
