package usecases

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abelzeko/creel-bot/internal/entities"
	"github.com/abelzeko/creel-bot/internal/integration/objectstore"
	"github.com/abelzeko/creel-bot/internal/metrics"
)

// Gate defaults
const (
	DefaultCooldown     = 24 * time.Hour
	DefaultBaselineYear = 2013
)

// GateStatus is the outcome of one MaybeRun call
type GateStatus string

const (
	GateSkipped GateStatus = "skipped"
	GateRan     GateStatus = "ran"
	GateFailed  GateStatus = "failed"
)

// Skip reasons
const (
	ReasonCooldown   = "updated recently"
	ReasonInProgress = "run in progress"
)

// GateResult reports what MaybeRun did. Result is set whenever the collector
// was invoked, including failed runs.
type GateResult struct {
	Status       GateStatus
	Reason       string
	Message      string
	LastRun      time.Time
	NextEligible time.Time
	Result       *RunResult
}

// GateStore is the slice of the repository the gate needs
type GateStore interface {
	GetLastRun(ctx context.Context) (time.Time, error)
	SetLastRun(ctx context.Context, t time.Time) error
	Checkpoint(ctx context.Context) error
	Path() string
}

// RunNotifier is told about every run the gate starts
type RunNotifier interface {
	NotifyRun(ctx context.Context, res GateResult) error
}

// GateConfig holds the tunables of UpdateGate
type GateConfig struct {
	Cooldown     time.Duration
	BaselineYear int
}

// UpdateGate decides whether a collection run may start and records the
// outcome. At most one run is in flight per process.
type UpdateGate struct {
	mu        sync.Mutex
	store     GateStore
	runner    CollectorRunner
	blob      objectstore.BlobStore
	cfg       GateConfig
	now       func() time.Time
	notifiers []RunNotifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewUpdateGate creates a new update gate. A nil blob store disables uploads.
func NewUpdateGate(store GateStore, runner CollectorRunner, blob objectstore.BlobStore, cfg GateConfig, m *metrics.Metrics, logger zerolog.Logger) *UpdateGate {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.BaselineYear <= 0 {
		cfg.BaselineYear = DefaultBaselineYear
	}
	if blob == nil {
		blob = objectstore.NopStore{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &UpdateGate{
		store:   store,
		runner:  runner,
		blob:    blob,
		cfg:     cfg,
		now:     time.Now,
		metrics: m,
		logger:  logger.With().Str("component", "update_gate").Logger(),
	}
}

// WithClock replaces the time source
func (g *UpdateGate) WithClock(now func() time.Time) *UpdateGate {
	g.now = now
	return g
}

// AddNotifier registers a listener for run results
func (g *UpdateGate) AddNotifier(n RunNotifier) {
	g.notifiers = append(g.notifiers, n)
}

// PagesFor returns how many pages a run started at now should request
func (g *UpdateGate) PagesFor(now time.Time) int {
	pages := now.Year() - g.cfg.BaselineYear + 1
	if pages < 1 {
		pages = 1
	}
	return pages
}

// LastRun returns the recorded time of the last successful run
func (g *UpdateGate) LastRun(ctx context.Context) (time.Time, error) {
	return g.store.GetLastRun(ctx)
}

// MaybeRun starts a collection run unless the cooldown has not elapsed or a
// run is already in progress. It never panics and never returns an error;
// problems are reported in the result.
func (g *UpdateGate) MaybeRun(ctx context.Context) GateResult {
	if !g.mu.TryLock() {
		g.metrics.GateTotal.WithLabelValues(string(GateSkipped)).Inc()
		g.logger.Info().Msg("Update requested while another run is in progress")
		return GateResult{Status: GateSkipped, Reason: ReasonInProgress, Message: entities.ErrRunInProgress.Error()}
	}
	defer g.mu.Unlock()

	res := g.run(ctx, false)
	g.metrics.GateTotal.WithLabelValues(string(res.Status)).Inc()
	return res
}

// RunNow is MaybeRun without the cooldown check. Concurrent runs are still
// rejected.
func (g *UpdateGate) RunNow(ctx context.Context) GateResult {
	if !g.mu.TryLock() {
		g.metrics.GateTotal.WithLabelValues(string(GateSkipped)).Inc()
		return GateResult{Status: GateSkipped, Reason: ReasonInProgress, Message: entities.ErrRunInProgress.Error()}
	}
	defer g.mu.Unlock()

	res := g.run(ctx, true)
	g.metrics.GateTotal.WithLabelValues(string(res.Status)).Inc()
	return res
}

// Wait blocks until no run is in progress. Callers use it before closing
// the store a detached run may still be writing to.
func (g *UpdateGate) Wait() {
	g.mu.Lock()
	defer g.mu.Unlock()
}

func (g *UpdateGate) run(ctx context.Context, force bool) GateResult {
	last, err := g.store.GetLastRun(ctx)
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to read last update time")
		return GateResult{Status: GateFailed, Message: err.Error()}
	}

	now := g.now()
	if !last.IsZero() && !force {
		next := last.Add(g.cfg.Cooldown)
		if now.Before(next) {
			g.logger.Info().Time("last_run", last).Time("next_eligible", next).Msg("Skipping update, cooldown active")
			return GateResult{
				Status:       GateSkipped,
				Reason:       ReasonCooldown,
				Message:      fmt.Sprintf("data was updated recently, next update available in %s", next.Sub(now).Round(time.Minute)),
				LastRun:      last,
				NextEligible: next,
			}
		}
	}

	pages := g.PagesFor(now)
	g.logger.Info().Int("pages", pages).Msg("Starting update")

	result, runErr := g.runner.Run(ctx, pages)
	if runErr != nil {
		g.logger.Error().Err(runErr).Str("stop", string(result.Stop)).Msg("Update failed")
		res := GateResult{Status: GateFailed, Message: runErr.Error(), LastRun: last, Result: &result}
		g.notify(ctx, res)
		return res
	}

	if err := g.store.SetLastRun(ctx, now); err != nil {
		g.logger.Error().Err(err).Msg("Failed to record update time")
		res := GateResult{Status: GateFailed, Message: err.Error(), LastRun: last, Result: &result}
		g.notify(ctx, res)
		return res
	}
	g.metrics.LastRunTimestamp.Set(float64(now.Unix()))

	g.persist(ctx)

	res := GateResult{
		Status:       GateRan,
		Message:      fmt.Sprintf("update complete: %d new, %d updated, %d duplicates", result.Inserted, result.Updated, result.Duplicates),
		LastRun:      now,
		NextEligible: now.Add(g.cfg.Cooldown),
		Result:       &result,
	}
	g.notify(ctx, res)
	return res
}

// persist ships the database to blob storage. Failures are logged only; the
// local store stays authoritative.
func (g *UpdateGate) persist(ctx context.Context) {
	if err := g.store.Checkpoint(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to checkpoint database before upload")
	}
	if err := g.blob.Upload(ctx, g.store.Path()); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to upload database")
	}
}

func (g *UpdateGate) notify(ctx context.Context, res GateResult) {
	for _, n := range g.notifiers {
		if err := n.NotifyRun(ctx, res); err != nil {
			g.logger.Warn().Err(err).Msg("Failed to send run notification")
		}
	}
}
