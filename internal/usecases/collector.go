// Package usecases contains the application's business logic
package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abelzeko/creel-bot/internal/entities"
	"github.com/abelzeko/creel-bot/internal/integration"
	"github.com/abelzeko/creel-bot/internal/metrics"
	"github.com/abelzeko/creel-bot/internal/normalizer"
	"github.com/abelzeko/creel-bot/internal/repository"
)

// DefaultStormThreshold is the page size above which an all-duplicate page
// ends the run.
const DefaultStormThreshold = 100

// RunResult totals one collector run
type RunResult struct {
	RunID        string
	Pages        int
	Rows         int
	Inserted     int
	Updated      int
	Duplicates   int
	Errors       int
	Skipped      int
	Stop         entities.StopReason
	StoppedAt    int
	TotalRecords int64
	Duration     time.Duration
}

// CollectorRunner is what the update gate needs from a collector
type CollectorRunner interface {
	Run(ctx context.Context, maxPages int) (RunResult, error)
}

// Collector walks the export pages and reconciles every row into the store
type Collector struct {
	repo           repository.CreelRepository
	fetcher        integration.PageFetcher
	stormThreshold int
	metrics        *metrics.Metrics
	logger         zerolog.Logger
}

// NewCollector creates a new collector
func NewCollector(repo repository.CreelRepository, fetcher integration.PageFetcher, stormThreshold int, m *metrics.Metrics, logger zerolog.Logger) *Collector {
	if stormThreshold <= 0 {
		stormThreshold = DefaultStormThreshold
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Collector{
		repo:           repo,
		fetcher:        fetcher,
		stormThreshold: stormThreshold,
		metrics:        m,
		logger:         logger.With().Str("component", "collector").Logger(),
	}
}

type pageTotals struct {
	rows, inserted, updated, duplicates, errors, skipped int
}

// Run fetches pages 1..maxPages one at a time. Each page is committed before
// the next is requested, so a failure never loses earlier pages. Transport
// faults end the run and are returned along with the partial result.
func (c *Collector) Run(ctx context.Context, maxPages int) (RunResult, error) {
	start := time.Now()
	result := RunResult{RunID: uuid.NewString(), Stop: entities.StopMaxPages}
	logger := c.logger.With().Str("run_id", result.RunID).Logger()
	logger.Info().Int("max_pages", maxPages).Msg("Starting collection run")

	runErr := c.walk(ctx, maxPages, &result, logger)

	if n, err := c.repo.Count(ctx); err == nil {
		result.TotalRecords = n
		c.metrics.StoredRecords.Set(float64(n))
	} else {
		logger.Warn().Err(err).Msg("Failed to count stored records")
	}
	result.Duration = time.Since(start)
	c.metrics.RunsTotal.WithLabelValues(string(result.Stop)).Inc()

	logger.Info().
		Int("pages", result.Pages).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("duplicates", result.Duplicates).
		Int("errors", result.Errors).
		Int("skipped", result.Skipped).
		Str("stop", string(result.Stop)).
		Int("stopped_at", result.StoppedAt).
		Int64("total_records", result.TotalRecords).
		Dur("duration", result.Duration).
		Msg("Collection run finished")

	c.logSummary(ctx, logger)
	return result, runErr
}

func (c *Collector) walk(ctx context.Context, maxPages int, result *RunResult, logger zerolog.Logger) error {
	for page := 1; page <= maxPages; page++ {
		result.StoppedAt = page
		if err := ctx.Err(); err != nil {
			result.Stop = entities.StopCanceled
			return err
		}

		pageStart := time.Now()
		rows, err := c.fetcher.FetchPage(ctx, page)
		switch {
		case errors.Is(err, entities.ErrNoMorePages):
			c.metrics.PagesTotal.WithLabelValues("not_found").Inc()
			logger.Info().Int("page", page).Msg("No more pages")
			result.Stop = entities.StopNotFound
			return nil
		case errors.Is(err, entities.ErrEmptyPage):
			c.metrics.PagesTotal.WithLabelValues("empty").Inc()
			logger.Info().Int("page", page).Msg("Empty page")
			result.Stop = entities.StopEmptyPage
			return nil
		case err != nil:
			c.metrics.PagesTotal.WithLabelValues("error").Inc()
			result.Stop = entities.StopTransportError
			if ctx.Err() != nil {
				result.Stop = entities.StopCanceled
			}
			logger.Error().Err(err).Int("page", page).Msg("Failed to fetch page")
			return err
		}
		c.metrics.PagesTotal.WithLabelValues("ok").Inc()

		totals, err := c.storePage(ctx, rows, result.RunID, logger)
		if err != nil {
			result.Stop = entities.StopStorageError
			logger.Error().Err(err).Int("page", page).Msg("Failed to store page")
			return fmt.Errorf("page %d: %w", page, err)
		}

		result.Pages++
		result.Rows += totals.rows
		result.Inserted += totals.inserted
		result.Updated += totals.updated
		result.Duplicates += totals.duplicates
		result.Errors += totals.errors
		result.Skipped += totals.skipped
		c.metrics.PageDuration.Observe(time.Since(pageStart).Seconds())
		c.metrics.PageRows.Observe(float64(totals.rows))

		logger.Info().
			Int("page", page).
			Int("rows", totals.rows).
			Int("inserted", totals.inserted).
			Int("updated", totals.updated).
			Int("duplicates", totals.duplicates).
			Int("errors", totals.errors).
			Msg("Stored page")

		if c.isDuplicateStorm(totals) {
			logger.Info().Int("page", page).Int("rows", totals.rows).Msg("Page is entirely duplicates, stopping")
			result.Stop = entities.StopDuplicateStorm
			return nil
		}
	}
	result.Stop = entities.StopMaxPages
	return nil
}

// isDuplicateStorm reports whether a page says everything further back is
// already stored. Small pages never trigger it.
func (c *Collector) isDuplicateStorm(t pageTotals) bool {
	return t.rows > c.stormThreshold && t.duplicates == t.rows && t.inserted == 0
}

// storePage reconciles one page inside a single transaction. Row faults are
// counted and skipped; only a failure to open or commit the page is returned.
func (c *Collector) storePage(ctx context.Context, rows []integration.Row, runID string, logger zerolog.Logger) (pageTotals, error) {
	totals := pageTotals{rows: len(rows)}

	w, err := c.repo.BeginPage(ctx)
	if err != nil {
		return totals, err
	}
	defer w.Rollback()

	for _, row := range rows {
		rec, ok := normalizer.Normalize(row)
		if !ok {
			totals.skipped++
			continue
		}

		outcome, err := w.Upsert(ctx, rec, runID)
		c.metrics.RecordsTotal.WithLabelValues(outcome.String()).Inc()
		switch outcome {
		case entities.OutcomeInserted:
			totals.inserted++
		case entities.OutcomeUpdated:
			totals.updated++
			logger.Warn().
				Str("sample_date", rec.Key.SampleDate).
				Str("site", rec.Key.Site).
				Str("catch_area", rec.Key.CatchArea).
				Str("new_hash", rec.ContentHash).
				Msg("Record changed upstream")
		case entities.OutcomeDuplicate:
			totals.duplicates++
		default:
			totals.errors++
			logger.Warn().Err(err).
				Str("sample_date", rec.Key.SampleDate).
				Str("site", rec.Key.Site).
				Str("catch_area", rec.Key.CatchArea).
				Msg("Failed to store record")
		}
	}

	if err := w.Commit(); err != nil {
		return totals, err
	}
	return totals, nil
}

func (c *Collector) logSummary(ctx context.Context, logger zerolog.Logger) {
	s, err := c.repo.Summary(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to build store summary")
		return
	}

	ev := logger.Info().
		Int64("records", s.TotalRecords).
		Int64("anglers", s.TotalAnglers).
		Int64("interviews", s.TotalInterviews).
		Int64("updated_records", s.UpdatedRecords)
	years := zerolog.Dict()
	for _, y := range s.RecordsByYear {
		years.Int64(y.Year, y.Count)
	}
	areas := zerolog.Dict()
	for _, a := range s.TopAreas {
		areas.Int64(a.Area, a.Count)
	}
	ev.Dict("by_year", years).Dict("top_areas", areas).Msg("Store summary")
}
