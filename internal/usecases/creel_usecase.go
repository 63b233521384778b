package usecases

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/abelzeko/creel-bot/internal/entities"
	"github.com/abelzeko/creel-bot/internal/integration/openai"
	"github.com/abelzeko/creel-bot/internal/repository"
)

// CreelUseCase serves the read side: dashboard aggregates and chat replies
type CreelUseCase struct {
	repo          repository.AggregateReader
	lastRun       func(ctx context.Context) (time.Time, error)
	openAIService openai.OpenAIService
	logger        zerolog.Logger
}

// NewCreelUseCase creates a new creel use case. openAIService may be nil, in
// which case free text gets the help message.
func NewCreelUseCase(repo repository.CreelRepository, openAIService openai.OpenAIService, logger zerolog.Logger) *CreelUseCase {
	return &CreelUseCase{
		repo:          repo,
		lastRun:       repo.GetLastRun,
		openAIService: openAIService,
		logger:        logger.With().Str("component", "creel_usecase").Logger(),
	}
}

// Statistics returns the headline totals
func (uc *CreelUseCase) Statistics(ctx context.Context, f entities.QueryFilter) (entities.Statistics, error) {
	return uc.repo.Statistics(ctx, f)
}

// CatchAreas returns totals per catch area
func (uc *CreelUseCase) CatchAreas(ctx context.Context, f entities.QueryFilter) ([]entities.AreaTotal, error) {
	return uc.repo.CatchAreas(ctx, f)
}

// FilterOptions returns the available years and areas
func (uc *CreelUseCase) FilterOptions(ctx context.Context) (entities.FilterOptions, error) {
	return uc.repo.FilterOptions(ctx)
}

// Yearly returns salmon totals per year
func (uc *CreelUseCase) Yearly(ctx context.Context, f entities.QueryFilter) ([]entities.YearlyCatch, error) {
	return uc.repo.Yearly(ctx, f)
}

// Trend returns a per-period series
func (uc *CreelUseCase) Trend(ctx context.Context, f entities.QueryFilter, unit entities.TimeUnit) ([]entities.TrendPoint, error) {
	return uc.repo.Trend(ctx, f, unit)
}

// SpeciesTotals returns one total per species
func (uc *CreelUseCase) SpeciesTotals(ctx context.Context, f entities.QueryFilter) (map[entities.Species]float64, error) {
	return uc.repo.SpeciesTotals(ctx, f)
}

// Monthly returns the twelve calendar-month totals
func (uc *CreelUseCase) Monthly(ctx context.Context, f entities.QueryFilter) ([]entities.MonthlyTotal, error) {
	return uc.repo.Monthly(ctx, f)
}

// MapData returns totals and survey counts per area
func (uc *CreelUseCase) MapData(ctx context.Context, f entities.QueryFilter) ([]entities.AreaTotal, error) {
	return uc.repo.MapData(ctx, f)
}

// LastUpdate returns when the data was last refreshed
func (uc *CreelUseCase) LastUpdate(ctx context.Context) (time.Time, error) {
	return uc.lastRun(ctx)
}

// HandleNaturalLanguageQuery interprets a user's free-text query using the AI service
// and returns an appropriate response string.
func (uc *CreelUseCase) HandleNaturalLanguageQuery(ctx context.Context, query string) (string, error) {
	if uc.openAIService == nil {
		return "I don't understand. Use /help to see available commands.", nil
	}
	uc.logger.Info().Str("query", query).Msg("Interpreting natural language query")

	opts, err := uc.repo.FilterOptions(ctx)
	if err != nil {
		uc.logger.Error().Err(err).Msg("Failed to fetch catch areas")
		return "Sorry, I couldn't load the survey data right now.", nil
	}

	agentResp, err := uc.openAIService.InterpretUserQuery(ctx, query, opts.Areas)
	if err != nil {
		uc.logger.Error().Err(err).Msg("Failed to interpret query")
		return "Sorry, I'm having trouble understanding right now. Please try again later or use /help.", nil
	}

	uc.logger.Info().
		Str("command", agentResp.CommandName).
		Int("year_start", agentResp.YearStart).
		Int("year_end", agentResp.YearEnd).
		Strs("areas", agentResp.CatchAreas).
		Strs("species", agentResp.Species).
		Msg("Agent response")

	f, err := agentResp.Filter()
	if err != nil {
		uc.logger.Warn().Err(err).Msg("Agent returned an unusable filter")
		return "I couldn't match that to the survey data. Try /stats or /areas.", nil
	}

	var body string
	switch agentResp.CommandName {
	case openai.CommandStats:
		stats, err := uc.repo.Statistics(ctx, f)
		if err != nil {
			return "", fmt.Errorf("failed to load statistics: %w", err)
		}
		body = FormatStatistics(stats)
	case openai.CommandAreas:
		areas, err := uc.repo.CatchAreas(ctx, f)
		if err != nil {
			return "", fmt.Errorf("failed to load catch areas: %w", err)
		}
		body = FormatAreas(areas, 10)
	case openai.CommandSpecies:
		totals, err := uc.repo.SpeciesTotals(ctx, f)
		if err != nil {
			return "", fmt.Errorf("failed to load species totals: %w", err)
		}
		body = FormatSpecies(totals)
	case openai.CommandYearly:
		years, err := uc.repo.Yearly(ctx, f)
		if err != nil {
			return "", fmt.Errorf("failed to load yearly totals: %w", err)
		}
		body = FormatYearly(years)
	case openai.CommandGeneralQuery:
		return agentResp.UserMessage, nil
	default:
		uc.logger.Warn().Str("command", agentResp.CommandName).Msg("Agent returned unexpected command")
		return "I'm not sure how to respond to that. You can use /help for commands.", nil
	}

	if agentResp.UserMessage != "" {
		return agentResp.UserMessage + "\n\n" + body, nil
	}
	return body, nil
}

// FormatStatistics renders the headline totals for chat
func FormatStatistics(s entities.Statistics) string {
	var b strings.Builder
	b.WriteString("Puget Sound creel surveys\n\n")
	fmt.Fprintf(&b, "📅 Years: %s to %s\n", s.MinYear, s.MaxYear)
	fmt.Fprintf(&b, "📋 Surveys: %d\n", s.Surveys)
	fmt.Fprintf(&b, "🎣 Anglers: %d\n", s.TotalAnglers)
	fmt.Fprintf(&b, "🐟 Salmon caught: %d (Chinook %d, Coho %d)\n", s.TotalCatch, s.TotalChinook, s.TotalCoho)
	fmt.Fprintf(&b, "📍 Catch areas: %d", s.Areas)
	return b.String()
}

// FormatAreas renders the top catch areas
func FormatAreas(areas []entities.AreaTotal, limit int) string {
	if len(areas) == 0 {
		return "No catch data for that selection."
	}
	if limit > 0 && len(areas) > limit {
		areas = areas[:limit]
	}
	var b strings.Builder
	b.WriteString("Top catch areas:\n\n")
	for i, a := range areas {
		fmt.Fprintf(&b, "%d. Area %s: %.0f\n", i+1, a.Area, a.Total)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatSpecies renders species totals, largest first
func FormatSpecies(totals map[entities.Species]float64) string {
	if len(totals) == 0 {
		return "No catch data for that selection."
	}
	species := make([]entities.Species, 0, len(totals))
	for sp := range totals {
		species = append(species, sp)
	}
	sort.Slice(species, func(i, j int) bool {
		if totals[species[i]] != totals[species[j]] {
			return totals[species[i]] > totals[species[j]]
		}
		return species[i] < species[j]
	})

	var b strings.Builder
	b.WriteString("Catch by species:\n\n")
	for _, sp := range species {
		fmt.Fprintf(&b, "• %s: %.0f\n", sp, totals[sp])
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatYearly renders salmon totals per year
func FormatYearly(years []entities.YearlyCatch) string {
	if len(years) == 0 {
		return "No catch data for that selection."
	}
	var b strings.Builder
	b.WriteString("Salmon by year (Chinook / Coho / Chum / Pink / Sockeye):\n\n")
	for _, y := range years {
		fmt.Fprintf(&b, "%s: %.0f / %.0f / %.0f / %.0f / %.0f\n", y.Year, y.Chinook, y.Coho, y.Chum, y.Pink, y.Sockeye)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatGateResult renders an update attempt for chat
func FormatGateResult(res GateResult) string {
	switch res.Status {
	case GateRan:
		r := res.Result
		return fmt.Sprintf("✅ Update complete: %d new, %d updated, %d duplicates over %d pages (%d records stored).",
			r.Inserted, r.Updated, r.Duplicates, r.Pages, r.TotalRecords)
	case GateSkipped:
		if res.Reason == ReasonInProgress {
			return "⏳ An update is already running."
		}
		return fmt.Sprintf("⏳ Data was updated %s. Next update available %s.",
			res.LastRun.Format("2006-01-02 15:04 MST"), res.NextEligible.Format("2006-01-02 15:04 MST"))
	default:
		return "❌ Update failed: " + res.Message
	}
}
