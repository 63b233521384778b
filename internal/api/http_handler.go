package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/abelzeko/creel-bot/internal/entities"
	"github.com/abelzeko/creel-bot/internal/metrics"
	"github.com/abelzeko/creel-bot/internal/usecases"
)

const (
	defaultConflictLimit = 50
	maxConflictLimit     = 500
)

// CreelReader is the read side served by the dashboard API
type CreelReader interface {
	Statistics(ctx context.Context, f entities.QueryFilter) (entities.Statistics, error)
	CatchAreas(ctx context.Context, f entities.QueryFilter) ([]entities.AreaTotal, error)
	FilterOptions(ctx context.Context) (entities.FilterOptions, error)
	Yearly(ctx context.Context, f entities.QueryFilter) ([]entities.YearlyCatch, error)
	Trend(ctx context.Context, f entities.QueryFilter, unit entities.TimeUnit) ([]entities.TrendPoint, error)
	SpeciesTotals(ctx context.Context, f entities.QueryFilter) (map[entities.Species]float64, error)
	Monthly(ctx context.Context, f entities.QueryFilter) ([]entities.MonthlyTotal, error)
	MapData(ctx context.Context, f entities.QueryFilter) ([]entities.AreaTotal, error)
}

// Updater triggers gated collection runs
type Updater interface {
	MaybeRun(ctx context.Context) usecases.GateResult
}

// ConflictLister reads the conflict ledger
type ConflictLister interface {
	ListConflicts(ctx context.Context, limit int) ([]entities.ConflictEntry, error)
}

// HTTPHandler serves the JSON read API
type HTTPHandler struct {
	reader    CreelReader
	updater   Updater
	conflicts ConflictLister
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewHTTPHandler creates the handler. m may be nil.
func NewHTTPHandler(reader CreelReader, updater Updater, conflicts ConflictLister, m *metrics.Metrics, logger zerolog.Logger) *HTTPHandler {
	if m == nil {
		m = metrics.NewNop()
	}
	return &HTTPHandler{
		reader:    reader,
		updater:   updater,
		conflicts: conflicts,
		metrics:   m,
		logger:    logger.With().Str("component", "http").Logger(),
	}
}

// UpdateResponse is the body of GET /api/update
type UpdateResponse struct {
	Success             bool    `json:"success"`
	Message             string  `json:"message"`
	LastUpdate          *string `json:"last_update"`
	NextUpdateAvailable *string `json:"next_update_available,omitempty"`
	Records             *int64  `json:"records,omitempty"`
	ShouldReload        bool    `json:"should_reload"`
}

// ConflictItem is one ledger entry in GET /api/conflicts
type ConflictItem struct {
	RunID      string `json:"run_id"`
	SampleDate string `json:"sample_date"`
	RampSite   string `json:"ramp_site"`
	CatchArea  string `json:"catch_area"`
	Interviews *int64 `json:"interviews"`
	Anglers    *int64 `json:"anglers"`
	OldHash    string `json:"old_hash"`
	NewHash    string `json:"new_hash"`
	DetectedAt string `json:"detected_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Routes builds the router
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/stats", h.Stats)
			r.Get("/areas", h.Areas)
			r.Get("/filter_options", h.FilterOptions)
			r.Get("/yearly", h.Yearly)
			r.Get("/trend", h.Trend)
			r.Get("/species", h.Species)
			r.Get("/monthly", h.Monthly)
			r.Get("/map_data", h.MapData)
			r.Get("/conflicts", h.Conflicts)
		})
		// A full collection can take minutes; no request timeout here.
		r.Get("/update", h.Update)
	})
	return r
}

// Stats returns headline totals for the filtered records
func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filter(w, r)
	if !ok {
		return
	}
	stats, err := h.reader.Statistics(r.Context(), f)
	h.respond(w, r, stats, err)
}

// Areas returns catch areas ranked by total catch
func (h *HTTPHandler) Areas(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filter(w, r)
	if !ok {
		return
	}
	areas, err := h.reader.CatchAreas(r.Context(), f)
	if areas == nil {
		areas = []entities.AreaTotal{}
	}
	h.respond(w, r, areas, err)
}

// FilterOptions returns the years and areas available for filtering
func (h *HTTPHandler) FilterOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := h.reader.FilterOptions(r.Context())
	if opts.Years == nil {
		opts.Years = []string{}
	}
	if opts.Areas == nil {
		opts.Areas = []string{}
	}
	h.respond(w, r, opts, err)
}

// Yearly returns per-year totals
func (h *HTTPHandler) Yearly(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filter(w, r)
	if !ok {
		return
	}
	years, err := h.reader.Yearly(r.Context(), f)
	if years == nil {
		years = []entities.YearlyCatch{}
	}
	h.respond(w, r, years, err)
}

// Trend flattens each point to {"period": ..., "<species>": total, ...}
func (h *HTTPHandler) Trend(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filter(w, r)
	if !ok {
		return
	}
	unit := entities.TimeUnit(r.URL.Query().Get("time_unit"))
	switch unit {
	case "":
		unit = entities.Yearly
	case entities.Daily, entities.Weekly, entities.Monthly, entities.Yearly:
	default:
		writeErr(w, http.StatusBadRequest, fmt.Sprintf("invalid time_unit %q", unit))
		return
	}

	points, err := h.reader.Trend(r.Context(), f, unit)
	if err != nil {
		h.respond(w, r, nil, err)
		return
	}
	out := make([]map[string]any, 0, len(points))
	for _, p := range points {
		row := make(map[string]any, len(p.Totals)+1)
		row["period"] = p.Period
		for sp, total := range p.Totals {
			row[string(sp)] = total
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, out)
}

// Species returns the total catch for each species
func (h *HTTPHandler) Species(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filter(w, r)
	if !ok {
		return
	}
	totals, err := h.reader.SpeciesTotals(r.Context(), f)
	if totals == nil {
		totals = map[entities.Species]float64{}
	}
	h.respond(w, r, totals, err)
}

// Monthly returns twelve month buckets, empty months included
func (h *HTTPHandler) Monthly(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filter(w, r)
	if !ok {
		return
	}
	months, err := h.reader.Monthly(r.Context(), f)
	h.respond(w, r, months, err)
}

// MapData returns per-area totals for the map view
func (h *HTTPHandler) MapData(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filter(w, r)
	if !ok {
		return
	}
	areas, err := h.reader.MapData(r.Context(), f)
	if areas == nil {
		areas = []entities.AreaTotal{}
	}
	h.respond(w, r, areas, err)
}

// Conflicts lists the newest conflict ledger entries. limit defaults to 50.
func (h *HTTPHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	limit := defaultConflictLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxConflictLimit)
	}

	entries, err := h.conflicts.ListConflicts(r.Context(), limit)
	if err != nil {
		h.respond(w, r, nil, err)
		return
	}
	items := make([]ConflictItem, len(entries))
	for i, e := range entries {
		items[i] = ConflictItem{
			RunID:      e.RunID,
			SampleDate: e.Key.SampleDate,
			RampSite:   e.Key.Site,
			CatchArea:  e.Key.CatchArea,
			Interviews: e.Key.Interviews,
			Anglers:    e.Key.Anglers,
			OldHash:    e.OldHash,
			NewHash:    e.NewHash,
			DetectedAt: e.DetectedAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, items)
}

// Update runs the gate. The run is detached from the request context so a
// client that disconnects does not abort a half-collected run.
func (h *HTTPHandler) Update(w http.ResponseWriter, r *http.Request) {
	res := h.updater.MaybeRun(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, updateResponse(res))
}

func updateResponse(res usecases.GateResult) UpdateResponse {
	resp := UpdateResponse{
		Success:    res.Status != usecases.GateFailed && res.Reason != usecases.ReasonInProgress,
		Message:    res.Message,
		LastUpdate: isoTime(res.LastRun),
	}
	switch res.Status {
	case usecases.GateRan:
		resp.ShouldReload = true
		if res.Result != nil {
			total := res.Result.TotalRecords
			resp.Records = &total
			resp.Message = fmt.Sprintf("Data updated successfully. Total records: %d", total)
		}
	case usecases.GateSkipped:
		if res.Reason == usecases.ReasonCooldown {
			resp.NextUpdateAvailable = isoTime(res.NextEligible)
		}
	case usecases.GateFailed:
		resp.Message = "Error updating data: " + res.Message
	}
	return resp
}

func isoTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// filter parses the shared query parameters. It writes a 400 and returns
// false on bad input.
func (h *HTTPHandler) filter(w http.ResponseWriter, r *http.Request) (entities.QueryFilter, bool) {
	f, err := parseFilter(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return entities.QueryFilter{}, false
	}
	return f, true
}

func parseFilter(r *http.Request) (entities.QueryFilter, error) {
	q := r.URL.Query()
	var f entities.QueryFilter

	for _, p := range []struct {
		name string
		dst  **int
	}{{"year_start", &f.YearStart}, {"year_end", &f.YearEnd}} {
		s := strings.TrimSpace(q.Get(p.name))
		if s == "" {
			continue
		}
		y, err := strconv.Atoi(s)
		if err != nil {
			return entities.QueryFilter{}, fmt.Errorf("invalid %s %q", p.name, s)
		}
		*p.dst = &y
	}

	for _, a := range q["catch_area"] {
		if a = strings.TrimSpace(a); a != "" {
			f.Areas = append(f.Areas, a)
		}
	}

	for _, s := range q["species"] {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.EqualFold(s, "all") {
			f.Species = nil
			break
		}
		sp, err := entities.ParseSpecies(s)
		if err != nil {
			return entities.QueryFilter{}, err
		}
		f.Species = append(f.Species, sp)
	}
	return f, nil
}

func (h *HTTPHandler) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.GetReqID(r.Context())).Msg("Request failed")
		writeErr(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// instrument counts requests by route pattern and status code
func (h *HTTPHandler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
