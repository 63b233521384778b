package usecases

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/abelzeko/creel-bot/internal/entities"
	"github.com/abelzeko/creel-bot/internal/integration"
	"github.com/abelzeko/creel-bot/internal/normalizer"
)

// RepeatedKey is a row whose natural key already appeared earlier on the page
type RepeatedKey struct {
	Row       int
	FirstRow  int
	Key       entities.NaturalKey
	FirstHash string
	Hash      string
}

// SameData reports whether both rows carry the same payload
func (r RepeatedKey) SameData() bool { return r.FirstHash == r.Hash }

// InspectReport describes the natural-key quality of one export page
type InspectReport struct {
	Page       int
	URL        string
	Rows       int
	Dropped    int
	UniqueKeys int
	Exact      []RepeatedKey
	Conflicts  []RepeatedKey
}

// Inspector fetches a page without writing it and reports repeated keys
type Inspector struct {
	fetcher integration.PageFetcher
	logger  zerolog.Logger
}

// NewInspector creates a new inspector
func NewInspector(fetcher integration.PageFetcher, logger zerolog.Logger) *Inspector {
	return &Inspector{fetcher: fetcher, logger: logger}
}

// InspectPage fetches one page and groups repeated natural keys. Row numbers
// are 1-based data rows.
func (in *Inspector) InspectPage(ctx context.Context, page int) (InspectReport, error) {
	report := InspectReport{Page: page}
	if u, ok := in.fetcher.(interface{ PageURL(int) string }); ok {
		report.URL = u.PageURL(page)
	}

	rows, err := in.fetcher.FetchPage(ctx, page)
	if err != nil {
		return report, fmt.Errorf("failed to fetch page %d: %w", page, err)
	}
	report.Rows = len(rows)

	type seen struct {
		row  int
		hash string
	}
	first := make(map[string]seen, len(rows))

	for i, row := range rows {
		rec, ok := normalizer.Normalize(row)
		if !ok {
			report.Dropped++
			continue
		}

		k := keyString(rec.Key)
		prev, dup := first[k]
		if !dup {
			first[k] = seen{row: i + 1, hash: rec.ContentHash}
			continue
		}

		rk := RepeatedKey{Row: i + 1, FirstRow: prev.row, Key: rec.Key, FirstHash: prev.hash, Hash: rec.ContentHash}
		if rk.SameData() {
			report.Exact = append(report.Exact, rk)
		} else {
			report.Conflicts = append(report.Conflicts, rk)
		}
	}
	report.UniqueKeys = len(first)

	in.logger.Info().
		Int("page", page).
		Int("rows", report.Rows).
		Int("unique_keys", report.UniqueKeys).
		Int("exact_duplicates", len(report.Exact)).
		Int("conflicts", len(report.Conflicts)).
		Msg("Inspected page")
	return report, nil
}

func keyString(k entities.NaturalKey) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%s", k.SampleDate, k.Site, k.CatchArea, optInt(k.Interviews), optInt(k.Anglers))
}

func optInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}
