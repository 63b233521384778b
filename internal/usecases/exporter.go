package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/abelzeko/creel-bot/internal/entities"
)

// ExportedRecord is the JSON shape of one stored record. Internal columns
// (id, hash, timestamps) are left out.
type ExportedRecord struct {
	SampleDate       string   `json:"sample_date"`
	RampSite         string   `json:"ramp_site"`
	CatchArea        string   `json:"catch_area"`
	Interviews       *int64   `json:"interviews"`
	Anglers          *int64   `json:"anglers"`
	Chinook          *float64 `json:"chinook"`
	ChinookPerAngler *float64 `json:"chinook_per_angler"`
	Coho             *float64 `json:"coho"`
	Chum             *float64 `json:"chum"`
	Pink             *float64 `json:"pink"`
	Sockeye          *float64 `json:"sockeye"`
	Lingcod          *float64 `json:"lingcod"`
	Halibut          *float64 `json:"halibut"`
}

// RecordLister is the slice of the repository the exporter needs
type RecordLister interface {
	ListRecords(ctx context.Context) ([]entities.CreelRecord, error)
}

// ExportJSON writes every stored record as an indented JSON array and
// returns the number of records written.
func ExportJSON(ctx context.Context, repo RecordLister, w io.Writer) (int, error) {
	recs, err := repo.ListRecords(ctx)
	if err != nil {
		return 0, err
	}

	out := make([]ExportedRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, ExportedRecord{
			SampleDate:       r.Key.SampleDate,
			RampSite:         r.Key.Site,
			CatchArea:        r.Key.CatchArea,
			Interviews:       r.Key.Interviews,
			Anglers:          r.Key.Anglers,
			Chinook:          r.Payload.Chinook,
			ChinookPerAngler: r.Payload.ChinookPerAngler,
			Coho:             r.Payload.Coho,
			Chum:             r.Payload.Chum,
			Pink:             r.Payload.Pink,
			Sockeye:          r.Payload.Sockeye,
			Lingcod:          r.Payload.Lingcod,
			Halibut:          r.Payload.Halibut,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(out), nil
}
