// Package normalizer turns raw CSV rows from the creel export into canonical records
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/abelzeko/creel-bot/internal/entities"
)

// Column names used by the remote CSV export
const (
	ColSampleDate       = "Sample date"
	ColSite             = "Ramp/site"
	ColCatchArea        = "Catch area"
	ColInterviews       = "# Interviews (Boat or Shore)"
	ColAnglers          = "Anglers"
	ColChinook          = "Chinook"
	ColChinookPerAngler = "Chinook (per angler)"
	ColCoho             = "Coho"
	ColChum             = "Chum"
	ColPink             = "Pink"
	ColSockeye          = "Sockeye"
	ColLingcod          = "Lingcod"
	ColHalibut          = "Halibut"
)

// HashLength is the number of hex characters kept from the SHA-256 digest
const HashLength = 16

const hashSeparator = "|"

// Placeholder tokens that all mean "no catch area". Matching is case-sensitive.
var emptyAreaTokens = map[string]bool{
	"":     true,
	"N/A":  true,
	"n/a":  true,
	"NA":   true,
	"null": true,
}

// Normalize converts one raw row into a record candidate. The second return
// value is false when the row cannot form a natural key and must be dropped.
// Sample date and site are kept exactly as exported so keys keep matching
// rows already stored by earlier collectors.
func Normalize(row map[string]string) (entities.CreelRecord, bool) {
	key := entities.NaturalKey{
		SampleDate: row[ColSampleDate],
		Site:       row[ColSite],
		CatchArea:  NormalizeArea(row[ColCatchArea]),
		Interviews: ParseInt(row[ColInterviews]),
		Anglers:    ParseInt(row[ColAnglers]),
	}
	if strings.TrimSpace(key.SampleDate) == "" || strings.TrimSpace(key.Site) == "" {
		return entities.CreelRecord{}, false
	}

	payload := ParsePayload(row)
	return entities.CreelRecord{
		Key:         key,
		Payload:     payload,
		ContentHash: ContentHash(payload),
	}, true
}

// ParsePayload extracts the catch fields from a raw row
func ParsePayload(row map[string]string) entities.Payload {
	return entities.Payload{
		Chinook:          ParseFloat(row[ColChinook]),
		ChinookPerAngler: ParseFloat(row[ColChinookPerAngler]),
		Coho:             ParseFloat(row[ColCoho]),
		Chum:             ParseFloat(row[ColChum]),
		Pink:             ParseFloat(row[ColPink]),
		Sockeye:          ParseFloat(row[ColSockeye]),
		Lingcod:          ParseFloat(row[ColLingcod]),
		Halibut:          ParseFloat(row[ColHalibut]),
	}
}

// NormalizeArea trims the value and collapses placeholder tokens to "".
// It is idempotent.
func NormalizeArea(value string) string {
	trimmed := strings.TrimSpace(value)
	if emptyAreaTokens[trimmed] {
		return ""
	}
	return trimmed
}

// ParseFloat returns nil for blank or unparseable cells
func ParseFloat(value string) *float64 {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

// ParseInt returns nil for blank or unparseable cells. Decimal strings such
// as "3.0" are rejected.
func ParseInt(value string) *int64 {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// ContentHash digests the payload fields in their fixed order. Key fields
// never take part.
func ContentHash(p entities.Payload) string {
	fields := p.Fields()
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = formatField(f)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, hashSeparator)))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// formatField renders a payload value so digests stay compatible with
// databases built by the earlier collector: nulls are "None" and floats use
// the shortest repr with a trailing ".0" for whole numbers.
func formatField(f *float64) string {
	if f == nil {
		return "None"
	}
	v := *f
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
