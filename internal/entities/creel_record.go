// Package entities contains the core domain objects for the creel collector
package entities

import (
	"time"
)

// NaturalKey identifies a single survey observation. CatchArea is always
// stored in its normalized form.
type NaturalKey struct {
	SampleDate string // e.g. "Apr 1, 2013"
	Site       string // Ramp/site name
	CatchArea  string // "" when the source reports no area
	Interviews *int64
	Anglers    *int64
}

// Payload holds the mutable catch fields of a record. A nil field means the
// source left the cell blank or unparseable; it is never defaulted to zero.
type Payload struct {
	Chinook          *float64
	ChinookPerAngler *float64
	Coho             *float64
	Chum             *float64
	Pink             *float64
	Sockeye          *float64
	Lingcod          *float64
	Halibut          *float64
}

// Fields returns the payload in hashing order.
func (p Payload) Fields() []*float64 {
	return []*float64{
		p.Chinook,
		p.ChinookPerAngler,
		p.Coho,
		p.Chum,
		p.Pink,
		p.Sockeye,
		p.Lingcod,
		p.Halibut,
	}
}

// CreelRecord is one fishing-survey observation
type CreelRecord struct {
	ID          int64
	Key         NaturalKey
	Payload     Payload
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ConflictEntry is an append-only audit entry written whenever a stored
// record's payload is overwritten by a row carrying a different hash.
type ConflictEntry struct {
	ID         int64
	RunID      string
	Key        NaturalKey
	OldHash    string
	NewHash    string
	DetectedAt time.Time
}

// UpdateMetadata records when the collector last completed a full run
type UpdateMetadata struct {
	LastRun time.Time
}

// IntPtr and FloatPtr are small helpers for building keys and payloads.
func IntPtr(v int64) *int64 { return &v }

func FloatPtr(v float64) *float64 { return &v }
