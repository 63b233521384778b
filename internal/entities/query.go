package entities

import (
	"fmt"
	"strings"
)

// Species is a catch column that aggregate queries may select
type Species string

const (
	Chinook Species = "chinook"
	Coho    Species = "coho"
	Chum    Species = "chum"
	Pink    Species = "pink"
	Sockeye Species = "sockeye"
	Lingcod Species = "lingcod"
	Halibut Species = "halibut"
)

// DefaultSpecies are the salmon species used when a query names none
var DefaultSpecies = []Species{Chinook, Coho, Chum, Pink, Sockeye}

var knownSpecies = map[Species]bool{
	Chinook: true, Coho: true, Chum: true, Pink: true,
	Sockeye: true, Lingcod: true, Halibut: true,
}

// ParseSpecies validates a species token coming from a request
func ParseSpecies(s string) (Species, error) {
	sp := Species(strings.ToLower(strings.TrimSpace(s)))
	if !knownSpecies[sp] {
		return "", fmt.Errorf("unknown species %q", s)
	}
	return sp, nil
}

// QueryFilter is the typed set of optional predicates accepted by the
// aggregate read queries.
type QueryFilter struct {
	YearStart *int
	YearEnd   *int
	Areas     []string
	Species   []Species
}

// SpeciesOrDefault returns the requested species, or the five salmon species.
func (f QueryFilter) SpeciesOrDefault() []Species {
	if len(f.Species) == 0 {
		return DefaultSpecies
	}
	return f.Species
}

// TimeUnit is the granularity of trend queries
type TimeUnit string

const (
	Daily   TimeUnit = "daily"
	Weekly  TimeUnit = "weekly"
	Monthly TimeUnit = "monthly"
	Yearly  TimeUnit = "yearly"
)
