package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/abelzeko/creel-bot/internal/entities"
)

// speciesColumns maps every queryable species to its column. Request tokens
// never reach SQL text; only these identifiers do.
var speciesColumns = map[entities.Species]string{
	entities.Chinook: "chinook",
	entities.Coho:    "coho",
	entities.Chum:    "chum",
	entities.Pink:    "pink",
	entities.Sockeye: "sockeye",
	entities.Lingcod: "lingcod",
	entities.Halibut: "halibut",
}

const yearExpr = "substr(sample_date, -4)"

// queryBuilder composes a WHERE clause from a QueryFilter plus fixed
// predicates supplied by the calling query.
type queryBuilder struct {
	conds []string
	args  []any
}

func newQueryBuilder(f entities.QueryFilter) *queryBuilder {
	b := &queryBuilder{}
	if f.YearStart != nil {
		b.conds = append(b.conds, yearExpr+" >= ?")
		b.args = append(b.args, strconv.Itoa(*f.YearStart))
	}
	if f.YearEnd != nil {
		b.conds = append(b.conds, yearExpr+" <= ?")
		b.args = append(b.args, strconv.Itoa(*f.YearEnd))
	}

	var areas []string
	for _, a := range f.Areas {
		if a != "" {
			areas = append(areas, a)
		}
	}
	if len(areas) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(areas)), ",")
		b.conds = append(b.conds, "catch_area IN ("+placeholders+")")
		for _, a := range areas {
			b.args = append(b.args, a)
		}
	}
	return b
}

// and adds a predicate written by this package
func (b *queryBuilder) and(cond string) *queryBuilder {
	b.conds = append(b.conds, cond)
	return b
}

func (b *queryBuilder) where() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

func speciesColumn(sp entities.Species) (string, error) {
	col, ok := speciesColumns[sp]
	if !ok {
		return "", fmt.Errorf("unknown species %q", sp)
	}
	return col, nil
}

// speciesSumExpr adds the species columns row by row. Nulls count as zero so
// one blank cell does not drop the whole row from the total.
func speciesSumExpr(species []entities.Species) (string, error) {
	parts := make([]string, 0, len(species))
	for _, sp := range species {
		col, err := speciesColumn(sp)
		if err != nil {
			return "", err
		}
		parts = append(parts, "COALESCE("+col+", 0)")
	}
	return strings.Join(parts, " + "), nil
}

// speciesSelect renders "SUM(col) AS col" for each species
func speciesSelect(species []entities.Species) (string, error) {
	parts := make([]string, 0, len(species))
	for _, sp := range species {
		col, err := speciesColumn(sp)
		if err != nil {
			return "", err
		}
		parts = append(parts, "SUM("+col+") AS "+col)
	}
	return strings.Join(parts, ", "), nil
}

// sample_date is "Mon D, YYYY"; these expressions rebuild sortable dates.
const (
	monthNumberExpr = `CASE substr(sample_date, 1, 3)
		WHEN 'Jan' THEN '01' WHEN 'Feb' THEN '02' WHEN 'Mar' THEN '03'
		WHEN 'Apr' THEN '04' WHEN 'May' THEN '05' WHEN 'Jun' THEN '06'
		WHEN 'Jul' THEN '07' WHEN 'Aug' THEN '08' WHEN 'Sep' THEN '09'
		WHEN 'Oct' THEN '10' WHEN 'Nov' THEN '11' WHEN 'Dec' THEN '12'
	END`
	dayExpr     = `substr('0' || substr(sample_date, 5, instr(sample_date, ',') - 5), -2, 2)`
	isoDateExpr = yearExpr + ` || '-' || ` + monthNumberExpr + ` || '-' || ` + dayExpr
)

func periodExpr(unit entities.TimeUnit) string {
	switch unit {
	case entities.Daily:
		return isoDateExpr
	case entities.Weekly:
		return "strftime('%Y-W%W', " + isoDateExpr + ")"
	case entities.Monthly:
		return yearExpr + ` || '-' || ` + monthNumberExpr
	default:
		return yearExpr
	}
}
