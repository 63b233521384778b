package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/abelzeko/creel-bot/internal/entities"
)

// AggregateReader serves the dashboard read queries. Each query reads the
// committed table only.
type AggregateReader interface {
	Statistics(ctx context.Context, f entities.QueryFilter) (entities.Statistics, error)
	CatchAreas(ctx context.Context, f entities.QueryFilter) ([]entities.AreaTotal, error)
	FilterOptions(ctx context.Context) (entities.FilterOptions, error)
	Yearly(ctx context.Context, f entities.QueryFilter) ([]entities.YearlyCatch, error)
	Trend(ctx context.Context, f entities.QueryFilter, unit entities.TimeUnit) ([]entities.TrendPoint, error)
	SpeciesTotals(ctx context.Context, f entities.QueryFilter) (map[entities.Species]float64, error)
	Monthly(ctx context.Context, f entities.QueryFilter) ([]entities.MonthlyTotal, error)
	MapData(ctx context.Context, f entities.QueryFilter) ([]entities.AreaTotal, error)
}

// Statistics returns the headline totals for the filtered records
func (r *SQLiteCreelRepository) Statistics(ctx context.Context, f entities.QueryFilter) (entities.Statistics, error) {
	var (
		stats                              entities.Statistics
		anglers                            sql.NullFloat64
		chinook, coho, chum, pink, sockeye sql.NullFloat64
		minYear, maxYear                   sql.NullString
	)

	b := newQueryBuilder(f)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(anglers),
			SUM(chinook), SUM(coho), SUM(chum), SUM(pink), SUM(sockeye),
			MIN(`+yearExpr+`), MAX(`+yearExpr+`)
		FROM creel_records`+b.where(), b.args...).
		Scan(&stats.TotalRecords, &anglers, &chinook, &coho, &chum, &pink, &sockeye, &minYear, &maxYear)
	if err != nil {
		return stats, fmt.Errorf("failed to query statistics: %w", err)
	}

	areaQuery := newQueryBuilder(f).and("catch_area != ''")
	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT catch_area) FROM creel_records"+areaQuery.where(), areaQuery.args...).
		Scan(&stats.Areas)
	if err != nil {
		return stats, fmt.Errorf("failed to count catch areas: %w", err)
	}

	total := chinook.Float64 + coho.Float64 + chum.Float64 + pink.Float64 + sockeye.Float64
	stats.TotalCatch = int64(math.Round(total))
	stats.Surveys = stats.TotalRecords
	stats.TotalAnglers = int64(math.Round(anglers.Float64))
	stats.TotalChinook = int64(math.Round(chinook.Float64))
	stats.TotalCoho = int64(math.Round(coho.Float64))
	stats.MinYear = "N/A"
	stats.MaxYear = "N/A"
	if minYear.Valid && minYear.String != "" {
		stats.MinYear = minYear.String
	}
	if maxYear.Valid && maxYear.String != "" {
		stats.MaxYear = maxYear.String
	}
	return stats, nil
}

// CatchAreas returns the catch total per area, largest first
func (r *SQLiteCreelRepository) CatchAreas(ctx context.Context, f entities.QueryFilter) ([]entities.AreaTotal, error) {
	sum, err := speciesSumExpr(f.SpeciesOrDefault())
	if err != nil {
		return nil, err
	}
	b := newQueryBuilder(f).and("catch_area != ''")
	rows, err := r.db.QueryContext(ctx, `
		SELECT catch_area, SUM(`+sum+`) AS total
		FROM creel_records`+b.where()+`
		GROUP BY catch_area
		ORDER BY total DESC`, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query catch areas: %w", err)
	}
	defer rows.Close()

	result := []entities.AreaTotal{}
	for rows.Next() {
		var (
			at    entities.AreaTotal
			total sql.NullFloat64
		)
		if err := rows.Scan(&at.Area, &total); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		at.Total = total.Float64
		result = append(result, at)
	}
	return result, rows.Err()
}

// FilterOptions lists the distinct years and non-empty catch areas
func (r *SQLiteCreelRepository) FilterOptions(ctx context.Context) (entities.FilterOptions, error) {
	opts := entities.FilterOptions{Years: []string{}, Areas: []string{}}

	years, err := r.queryStrings(ctx, `
		SELECT DISTINCT `+yearExpr+` AS year
		FROM creel_records
		WHERE length(sample_date) > 0
		ORDER BY year`)
	if err != nil {
		return opts, fmt.Errorf("failed to query years: %w", err)
	}
	for _, y := range years {
		if y != "" {
			opts.Years = append(opts.Years, y)
		}
	}

	areas, err := r.queryStrings(ctx, `
		SELECT DISTINCT catch_area
		FROM creel_records
		WHERE catch_area != ''
		ORDER BY catch_area`)
	if err != nil {
		return opts, fmt.Errorf("failed to query areas: %w", err)
	}
	opts.Areas = append(opts.Areas, areas...)
	return opts, nil
}

// Yearly returns the salmon totals per year
func (r *SQLiteCreelRepository) Yearly(ctx context.Context, f entities.QueryFilter) ([]entities.YearlyCatch, error) {
	b := newQueryBuilder(f).and("length(sample_date) > 0")
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+yearExpr+` AS year,
			SUM(chinook), SUM(coho), SUM(chum), SUM(pink), SUM(sockeye)
		FROM creel_records`+b.where()+`
		GROUP BY year
		ORDER BY year`, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query yearly data: %w", err)
	}
	defer rows.Close()

	result := []entities.YearlyCatch{}
	for rows.Next() {
		var (
			yc                                 entities.YearlyCatch
			chinook, coho, chum, pink, sockeye sql.NullFloat64
		)
		if err := rows.Scan(&yc.Year, &chinook, &coho, &chum, &pink, &sockeye); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		yc.Chinook, yc.Coho, yc.Chum = chinook.Float64, coho.Float64, chum.Float64
		yc.Pink, yc.Sockeye = pink.Float64, sockeye.Float64
		result = append(result, yc)
	}
	return result, rows.Err()
}

// Trend returns per-period totals for each requested species
func (r *SQLiteCreelRepository) Trend(ctx context.Context, f entities.QueryFilter, unit entities.TimeUnit) ([]entities.TrendPoint, error) {
	species := f.SpeciesOrDefault()
	sel, err := speciesSelect(species)
	if err != nil {
		return nil, err
	}

	b := newQueryBuilder(f).and("length(sample_date) > 0")
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+periodExpr(unit)+` AS period, `+sel+`
		FROM creel_records`+b.where()+`
		GROUP BY period
		ORDER BY period`, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trend data: %w", err)
	}
	defer rows.Close()

	result := []entities.TrendPoint{}
	for rows.Next() {
		var period sql.NullString
		totals := make([]sql.NullFloat64, len(species))
		dest := make([]any, 0, len(species)+1)
		dest = append(dest, &period)
		for i := range totals {
			dest = append(dest, &totals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		point := entities.TrendPoint{Period: period.String, Totals: make(map[entities.Species]float64, len(species))}
		for i, sp := range species {
			point.Totals[sp] = totals[i].Float64
		}
		result = append(result, point)
	}
	return result, rows.Err()
}

// SpeciesTotals returns one total per requested species
func (r *SQLiteCreelRepository) SpeciesTotals(ctx context.Context, f entities.QueryFilter) (map[entities.Species]float64, error) {
	species := f.SpeciesOrDefault()
	sel, err := speciesSelect(species)
	if err != nil {
		return nil, err
	}

	b := newQueryBuilder(f)
	totals := make([]sql.NullFloat64, len(species))
	dest := make([]any, len(species))
	for i := range totals {
		dest[i] = &totals[i]
	}
	if err := r.db.QueryRowContext(ctx, "SELECT "+sel+" FROM creel_records"+b.where(), b.args...).Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to query species totals: %w", err)
	}

	result := make(map[entities.Species]float64, len(species))
	for i, sp := range species {
		result[sp] = totals[i].Float64
	}
	return result, nil
}

// Monthly returns the catch total for each calendar month, always 12 entries
func (r *SQLiteCreelRepository) Monthly(ctx context.Context, f entities.QueryFilter) ([]entities.MonthlyTotal, error) {
	sum, err := speciesSumExpr(f.SpeciesOrDefault())
	if err != nil {
		return nil, err
	}

	b := newQueryBuilder(f)
	rows, err := r.db.QueryContext(ctx, `
		SELECT CAST(`+monthNumberExpr+` AS INTEGER) AS month, SUM(`+sum+`)
		FROM creel_records`+b.where()+`
		GROUP BY month
		ORDER BY month`, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly data: %w", err)
	}
	defer rows.Close()

	result := make([]entities.MonthlyTotal, 12)
	for i := range result {
		result[i].Month = i + 1
	}
	for rows.Next() {
		var (
			month sql.NullInt64
			total sql.NullFloat64
		)
		if err := rows.Scan(&month, &total); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if month.Valid && month.Int64 >= 1 && month.Int64 <= 12 {
			result[month.Int64-1].Total = total.Float64
		}
	}
	return result, rows.Err()
}

// MapData returns catch totals and survey counts per area
func (r *SQLiteCreelRepository) MapData(ctx context.Context, f entities.QueryFilter) ([]entities.AreaTotal, error) {
	sum, err := speciesSumExpr(f.SpeciesOrDefault())
	if err != nil {
		return nil, err
	}

	b := newQueryBuilder(f).and("catch_area != ''")
	rows, err := r.db.QueryContext(ctx, `
		SELECT catch_area, SUM(`+sum+`), COUNT(*)
		FROM creel_records`+b.where()+`
		GROUP BY catch_area`, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query map data: %w", err)
	}
	defer rows.Close()

	result := []entities.AreaTotal{}
	for rows.Next() {
		var (
			at    entities.AreaTotal
			total sql.NullFloat64
		)
		if err := rows.Scan(&at.Area, &total, &at.Surveys); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		at.Total = total.Float64
		result = append(result, at)
	}
	return result, rows.Err()
}

func (r *SQLiteCreelRepository) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s sql.NullString
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s.String)
	}
	return out, rows.Err()
}
