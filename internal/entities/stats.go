package entities

// Statistics is the headline summary served to the dashboard
type Statistics struct {
	TotalCatch   int64  `json:"total_catch"`
	Surveys      int64  `json:"surveys"`
	TotalRecords int64  `json:"total_records"`
	TotalAnglers int64  `json:"total_anglers"`
	TotalChinook int64  `json:"total_chinook"`
	TotalCoho    int64  `json:"total_coho"`
	MinYear      string `json:"min_year"`
	MaxYear      string `json:"max_year"`
	Areas        int64  `json:"areas"`
}

// AreaTotal is the summed catch for one catch area
type AreaTotal struct {
	Area    string  `json:"area"`
	Total   float64 `json:"total"`
	Surveys int64   `json:"surveys,omitempty"`
}

// YearlyCatch holds the salmon totals for one year
type YearlyCatch struct {
	Year    string  `json:"year"`
	Chinook float64 `json:"chinook"`
	Coho    float64 `json:"coho"`
	Chum    float64 `json:"chum"`
	Pink    float64 `json:"pink"`
	Sockeye float64 `json:"sockeye"`
}

// TrendPoint is one period of a trend series with a total per requested species
type TrendPoint struct {
	Period string
	Totals map[Species]float64
}

// MonthlyTotal is the summed catch for a calendar month across all years
type MonthlyTotal struct {
	Month int     `json:"month"`
	Total float64 `json:"total"`
}

// FilterOptions lists the values the dashboard offers as filters
type FilterOptions struct {
	Years []string `json:"years"`
	Areas []string `json:"areas"`
}

// StoreSummary is logged after each collection run
type StoreSummary struct {
	TotalRecords    int64
	TotalAnglers    int64
	TotalInterviews int64
	RecordsByYear   []YearCount
	TopAreas        []AreaCount
	UpdatedRecords  int64
}

// YearCount is a record count for one year
type YearCount struct {
	Year  string
	Count int64
}

// AreaCount is a record count for one catch area
type AreaCount struct {
	Area  string
	Count int64
}
