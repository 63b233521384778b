// Package repository provides data access implementations
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/abelzeko/creel-bot/internal/entities"
	_ "github.com/mattn/go-sqlite3"
)

// CreelRepository defines the persistence operations used by the collector,
// the update gate and the read API.
type CreelRepository interface {
	BeginPage(ctx context.Context) (PageWriter, error)
	Count(ctx context.Context) (int64, error)
	Summary(ctx context.Context) (entities.StoreSummary, error)
	ListConflicts(ctx context.Context, limit int) ([]entities.ConflictEntry, error)
	ListRecords(ctx context.Context) ([]entities.CreelRecord, error)
	FindByKey(ctx context.Context, key entities.NaturalKey) (*entities.CreelRecord, error)

	GetLastRun(ctx context.Context) (time.Time, error)
	SetLastRun(ctx context.Context, t time.Time) error

	AggregateReader

	Checkpoint(ctx context.Context) error
	Path() string
	Close() error
}

// PageWriter reconciles the rows of one fetched page inside a single
// transaction. Nothing is visible to other connections until Commit.
type PageWriter interface {
	Upsert(ctx context.Context, rec entities.CreelRecord, runID string) (entities.Outcome, error)
	Commit() error
	Rollback() error
}

// SQLiteCreelRepository implements CreelRepository using SQLite
type SQLiteCreelRepository struct {
	db     *sql.DB
	DBPath string
	logger zerolog.Logger
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS creel_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sample_date TEXT NOT NULL,
	ramp_site TEXT NOT NULL,
	catch_area TEXT NOT NULL DEFAULT '',
	interviews INTEGER,
	anglers INTEGER,
	chinook REAL,
	chinook_per_angler REAL,
	coho REAL,
	chum REAL,
	pink REAL,
	sockeye REAL,
	lingcod REAL,
	halibut REAL,
	data_hash TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_sample_date ON creel_records(sample_date);
CREATE INDEX IF NOT EXISTS idx_catch_area ON creel_records(catch_area);
CREATE INDEX IF NOT EXISTS idx_ramp_site ON creel_records(ramp_site);
CREATE INDEX IF NOT EXISTS idx_data_hash ON creel_records(data_hash);

CREATE TABLE IF NOT EXISTS creel_conflicts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	sample_date TEXT NOT NULL,
	ramp_site TEXT NOT NULL,
	catch_area TEXT NOT NULL,
	interviews INTEGER,
	anglers INTEGER,
	old_hash TEXT NOT NULL,
	new_hash TEXT NOT NULL,
	detected_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_conflicts_run ON creel_conflicts(run_id);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at TEXT
);`

// Null counts are part of the key. The index maps them to '' which no stored
// integer can equal, so a null count and any real count stay distinct keys.
const naturalKeyIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_creel_natural_key ON creel_records(
	sample_date, ramp_site, catch_area, IFNULL(interviews, ''), IFNULL(anglers, '')
)`

// NewSQLiteCreelRepository opens (creating if needed) the database at dbPath
func NewSQLiteCreelRepository(dbPath string, logger zerolog.Logger) (*SQLiteCreelRepository, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	_, statErr := os.Stat(dbPath)
	isNew := os.IsNotExist(statErr)

	// busy_timeout lets read API connections wait out a page commit
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=10000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := ensureNaturalKeyIndex(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if isNew {
		logger.Info().Str("path", dbPath).Msg("Created new database")
	} else {
		logger.Info().Str("path", dbPath).Msg("Connected to database")
	}

	return &SQLiteCreelRepository{
		db:     db,
		DBPath: dbPath,
		logger: logger,
	}, nil
}

// ensureNaturalKeyIndex creates the natural-key index. Databases written
// before the index existed only had a plain UNIQUE constraint, which never
// matches null counts, so they can hold several rows for one key. Those are
// collapsed to the newest row first.
func ensureNaturalKeyIndex(db *sql.DB, logger zerolog.Logger) error {
	var exists int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_creel_natural_key'").
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check natural key index: %w", err)
	}
	if exists > 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin index migration: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		DELETE FROM creel_records WHERE id NOT IN (
			SELECT MAX(id) FROM creel_records
			GROUP BY sample_date, ramp_site, catch_area, IFNULL(interviews, ''), IFNULL(anglers, '')
		)`)
	if err != nil {
		return fmt.Errorf("failed to collapse duplicate keys: %w", err)
	}
	if _, err := tx.Exec(naturalKeyIndexSQL); err != nil {
		return fmt.Errorf("failed to create natural key index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index migration: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		logger.Warn().Int64("removed", n).Msg("Collapsed rows sharing a natural key")
	}
	return nil
}

// Path returns the database file location
func (r *SQLiteCreelRepository) Path() string { return r.DBPath }

// Close closes the database connection
func (r *SQLiteCreelRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Checkpoint flushes the WAL into the main database file so the file can be
// copied on its own.
func (r *SQLiteCreelRepository) Checkpoint(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint database: %w", err)
	}
	return nil
}

// Count returns the number of stored records
func (r *SQLiteCreelRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM creel_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// BeginPage starts the transaction that holds one page worth of upserts
func (r *SQLiteCreelRepository) BeginPage(ctx context.Context) (PageWriter, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmts, err := preparePageStatements(ctx, tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	return &sqlitePageWriter{tx: tx, stmts: stmts}, nil
}

const recordColumns = `id, sample_date, ramp_site, catch_area, interviews, anglers,
	chinook, chinook_per_angler, coho, chum, pink, sockeye, lingcod, halibut,
	data_hash, created_at, updated_at`

// FindByKey returns the stored record for key, or nil when absent
func (r *SQLiteCreelRepository) FindByKey(ctx context.Context, key entities.NaturalKey) (*entities.CreelRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM creel_records
		WHERE sample_date = ? AND ramp_site = ? AND catch_area = ?
		AND interviews IS ? AND anglers IS ?`,
		key.SampleDate, key.Site, key.CatchArea, key.Interviews, key.Anglers)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record: %w", err)
	}
	return &rec, nil
}

// ListRecords returns every stored record ordered by id
func (r *SQLiteCreelRepository) ListRecords(ctx context.Context) ([]entities.CreelRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM creel_records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var result []entities.CreelRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return result, nil
}

// ListConflicts returns the most recent conflict ledger entries, newest first
func (r *SQLiteCreelRepository) ListConflicts(ctx context.Context, limit int) ([]entities.ConflictEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, sample_date, ramp_site, catch_area, interviews, anglers,
			old_hash, new_hash, detected_at
		FROM creel_conflicts
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var result []entities.ConflictEntry
	for rows.Next() {
		var (
			c                   entities.ConflictEntry
			interviews, anglers sql.NullInt64
			detectedAt          string
		)
		if err := rows.Scan(&c.ID, &c.RunID, &c.Key.SampleDate, &c.Key.Site, &c.Key.CatchArea,
			&interviews, &anglers, &c.OldHash, &c.NewHash, &detectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		c.Key.Interviews = nullInt(interviews)
		c.Key.Anglers = nullInt(anglers)
		c.DetectedAt, _ = parseTimestamp(detectedAt)
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return result, nil
}

// Summary gathers the statistics logged at the end of a collection run
func (r *SQLiteCreelRepository) Summary(ctx context.Context) (entities.StoreSummary, error) {
	var (
		s                   entities.StoreSummary
		anglers, interviews sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*), SUM(anglers), SUM(interviews) FROM creel_records").
		Scan(&s.TotalRecords, &anglers, &interviews)
	if err != nil {
		return s, fmt.Errorf("failed to summarize records: %w", err)
	}
	s.TotalAnglers = anglers.Int64
	s.TotalInterviews = interviews.Int64

	rows, err := r.db.QueryContext(ctx, `
		SELECT substr(sample_date, -4) AS year, COUNT(*)
		FROM creel_records
		WHERE length(sample_date) > 0
		GROUP BY year
		ORDER BY year DESC`)
	if err != nil {
		return s, fmt.Errorf("failed to count records by year: %w", err)
	}
	for rows.Next() {
		var yc entities.YearCount
		if err := rows.Scan(&yc.Year, &yc.Count); err != nil {
			rows.Close()
			return s, fmt.Errorf("failed to scan row: %w", err)
		}
		s.RecordsByYear = append(s.RecordsByYear, yc)
	}
	rows.Close()

	rows, err = r.db.QueryContext(ctx, `
		SELECT catch_area, COUNT(*) AS n
		FROM creel_records
		WHERE catch_area != ''
		GROUP BY catch_area
		ORDER BY n DESC
		LIMIT 5`)
	if err != nil {
		return s, fmt.Errorf("failed to count records by area: %w", err)
	}
	for rows.Next() {
		var ac entities.AreaCount
		if err := rows.Scan(&ac.Area, &ac.Count); err != nil {
			rows.Close()
			return s, fmt.Errorf("failed to scan row: %w", err)
		}
		s.TopAreas = append(s.TopAreas, ac)
	}
	rows.Close()

	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM creel_records WHERE updated_at > created_at").
		Scan(&s.UpdatedRecords)
	if err != nil {
		return s, fmt.Errorf("failed to count updated records: %w", err)
	}

	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (entities.CreelRecord, error) {
	var (
		rec                  entities.CreelRecord
		interviews, anglers  sql.NullInt64
		chinook, perAngler   sql.NullFloat64
		coho, chum, pink     sql.NullFloat64
		sockeye, lingcod     sql.NullFloat64
		halibut              sql.NullFloat64
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.ID, &rec.Key.SampleDate, &rec.Key.Site, &rec.Key.CatchArea,
		&interviews, &anglers,
		&chinook, &perAngler, &coho, &chum, &pink, &sockeye, &lingcod, &halibut,
		&rec.ContentHash, &createdAt, &updatedAt)
	if err != nil {
		return rec, err
	}

	rec.Key.Interviews = nullInt(interviews)
	rec.Key.Anglers = nullInt(anglers)
	rec.Payload = entities.Payload{
		Chinook:          nullFloat(chinook),
		ChinookPerAngler: nullFloat(perAngler),
		Coho:             nullFloat(coho),
		Chum:             nullFloat(chum),
		Pink:             nullFloat(pink),
		Sockeye:          nullFloat(sockeye),
		Lingcod:          nullFloat(lingcod),
		Halibut:          nullFloat(halibut),
	}
	rec.CreatedAt, _ = parseTimestamp(createdAt)
	rec.UpdatedAt, _ = parseTimestamp(updatedAt)
	return rec, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

// parseTimestamp accepts the layouts written by this package, by SQLite's
// CURRENT_TIMESTAMP and by the earlier collector's isoformat() values.
func parseTimestamp(s string) (time.Time, error) {
	layouts := []struct {
		layout string
		loc    *time.Location
	}{
		{time.RFC3339Nano, time.UTC},
		{"2006-01-02T15:04:05.000Z", time.UTC},
		{"2006-01-02 15:04:05", time.UTC},
		{"2006-01-02T15:04:05.999999", time.Local},
		{"2006-01-02T15:04:05", time.Local},
	}

	var lastErr error
	for _, l := range layouts {
		t, err := time.ParseInLocation(l.layout, s, l.loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", s, lastErr)
}
