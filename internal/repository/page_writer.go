package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/abelzeko/creel-bot/internal/entities"
)

type pageStatements struct {
	insert   *sql.Stmt
	lookup   *sql.Stmt
	update   *sql.Stmt
	conflict *sql.Stmt
}

func preparePageStatements(ctx context.Context, tx *sql.Tx) (*pageStatements, error) {
	var (
		s   pageStatements
		err error
	)

	// Any uniqueness violation on the natural key is absorbed here and
	// resolved below by comparing hashes.
	s.insert, err = tx.PrepareContext(ctx, `
		INSERT INTO creel_records (
			sample_date, ramp_site, catch_area, interviews, anglers,
			chinook, chinook_per_angler, coho, chum, pink, sockeye, lingcod, halibut,
			data_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.lookup, err = tx.PrepareContext(ctx, `
		SELECT data_hash FROM creel_records
		WHERE sample_date = ? AND ramp_site = ? AND catch_area = ?
		AND interviews IS ? AND anglers IS ?`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare lookup statement: %w", err)
	}

	s.update, err = tx.PrepareContext(ctx, `
		UPDATE creel_records SET
			chinook = ?, chinook_per_angler = ?, coho = ?, chum = ?,
			pink = ?, sockeye = ?, lingcod = ?, halibut = ?,
			data_hash = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE sample_date = ? AND ramp_site = ? AND catch_area = ?
		AND interviews IS ? AND anglers IS ?`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare update statement: %w", err)
	}

	s.conflict, err = tx.PrepareContext(ctx, `
		INSERT INTO creel_conflicts (
			run_id, sample_date, ramp_site, catch_area, interviews, anglers, old_hash, new_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare conflict statement: %w", err)
	}

	return &s, nil
}

func (s *pageStatements) close() {
	for _, stmt := range []*sql.Stmt{s.insert, s.lookup, s.update, s.conflict} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

type sqlitePageWriter struct {
	tx    *sql.Tx
	stmts *pageStatements
	done  bool
}

// Upsert reconciles one record. Each call runs inside its own savepoint so a
// fault leaves neither a half-applied update nor a dangling ledger entry,
// and the rest of the page is unaffected.
func (w *sqlitePageWriter) Upsert(ctx context.Context, rec entities.CreelRecord, runID string) (entities.Outcome, error) {
	if w.done {
		return entities.OutcomeError, errors.New("page already finished")
	}

	if _, err := w.tx.ExecContext(ctx, "SAVEPOINT upsert_row"); err != nil {
		return entities.OutcomeError, &entities.StorageError{Op: "savepoint", Key: rec.Key, Err: err}
	}

	outcome, err := w.upsert(ctx, rec, runID)
	if err != nil {
		if _, rbErr := w.tx.ExecContext(ctx, "ROLLBACK TO upsert_row"); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		w.tx.ExecContext(ctx, "RELEASE upsert_row")
		return entities.OutcomeError, err
	}

	if _, err := w.tx.ExecContext(ctx, "RELEASE upsert_row"); err != nil {
		return entities.OutcomeError, &entities.StorageError{Op: "release", Key: rec.Key, Err: err}
	}
	return outcome, nil
}

func (w *sqlitePageWriter) upsert(ctx context.Context, rec entities.CreelRecord, runID string) (entities.Outcome, error) {
	k, p := rec.Key, rec.Payload

	res, err := w.stmts.insert.ExecContext(ctx,
		k.SampleDate, k.Site, k.CatchArea, k.Interviews, k.Anglers,
		p.Chinook, p.ChinookPerAngler, p.Coho, p.Chum, p.Pink, p.Sockeye, p.Lingcod, p.Halibut,
		rec.ContentHash)
	if err != nil {
		return entities.OutcomeError, &entities.StorageError{Op: "insert", Key: k, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return entities.OutcomeError, &entities.StorageError{Op: "insert", Key: k, Err: err}
	}
	if n > 0 {
		return entities.OutcomeInserted, nil
	}

	var storedHash string
	err = w.stmts.lookup.QueryRowContext(ctx,
		k.SampleDate, k.Site, k.CatchArea, k.Interviews, k.Anglers).Scan(&storedHash)
	if err != nil {
		return entities.OutcomeError, &entities.StorageError{Op: "lookup", Key: k, Err: err}
	}
	if storedHash == rec.ContentHash {
		return entities.OutcomeDuplicate, nil
	}

	if _, err := w.stmts.update.ExecContext(ctx,
		p.Chinook, p.ChinookPerAngler, p.Coho, p.Chum, p.Pink, p.Sockeye, p.Lingcod, p.Halibut,
		rec.ContentHash,
		k.SampleDate, k.Site, k.CatchArea, k.Interviews, k.Anglers); err != nil {
		return entities.OutcomeError, &entities.StorageError{Op: "update", Key: k, Err: err}
	}

	if _, err := w.stmts.conflict.ExecContext(ctx,
		runID, k.SampleDate, k.Site, k.CatchArea, k.Interviews, k.Anglers,
		storedHash, rec.ContentHash); err != nil {
		return entities.OutcomeError, &entities.StorageError{Op: "record conflict", Key: k, Err: err}
	}

	return entities.OutcomeUpdated, nil
}

// Commit makes the whole page durable
func (w *sqlitePageWriter) Commit() error {
	if w.done {
		return errors.New("page already finished")
	}
	w.done = true
	w.stmts.close()
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback discards the page. It is a no-op after Commit.
func (w *sqlitePageWriter) Rollback() error {
	if w.done {
		return nil
	}
	w.done = true
	w.stmts.close()
	if err := w.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}
