package usecases

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelzeko/creel-bot/internal/entities"
	"github.com/abelzeko/creel-bot/internal/integration"
	"github.com/abelzeko/creel-bot/internal/normalizer"
	"github.com/abelzeko/creel-bot/internal/repository"
)

// fakeFetcher serves pages from memory. Pages that are not configured answer
// like a 404.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[int][]integration.Row
	errs  map[int]error
	calls []int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[int][]integration.Row{}, errs: map[int]error{}}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, page int) ([]integration.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, page)
	if err, ok := f.errs[page]; ok {
		return nil, err
	}
	rows, ok := f.pages[page]
	if !ok {
		return nil, fmt.Errorf("page %d: %w", page, entities.ErrNoMorePages)
	}
	return rows, nil
}

func (f *fakeFetcher) PageURL(page int) string {
	return fmt.Sprintf("https://example.org/export?sample_date=%d", page)
}

func creelRow(date, site, area, anglers, chinook string) integration.Row {
	return integration.Row{
		normalizer.ColSampleDate: date,
		normalizer.ColSite:       site,
		normalizer.ColCatchArea:  area,
		normalizer.ColInterviews: "1",
		normalizer.ColAnglers:    anglers,
		normalizer.ColChinook:    chinook,
		normalizer.ColCoho:       "1",
	}
}

// distinctRows builds n rows with unique natural keys
func distinctRows(prefix string, n int) []integration.Row {
	rows := make([]integration.Row, n)
	for i := range rows {
		rows[i] = creelRow("Apr 1, 2013", fmt.Sprintf("%s-%03d", prefix, i), "8-2", "2", "1")
	}
	return rows
}

func newTestRepo(t *testing.T) *repository.SQLiteCreelRepository {
	t.Helper()
	repo, err := repository.NewSQLiteCreelRepository(filepath.Join(t.TempDir(), "creel.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestCollector(repo repository.CreelRepository, f integration.PageFetcher) *Collector {
	return NewCollector(repo, f, DefaultStormThreshold, nil, zerolog.Nop())
}

func TestCollectorTwoPagesWithOverlap(t *testing.T) {
	repo := newTestRepo(t)
	f := newFakeFetcher()
	a := creelRow("Apr 1, 2013", "Everett", "8-2", "4", "1")
	b := creelRow("Apr 1, 2013", "Edmonds", "9", "3", "2")
	c := creelRow("Apr 2, 2013", "Everett", "N/A", "", "")
	d := creelRow("Apr 3, 2013", "Everett", "", "", "")
	f.pages[1] = []integration.Row{a, b, c}
	f.pages[2] = []integration.Row{b, c, d}

	res, err := newTestCollector(repo, f).Run(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Inserted)
	assert.Equal(t, 2, res.Duplicates)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 6, res.Rows)
	assert.Equal(t, entities.StopNotFound, res.Stop)
	assert.Equal(t, 3, res.StoppedAt)
	assert.EqualValues(t, 4, res.TotalRecords)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []int{1, 2, 3}, f.calls)
}

func TestCollectorRecordsUpstreamChange(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	f := newFakeFetcher()
	f.pages[1] = []integration.Row{creelRow("Apr 1, 2013", "Everett", "8-2", "4", "5")}
	_, err := newTestCollector(repo, f).Run(ctx, 1)
	require.NoError(t, err)

	f = newFakeFetcher()
	f.pages[1] = []integration.Row{creelRow("Apr 1, 2013", "Everett", "8-2", "4", "7")}
	res, err := newTestCollector(repo, f).Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, entities.StopMaxPages, res.Stop)

	recs, err := repo.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Payload.Chinook)
	assert.Equal(t, 7.0, *recs[0].Payload.Chinook)

	conflicts, err := repo.ListConflicts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, res.RunID, conflicts[0].RunID)
}

func TestCollectorDuplicateStormStops(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	old := distinctRows("old", 150)

	seed := newFakeFetcher()
	seed.pages[1] = old
	_, err := newTestCollector(repo, seed).Run(ctx, 1)
	require.NoError(t, err)

	f := newFakeFetcher()
	f.pages[1] = old
	f.pages[2] = distinctRows("new", 5)
	res, err := newTestCollector(repo, f).Run(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, entities.StopDuplicateStorm, res.Stop)
	assert.Equal(t, 1, res.StoppedAt)
	assert.Equal(t, 150, res.Duplicates)
	assert.Equal(t, []int{1}, f.calls)
	assert.EqualValues(t, 150, res.TotalRecords)
}

func TestCollectorSmallDuplicatePageContinues(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	old := distinctRows("old", 50)

	seed := newFakeFetcher()
	seed.pages[1] = old
	_, err := newTestCollector(repo, seed).Run(ctx, 1)
	require.NoError(t, err)

	f := newFakeFetcher()
	f.pages[1] = old
	f.pages[2] = distinctRows("new", 2)
	res, err := newTestCollector(repo, f).Run(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, entities.StopNotFound, res.Stop)
	assert.Equal(t, []int{1, 2, 3}, f.calls)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 50, res.Duplicates)
}

func TestCollectorStormNeedsEveryRowDuplicate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	old := distinctRows("old", 150)

	seed := newFakeFetcher()
	seed.pages[1] = old
	_, err := newTestCollector(repo, seed).Run(ctx, 1)
	require.NoError(t, err)

	f := newFakeFetcher()
	f.pages[1] = append(append([]integration.Row{}, old...), creelRow("May 1, 2013", "Fresh", "9", "1", "1"))
	f.pages[2] = distinctRows("new", 1)
	res, err := newTestCollector(repo, f).Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, f.calls)
	assert.Equal(t, 2, res.Inserted)
}

func TestCollectorTransportErrorKeepsCommittedPages(t *testing.T) {
	repo := newTestRepo(t)
	f := newFakeFetcher()
	f.pages[1] = distinctRows("p1", 3)
	f.errs[2] = &entities.TransportError{Page: 2, StatusCode: 503}
	f.pages[3] = distinctRows("p3", 3)

	res, err := newTestCollector(repo, f).Run(context.Background(), 5)
	require.Error(t, err)

	var te *entities.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, te.Page)
	assert.Equal(t, entities.StopTransportError, res.Stop)
	assert.Equal(t, 2, res.StoppedAt)
	assert.Equal(t, 3, res.Inserted)
	assert.EqualValues(t, 3, res.TotalRecords)
	assert.Equal(t, []int{1, 2}, f.calls)
}

func TestCollectorEmptyPageStops(t *testing.T) {
	repo := newTestRepo(t)
	f := newFakeFetcher()
	f.pages[1] = distinctRows("p1", 2)
	f.errs[2] = fmt.Errorf("page 2: %w", entities.ErrEmptyPage)

	res, err := newTestCollector(repo, f).Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, entities.StopEmptyPage, res.Stop)
	assert.Equal(t, 2, res.Inserted)
}

func TestCollectorSkipsRowsWithoutKey(t *testing.T) {
	repo := newTestRepo(t)
	f := newFakeFetcher()
	f.pages[1] = []integration.Row{
		creelRow("", "Everett", "8-2", "1", "1"),
		creelRow("Apr 1, 2013", "  ", "8-2", "1", "1"),
		creelRow("Apr 1, 2013", "Everett", "8-2", "abc", "x"),
	}

	res, err := newTestCollector(repo, f).Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Inserted)
}

func TestCollectorCanceled(t *testing.T) {
	repo := newTestRepo(t)
	f := newFakeFetcher()
	f.pages[1] = distinctRows("p1", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newTestCollector(repo, f).Run(ctx, 3)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, entities.StopCanceled, res.Stop)
	assert.Empty(t, f.calls)
}
