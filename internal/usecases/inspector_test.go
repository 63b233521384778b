package usecases

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelzeko/creel-bot/internal/entities"
	"github.com/abelzeko/creel-bot/internal/integration"
)

func TestInspectPage(t *testing.T) {
	f := newFakeFetcher()
	f.pages[2] = []integration.Row{
		creelRow("Apr 1, 2013", "Everett", "8-2", "4", "1"),
		creelRow("Apr 1, 2013", "Everett", "8-2", "4", "1"),
		creelRow("Apr 1, 2013", "Everett", "8-2", "4", "3"),
		creelRow("Apr 1, 2013", "Edmonds", "N/A", "", ""),
		creelRow("Apr 1, 2013", "Edmonds", "null", "", ""),
		creelRow("", "Edmonds", "", "", ""),
	}

	report, err := NewInspector(f, zerolog.Nop()).InspectPage(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 6, report.Rows)
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 2, report.UniqueKeys)
	assert.Equal(t, "https://example.org/export?sample_date=2", report.URL)

	require.Len(t, report.Exact, 2)
	assert.Equal(t, 2, report.Exact[0].Row)
	assert.Equal(t, 1, report.Exact[0].FirstRow)
	assert.Equal(t, 5, report.Exact[1].Row)
	assert.Equal(t, 4, report.Exact[1].FirstRow)

	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, 3, report.Conflicts[0].Row)
	assert.False(t, report.Conflicts[0].SameData())
	assert.Equal(t, "8-2", report.Conflicts[0].Key.CatchArea)
}

func TestInspectPageFetchError(t *testing.T) {
	f := newFakeFetcher()
	_, err := NewInspector(f, zerolog.Nop()).InspectPage(context.Background(), 9)
	assert.ErrorIs(t, err, entities.ErrNoMorePages)
}

func TestExportJSON(t *testing.T) {
	repo := newTestRepo(t)
	f := newFakeFetcher()
	f.pages[1] = []integration.Row{
		creelRow("Apr 1, 2013", "Everett", "8-2", "4", "2.5"),
		creelRow("Apr 2, 2013", "Edmonds", "", "", ""),
	}
	_, err := newTestCollector(repo, f).Run(context.Background(), 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := ExportJSON(context.Background(), repo, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "Everett", out[0]["ramp_site"])
	assert.Equal(t, 2.5, out[0]["chinook"])
	assert.Nil(t, out[1]["anglers"])
	assert.NotContains(t, out[0], "data_hash")
	assert.NotContains(t, out[0], "id")
}
