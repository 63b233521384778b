package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelzeko/creel-bot/internal/entities"
)

const sampleCSV = "Sample date,Ramp/site,Catch area,# Interviews (Boat or Shore),Anglers,Chinook,Chinook (per angler),Coho,Chum,Pink,Sockeye,Lingcod,Halibut\n" +
	"\"Apr 1, 2013\",Everett,8-2,10,20,5,0.5,2,,,,1,\n" +
	"\"Apr 2, 2013\",Edmonds,N/A,3,4,0,0,0,0,0,0,0,0\n"

// mockExportServer serves a fixed response for every request
func mockExportServer(status int, contentType, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
}

func TestFetchPageParsesCSV(t *testing.T) {
	var gotQuery, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/csv")
		io.WriteString(w, sampleCSV)
	}))
	defer server.Close()

	client := NewExportClient(server.URL, "creel-bot-test", time.Second, zerolog.Nop())
	rows, err := client.FetchPage(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "Apr 1, 2013", rows[0]["Sample date"])
	assert.Equal(t, "8-2", rows[0]["Catch area"])
	assert.Equal(t, "", rows[0]["Chum"])
	assert.Equal(t, "N/A", rows[1]["Catch area"])

	assert.Contains(t, gotQuery, "sample_date=3")
	assert.Contains(t, gotQuery, "_format=csv")
	assert.Equal(t, "creel-bot-test", gotAgent)
}

func TestFetchPageNotFound(t *testing.T) {
	server := mockExportServer(http.StatusNotFound, "text/html", "<html><title>Not Found</title></html>")
	defer server.Close()

	client := NewExportClient(server.URL, "", time.Second, zerolog.Nop())
	_, err := client.FetchPage(context.Background(), 12)
	require.Error(t, err)
	assert.ErrorIs(t, err, entities.ErrNoMorePages)
	assert.False(t, entities.IsTransportError(err))
}

func TestFetchPageServerError(t *testing.T) {
	server := mockExportServer(http.StatusBadGateway, "text/html", "<html><head><title>Bad Gateway</title></head></html>")
	defer server.Close()

	client := NewExportClient(server.URL, "", time.Second, zerolog.Nop())
	_, err := client.FetchPage(context.Background(), 4)
	require.Error(t, err)

	var te *entities.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 4, te.Page)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Equal(t, "Bad Gateway", te.Message)
}

func TestFetchPageHTMLWithOK(t *testing.T) {
	html := `<!DOCTYPE html>
<html>
<head><title>Site maintenance</title></head>
<body><p>Back soon</p></body>
</html>`
	server := mockExportServer(http.StatusOK, "text/html; charset=utf-8", html)
	defer server.Close()

	client := NewExportClient(server.URL, "", time.Second, zerolog.Nop())
	_, err := client.FetchPage(context.Background(), 1)

	var te *entities.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, te.Page)
	assert.Equal(t, "Site maintenance", te.Message)
}

func TestFetchPageEmpty(t *testing.T) {
	for name, body := range map[string]string{
		"no body":     "",
		"header only": "Sample date,Ramp/site\n",
		"whitespace":  "\n\n",
	} {
		t.Run(name, func(t *testing.T) {
			server := mockExportServer(http.StatusOK, "text/csv", body)
			defer server.Close()

			client := NewExportClient(server.URL, "", time.Second, zerolog.Nop())
			_, err := client.FetchPage(context.Background(), 2)
			assert.ErrorIs(t, err, entities.ErrEmptyPage)
		})
	}
}

func TestFetchPageTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := NewExportClient(server.URL, "", 50*time.Millisecond, zerolog.Nop())
	_, err := client.FetchPage(context.Background(), 7)

	var te *entities.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 7, te.Page)
	assert.Contains(t, err.Error(), "page 7")
}

func TestPageURL(t *testing.T) {
	client := NewExportClient("https://example.org/export", "", 0, zerolog.Nop())
	u := client.PageURL(5)
	assert.True(t, strings.HasPrefix(u, "https://example.org/export?"))
	assert.Contains(t, u, "sample_date=5")
	assert.Contains(t, u, "ramp=")
	assert.Contains(t, u, "catch_area=")
	assert.True(t, strings.HasSuffix(u, "&page&_format=csv"))

	assert.True(t, strings.HasPrefix(NewExportClient("", "", 0, zerolog.Nop()).PageURL(1), DefaultBaseURL))
}

func TestParseCSVShortRowsAndBOM(t *testing.T) {
	data := "\xef\xbb\xbfSample date,Ramp/site,Chinook\n\"May 1, 2014\",Everett\n\"May 2, 2014\",Edmonds,3,extra\n"
	rows, err := ParseCSV([]byte(data))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "May 1, 2014", rows[0]["Sample date"])
	_, ok := rows[0]["Chinook"]
	assert.False(t, ok)
	assert.Equal(t, "3", rows[1]["Chinook"])
	assert.Len(t, rows[1], 3)
}
