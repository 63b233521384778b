// Package integration handles external service interactions
package integration

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/abelzeko/creel-bot/internal/entities"
)

// DefaultBaseURL is the WDFW Puget Sound creel export
const DefaultBaseURL = "https://wdfw.wa.gov/fishing/reports/creel/puget-annual/export"

// Row is one CSV data row keyed by header name
type Row = map[string]string

// PageFetcher returns the rows of one export page
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) ([]Row, error)
}

// ExportClient downloads pages of the creel CSV export
type ExportClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
	logger    zerolog.Logger
}

// NewExportClient creates a new export client. An empty baseURL selects the
// public WDFW export.
func NewExportClient(baseURL, userAgent string, timeout time.Duration, logger zerolog.Logger) *ExportClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExportClient{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "export_client").Logger(),
	}
}

// PageURL builds the export URL for a page index
func (c *ExportClient) PageURL(page int) string {
	// The export expects the bare "page" flag with no value
	q := url.Values{}
	q.Set("sample_date", strconv.Itoa(page))
	q.Set("ramp", "")
	q.Set("catch_area", "")
	return c.baseURL + "?" + q.Encode() + "&page&_format=csv"
}

// FetchPage retrieves and parses one page. A 404 yields ErrNoMorePages and a
// page without data rows yields ErrEmptyPage. Every other failure is a
// *entities.TransportError carrying the page index.
func (c *ExportClient) FetchPage(ctx context.Context, page int) ([]Row, error) {
	pageURL := c.PageURL(page)
	c.logger.Debug().Int("page", page).Str("url", pageURL).Msg("Fetching export page")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &entities.TransportError{Page: page, Err: err}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, &entities.TransportError{Page: page, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("page %d: %w", page, entities.ErrNoMorePages)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &entities.TransportError{Page: page, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &entities.TransportError{
			Page:       page,
			StatusCode: res.StatusCode,
			Message:    htmlTitle(body),
		}
	}

	if looksLikeHTML(res.Header.Get("Content-Type"), body) {
		msg := htmlTitle(body)
		if msg == "" {
			msg = "received HTML instead of CSV"
		}
		return nil, &entities.TransportError{Page: page, StatusCode: res.StatusCode, Message: msg}
	}

	rows, err := ParseCSV(body)
	if err != nil {
		return nil, &entities.TransportError{Page: page, Err: err}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("page %d: %w", page, entities.ErrEmptyPage)
	}

	c.logger.Debug().Int("page", page).Int("rows", len(rows)).Msg("Parsed export page")
	return rows, nil
}

// ParseCSV reads a header row followed by data rows. Short rows leave the
// missing columns absent; blank lines are skipped.
func ParseCSV(data []byte) ([]Row, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []Row
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}

		row := make(Row, len(header))
		for i, value := range record {
			if i < len(header) {
				row[header[i]] = value
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// looksLikeHTML reports whether a 200 response is a maintenance or error
// page. A CSV body never starts with markup.
func looksLikeHTML(contentType string, body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if !bytes.HasPrefix(trimmed, []byte("<")) {
		return false
	}
	return strings.Contains(strings.ToLower(contentType), "html") ||
		bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<!doctype")) ||
		bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<html"))
}

// htmlTitle returns the <title> of an HTML body, or "" when there is none
func htmlTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
