// pkg/api/api_test.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/craigslist-data/internal/config"
	errs "github.com/valpere/craigslist-data/internal/errors"
	"github.com/valpere/craigslist-data/internal/monitoring"
	"github.com/valpere/craigslist-data/internal/output"
	"github.com/valpere/craigslist-data/internal/scraper"
	"github.com/valpere/craigslist-data/internal/utils"
	"github.com/valpere/craigslist-data/pkg/types"
)

const searchPage = `<html><body><ul class="rows">
<li class="result-row"><time class="result-date" datetime="2021-03-01 10:00">Mar 1</time>
  <a href="/apa/d/fishtown/7290000001.html" class="result-title hdrlnk">One</a></li>
<li class="result-row"><time class="result-date" datetime="2021-03-01 11:00">Mar 1</time>
  <a href="/apa/d/kensington/7290000002.html" class="result-title hdrlnk">Two</a></li>
<li class="result-row"><time class="result-date" datetime="2021-03-01 12:00">Mar 1</time>
  <a href="/apa/d/blocked/7290000003.html" class="result-title hdrlnk">Three</a></li>
</ul><a class="button next" href="">next &gt;</a></body></html>`

const listingPage = `<html><body>
<span class="postingtitletext">
  <span class="price">$1,%[1]s</span>
  <span class="housing">/ 2br - 900ft2 - </span>
  <span id="titletextonly">Apartment %[1]s</span>
</span>
<div class="swipe-wrap"><div class="slide"></div></div>
<div id="map" data-latitude="39.97" data-longitude="-75.13"></div>
<p class="attrgroup"><span>laundry in bldg</span></p>
<section id="postingbody">
QR Code Link to This Post
Bright apartment.
</section>
<div class="postinginfos">
  <time class="date timeago" datetime="2021-03-01T09:15:00-0500">Mar 1</time>
</div>
</body></html>`

func newSiteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search/apa", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchPage)
	})
	mux.HandleFunc("/apa/d/", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "blocked") {
			http.Error(w, "blocked", http.StatusForbidden)
			return
		}
		id := strings.TrimSuffix(r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:], ".html")
		fmt.Fprintf(w, listingPage, id[len(id)-3:])
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Site.BaseURL = baseURL
	cfg.Request.RequestsPerMinute = 60000
	cfg.Request.Retries = 1
	cfg.Request.RetryDelay = 1
	return cfg
}

func TestClient_ScrapeApartments(t *testing.T) {
	server := newSiteServer(t)
	metrics := monitoring.NewMetricsManager(monitoring.MetricsConfig{})
	tracker := monitoring.NewRunTracker()

	var progressCalls int
	client, err := NewClient(testConfig(server.URL),
		WithMetrics(metrics),
		WithTracker(tracker),
		WithLogger(utils.NopLogger()),
		WithProgress(func(done, total int, sr types.SearchResult, err error) {
			progressCalls++
			assert.Equal(t, 3, total)
		}),
	)
	require.NoError(t, err)
	defer client.Close()

	result, err := client.ScrapeApartments(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, types.StatusPartial, result.Status)
	require.Len(t, result.Apartments, 2)
	assert.Equal(t, "7290000001", result.Apartments[0].PostID)
	assert.Equal(t, 1001, result.Apartments[0].Price)
	assert.Equal(t, "Apartment 001", result.Apartments[0].Title)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "7290000003", result.Failures[0].PostID)
	assert.Equal(t, 3, progressCalls)

	snap := tracker.Snapshot()
	assert.Equal(t, types.StatusPartial, snap.Status)
	assert.Equal(t, 3, snap.Processed)
	assert.Equal(t, 1, snap.Failed)

	count, err := testutil.GatherAndCount(metrics.Registry(), "craigslist_scraper_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClient_ScrapeApartmentsResumesAfterBlocking(t *testing.T) {
	var listingCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/search/apa", func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString(`<html><body><ul class="rows">`)
		for i := 1; i <= 8; i++ {
			fmt.Fprintf(&b, `<li class="result-row"><time class="result-date" datetime="2021-03-01 10:00">Mar 1</time>
  <a href="/apa/d/fishtown/729000000%d.html" class="result-title hdrlnk">Row</a></li>`, i)
		}
		b.WriteString(`</ul><a class="button next" href="">next &gt;</a></body></html>`)
		fmt.Fprint(w, b.String())
	})
	mux.HandleFunc("/apa/d/", func(w http.ResponseWriter, r *http.Request) {
		if listingCalls.Add(1) <= 5 {
			http.Error(w, "blocked", http.StatusForbidden)
			return
		}
		id := strings.TrimSuffix(r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:], ".html")
		fmt.Fprintf(w, listingPage, id[len(id)-3:])
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(testConfig(server.URL),
		WithLogger(utils.NopLogger()),
		WithBreaker(errs.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 50 * time.Millisecond}),
	)
	require.NoError(t, err)
	defer client.Close()

	result, err := client.ScrapeApartments(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, types.StatusPartial, result.Status)
	require.Len(t, result.Failures, 5)
	require.Len(t, result.Apartments, 3)
	assert.Equal(t, "7290000006", result.Apartments[0].PostID)
	for _, f := range result.Failures {
		assert.NotContains(t, f.Message, errs.ErrCircuitOpen.Error())
	}
	assert.Equal(t, int32(8), listingCalls.Load())
	assert.Equal(t, errs.CircuitClosed, client.breaker.GetState())
}

func TestClient_ScrapeSearch(t *testing.T) {
	server := newSiteServer(t)
	client, err := NewClient(testConfig(server.URL), WithLogger(utils.NopLogger()))
	require.NoError(t, err)

	result, err := client.ScrapeSearch(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, result.Status)
	require.Len(t, result.SearchResults, 2)
	assert.Equal(t, "7290000002", result.SearchResults[1].PostID)
	assert.Empty(t, result.Apartments)
}

func TestClient_ScrapeListingsFromFile(t *testing.T) {
	server := newSiteServer(t)
	client, err := NewClient(testConfig(server.URL), WithLogger(utils.NopLogger()))
	require.NoError(t, err)

	search, err := client.ScrapeSearch(context.Background(), 0)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "search.csv")
	m, err := output.NewManager(output.Options{Path: path, Schema: output.SearchResultSchema()})
	require.NoError(t, err)
	require.NoError(t, m.Write(types.SearchResultRecords(search.SearchResults[:2])))

	result, err := client.ScrapeListingsFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, result.Status)
	require.Len(t, result.Apartments, 2)
	assert.Equal(t, "7290000002", result.Apartments[1].PostID)
	assert.True(t, search.SearchResults[1].ResultDate.Equal(result.Apartments[1].ResultDate))
	assert.Equal(t, CommandRun, client.Tracker().Snapshot().Command)
}

func TestClient_ScrapeListingsFromEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.json")
	m, err := output.NewManager(output.Options{Path: path, Schema: output.SearchResultSchema()})
	require.NoError(t, err)
	require.NoError(t, m.Write(nil))

	client, err := NewClient(testConfig("http://127.0.0.1:1"), WithLogger(utils.NopLogger()))
	require.NoError(t, err)

	_, err = client.ScrapeListingsFromFile(context.Background(), path)
	assert.ErrorIs(t, err, scraper.ErrNoResults)
}

func TestClient_ScrapeListingsFromFileSkipsForeignHosts(t *testing.T) {
	server := newSiteServer(t)
	client, err := NewClient(testConfig(server.URL), WithLogger(utils.NopLogger()))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "search.json")
	m, err := output.NewManager(output.Options{Path: path, Schema: output.SearchResultSchema()})
	require.NoError(t, err)
	require.NoError(t, m.Write([]map[string]interface{}{
		{"url": "https://evil.example/apa/d/x/7290000009.html", "post_id": "7290000009", "result_date": "2021-03-01 10:00"},
		{"url": server.URL + "/apa/d/fishtown/7290000001.html", "post_id": "7290000001", "result_date": "2021-03-01 10:00"},
	}))

	result, err := client.ScrapeListingsFromFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, result.Apartments, 1)
	assert.Equal(t, "7290000001", result.Apartments[0].PostID)
	assert.Empty(t, result.Failures)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Site.BaseURL = "ftp://philadelphia.craigslist.org"
	_, err := NewClient(cfg)
	assert.ErrorIs(t, err, scraper.ErrInvalidConfig)

	cfg = config.Default()
	cfg.Listing.Selectors = map[string]string{"rent": ".price"}
	_, err = NewClient(cfg)
	assert.Error(t, err)
}

type stubFetcher struct {
	calls atomic.Int32
	err   error
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return goquery.NewDocumentFromReader(strings.NewReader("<html></html>"))
}

func TestBreakerFetcher_OpensWhenBlocked(t *testing.T) {
	next := &stubFetcher{err: &scraper.HTTPError{StatusCode: http.StatusForbidden, Status: "403 Forbidden", URL: "u"}}
	f := &breakerFetcher{
		next:    next,
		breaker: errs.NewCircuitBreaker("test", errs.CircuitBreakerConfig{MaxFailures: 2}),
	}

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), "u")
		require.Error(t, err)
	}
	assert.Equal(t, errs.CircuitOpen, f.breaker.GetState())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, "u")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestBreakerFetcher_ResumesAfterReset(t *testing.T) {
	next := &stubFetcher{err: &scraper.HTTPError{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests", URL: "u"}}
	f := &breakerFetcher{
		next:    next,
		breaker: errs.NewCircuitBreaker("test", errs.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 30 * time.Millisecond}),
		logger:  utils.NopLogger(),
	}

	_, err := f.Fetch(context.Background(), "u")
	require.Error(t, err)
	require.Equal(t, errs.CircuitOpen, f.breaker.GetState())

	next.err = nil
	_, err = f.Fetch(context.Background(), "u")
	require.NoError(t, err)
	assert.False(t, errors.Is(err, errs.ErrCircuitOpen))
	assert.Equal(t, errs.CircuitClosed, f.breaker.GetState())
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestBreakerFetcher_IgnoresNotFound(t *testing.T) {
	next := &stubFetcher{err: &scraper.HTTPError{StatusCode: http.StatusNotFound, Status: "404 Not Found", URL: "u"}}
	f := &breakerFetcher{
		next:    next,
		breaker: errs.NewCircuitBreaker("test", errs.CircuitBreakerConfig{MaxFailures: 1}),
	}

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), "u")
		require.Error(t, err)
		assert.False(t, errors.Is(err, errs.ErrCircuitOpen))
	}
	assert.Equal(t, errs.CircuitClosed, f.breaker.GetState())
}

func TestRateLimitedFetcher_RespectsContext(t *testing.T) {
	next := &stubFetcher{}
	f := newRateLimitedFetcher(next, 1)

	_, err := f.Fetch(context.Background(), "u")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, "u")
	assert.Error(t, err)
	assert.Equal(t, int32(1), next.calls.Load())
}
