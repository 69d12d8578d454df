// internal/scraper/engine_test.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/craigslist-data/internal/utils"
	"github.com/valpere/craigslist-data/pkg/types"
)

func resultRow(id, date string) string {
	return fmt.Sprintf(`<li class="result-row" data-pid="%[1]s">
  <time class="result-date" datetime="%[2]s">Mar 1</time>
  <a href="/apa/d/philadelphia-apartment/%[1]s.html" class="result-title hdrlnk">Apartment %[1]s</a>
</li>`, id, date)
}

// newCraigslistServer serves two search pages and a listing page per post id.
// Listing 1004 returns 404.
func newCraigslistServer(t *testing.T) *httptest.Server {
	t.Helper()

	page1 := `<html><body><ul class="rows">` +
		resultRow("1001", "2021-03-01 10:00") +
		resultRow("1002", "2021-03-01 11:00") +
		resultRow("1003", "2021-03-01 12:00") +
		`</ul><a class="button next" href="/search/apa?s=3">next &gt;</a></body></html>`

	page2 := `<html><body><ul class="rows">` +
		resultRow("1003", "2021-03-01 12:00") +
		resultRow("1004", "2021-03-02 09:00") +
		`<li class="result-row"><a class="result-title">no link</a></li>` +
		resultRow("1005", "not a date") +
		`</ul><a class="button next" href="">next &gt;</a></body></html>`

	mux := http.NewServeMux()
	mux.HandleFunc("/search/apa", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("s") == "3" {
			fmt.Fprint(w, page2)
			return
		}
		fmt.Fprint(w, page1)
	})
	mux.HandleFunc("/apa/d/philadelphia-apartment/", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "1004") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<html><body><span id="titletextonly">%s</span></body></html>`, r.URL.Path)
	})

	return httptest.NewServer(mux)
}

type titleExtractor struct{}

func (titleExtractor) Extract(ctx context.Context, doc *goquery.Document, sr types.SearchResult) (types.Apartment, error) {
	title := doc.Find("#titletextonly").Text()
	if title == "" {
		return types.Apartment{}, errors.New("no title")
	}
	return types.Apartment{PostID: sr.PostID, URL: sr.URL, Title: title, ResultDate: sr.ResultDate}, nil
}

type countingRecorder struct {
	mu       sync.Mutex
	pages    map[string]int
	listings map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{pages: map[string]int{}, listings: map[string]int{}}
}

func (r *countingRecorder) RecordRequest(string, string, int, time.Duration) {}
func (r *countingRecorder) RecordRequestError(string, string)                {}
func (r *countingRecorder) RecordRequestRetry(string, string)                {}
func (r *countingRecorder) RecordRateLimitWait(string, time.Duration)        {}

func (r *countingRecorder) RecordPageScraped(kind, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[kind+"/"+status]++
}

func (r *countingRecorder) RecordListing(status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listings[status]++
}

func newTestEngine(t *testing.T, server *httptest.Server, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{WithLogger(utils.NopLogger())}, opts...)
	engine, err := NewEngine(testClient(0), titleExtractor{}, EngineConfig{
		Site: SiteConfig{BaseURL: server.URL, SearchPath: DefaultSearchPath},
	}, opts...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func postIDs(results []types.SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.PostID
	}
	return ids
}

func TestSearchScraper_ScrapeSearchResults(t *testing.T) {
	server := newCraigslistServer(t)
	defer server.Close()

	search, err := NewSearchScraper(testClient(0), SiteConfig{BaseURL: server.URL, SearchPath: DefaultSearchPath},
		WithSearchLogger(utils.NopLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, pages, err := search.ScrapeSearchResults(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pages != 2 {
		t.Errorf("expected 2 pages, got %d", pages)
	}

	got := strings.Join(postIDs(results), ",")
	if got != "1001,1002,1003,1004" {
		t.Errorf("unexpected post ids %s", got)
	}

	first := results[0]
	if first.URL != server.URL+"/apa/d/philadelphia-apartment/1001.html" {
		t.Errorf("unexpected URL %s", first.URL)
	}
	if first.ResultDate.Hour() != 10 {
		t.Errorf("unexpected result date %v", first.ResultDate)
	}
}

func TestSearchScraper_MaxResults(t *testing.T) {
	server := newCraigslistServer(t)
	defer server.Close()

	search, _ := NewSearchScraper(testClient(0), SiteConfig{BaseURL: server.URL, SearchPath: DefaultSearchPath},
		WithSearchLogger(utils.NopLogger()))

	results, pages, err := search.ScrapeSearchResults(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
	if pages != 1 {
		t.Errorf("expected a single page to satisfy max results, got %d", pages)
	}

	// The loop continues while len(results) <= maxResults, so 3 results
	// need the second page.
	results, pages, err = search.ScrapeSearchResults(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 || pages != 2 {
		t.Errorf("expected 3 results from 2 pages, got %d from %d", len(results), pages)
	}
}

func TestSearchScraper_FetchError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	search, _ := NewSearchScraper(testClient(0), SiteConfig{BaseURL: server.URL, SearchPath: DefaultSearchPath},
		WithSearchLogger(utils.NopLogger()))

	if _, _, err := search.ScrapeSearchResults(context.Background(), 0); err == nil {
		t.Error("expected error for failing search page")
	}
}

// cancelAfterFetch cancels the run once the first page has been fetched.
type cancelAfterFetch struct {
	next   Fetcher
	cancel context.CancelFunc
}

func (f *cancelAfterFetch) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	doc, err := f.next.Fetch(ctx, url)
	f.cancel()
	return doc, err
}

func TestSearchScraper_CancelledBetweenPages(t *testing.T) {
	server := newCraigslistServer(t)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	search, _ := NewSearchScraper(&cancelAfterFetch{next: testClient(0), cancel: cancel},
		SiteConfig{BaseURL: server.URL, SearchPath: DefaultSearchPath},
		WithSearchLogger(utils.NopLogger()))

	results, pages, err := search.ScrapeSearchResults(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if pages != 1 {
		t.Errorf("expected 1 page before cancellation, got %d", pages)
	}
	if got := strings.Join(postIDs(results), ","); got != "1001,1002,1003" {
		t.Errorf("expected first page results, got %s", got)
	}
}

func TestSearchScraper_OffsetStopsOnRepeatedPage(t *testing.T) {
	row := func(id string) string {
		return fmt.Sprintf(`<li class="cl-search-result"><time class="result-date" datetime="2021-03-01 10:00">Mar 1</time>
  <a href="/apa/d/x/%[1]s.html" class="result-title">Apartment %[1]s</a></li>`, id)
	}

	var requests []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r.URL.Query().Get("s"))
		mu.Unlock()
		switch r.URL.Query().Get("s") {
		case "":
			fmt.Fprint(w, "<html><body><ol>"+row("2001")+row("2002")+"</ol></body></html>")
		default:
			// Past the last page the site keeps serving the final results.
			fmt.Fprint(w, "<html><body><ol>"+row("2003")+row("2004")+"</ol></body></html>")
		}
	}))
	defer server.Close()

	search, _ := NewSearchScraper(testClient(0), SiteConfig{BaseURL: server.URL, SearchPath: DefaultSearchPath},
		WithSearchLogger(utils.NopLogger()),
		WithPagination(PaginationConfig{Type: PaginationTypeOffset, PageSize: 2}),
		WithSearchSelectors(SearchSelectors{Row: "li.cl-search-result"}))

	results, pages, err := search.ScrapeSearchResults(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pages != 3 {
		t.Errorf("expected 3 pages, got %d (requests %v)", pages, requests)
	}
	if got := strings.Join(postIDs(results), ","); got != "2001,2002,2003,2004" {
		t.Errorf("unexpected post ids %s", got)
	}
}

func TestNewSearchScraper_Validation(t *testing.T) {
	if _, err := NewSearchScraper(nil, SiteConfig{BaseURL: "http://x", SearchPath: "/s"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for nil fetcher, got %v", err)
	}
	if _, err := NewSearchScraper(testClient(0), SiteConfig{SearchPath: "/s"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for missing base URL, got %v", err)
	}
}

func TestEngine_ScrapeApartments(t *testing.T) {
	server := newCraigslistServer(t)
	defer server.Close()

	recorder := newCountingRecorder()
	var progress []int
	engine := newTestEngine(t, server,
		WithRecorder(recorder),
		WithProgress(func(done, total int, sr types.SearchResult, err error) {
			progress = append(progress, done)
			if total != 4 {
				t.Errorf("expected total 4, got %d", total)
			}
		}),
	)

	result, err := engine.ScrapeApartments(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != types.StatusPartial {
		t.Errorf("expected partial status, got %s", result.Status)
	}
	if len(result.Apartments) != 3 {
		t.Errorf("expected 3 apartments, got %d", len(result.Apartments))
	}
	if len(result.Failures) != 1 || result.Failures[0].PostID != "1004" {
		t.Errorf("expected listing 1004 to fail, got %+v", result.Failures)
	}
	if result.Pages != 2 {
		t.Errorf("expected 2 search pages, got %d", result.Pages)
	}
	if len(progress) != 4 || progress[3] != 4 {
		t.Errorf("unexpected progress calls %v", progress)
	}
	if recorder.listings["success"] != 3 || recorder.listings["failed"] != 1 {
		t.Errorf("unexpected listing metrics %v", recorder.listings)
	}
	if recorder.pages["search/success"] != 2 {
		t.Errorf("unexpected page metrics %v", recorder.pages)
	}
	if len(result.Records()) != 3 {
		t.Errorf("expected 3 records")
	}
}

func TestEngine_ScrapeListings_Duplicates(t *testing.T) {
	server := newCraigslistServer(t)
	defer server.Close()

	engine := newTestEngine(t, server)
	sr := types.SearchResult{
		URL:    server.URL + "/apa/d/philadelphia-apartment/1001.html",
		PostID: "1001",
	}

	result, err := engine.ScrapeListings(context.Background(), []types.SearchResult{sr, sr})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Apartments) != 1 {
		t.Errorf("expected duplicate to be scraped once, got %d", len(result.Apartments))
	}
	if result.Status != types.StatusCompleted {
		t.Errorf("expected completed status, got %s", result.Status)
	}
}

func TestEngine_ScrapeListings_AllFailed(t *testing.T) {
	server := newCraigslistServer(t)
	defer server.Close()

	engine := newTestEngine(t, server)
	result, err := engine.ScrapeListings(context.Background(), []types.SearchResult{{
		URL:    server.URL + "/apa/d/philadelphia-apartment/1004.html",
		PostID: "1004",
	}})
	if err != nil {
		t.Fatalf("listing failures must not abort the run: %v", err)
	}
	if result.Status != types.StatusFailed {
		t.Errorf("expected failed status, got %s", result.Status)
	}
}

func TestEngine_ScrapeListings_Cancelled(t *testing.T) {
	server := newCraigslistServer(t)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newTestEngine(t, server)
	result, err := engine.ScrapeListings(ctx, []types.SearchResult{{URL: server.URL + "/apa/d/x/1.html", PostID: "1"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if result.Status != types.StatusCancelled {
		t.Errorf("expected cancelled status, got %s", result.Status)
	}
}

func TestEngine_ScrapeSearch_NoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><ul class="rows"></ul></body></html>`)
	}))
	defer server.Close()

	engine := newTestEngine(t, server)
	if _, err := engine.ScrapeSearch(context.Background(), 0); !errors.Is(err, ErrNoResults) {
		t.Errorf("expected ErrNoResults, got %v", err)
	}
	if _, err := engine.ScrapeApartments(context.Background(), 0); !errors.Is(err, ErrNoResults) {
		t.Errorf("expected ErrNoResults, got %v", err)
	}
}
