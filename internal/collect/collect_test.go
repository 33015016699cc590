package collect

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TobiSchelling/feedwatch/internal/config"
	"github.com/TobiSchelling/feedwatch/internal/database"
	"github.com/TobiSchelling/feedwatch/internal/enrich"
)

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
<title>Feed A</title>
<link>https://a.example.com</link>
<item>
  <title>Storm hits the coast</title>
  <link>https://a.example.com/storm</link>
  <description><![CDATA[<p>Heavy <b>winds</b> &amp; rain.</p><img src="https://a.example.com/desc.jpg">]]></description>
  <pubDate>Mon, 06 Jan 2025 10:00:00 GMT</pubDate>
  <media:content url="https://cdn.example.com/storm.jpg" medium="image"/>
</item>
<item>
  <title>Budget passes</title>
  <link>https://a.example.com/budget</link>
  <description>Lawmakers approved the plan.</description>
  <pubDate>unknown</pubDate>
  <enclosure url="https://cdn.example.com/budget.jpg" type="image/jpeg" length="1"/>
</item>
<item>
  <title>No link at all</title>
  <description>dropped</description>
</item>
</channel>
</rss>`

type staticResolver struct{}

func (staticResolver) Resolve(_ context.Context, e enrich.Entry, _ database.Source) string {
	r := &enrich.Resolver{Placeholder: "placeholder"}
	img, _ := r.ResolveStep(context.Background(), e, database.Source{})
	return img
}

func newFeedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testFetcher() *Fetcher {
	cfg := config.Default().Fetch
	return NewFetcher(cfg, staticResolver{})
}

func TestFetcherNormalizesItems(t *testing.T) {
	srv := newFeedServer(t, rssFeed)
	src := database.Source{ID: "a", Title: "A", FeedURL: srv.URL}

	items := testFetcher().Fetch(context.Background(), src)
	if len(items) != 2 {
		t.Fatalf("expected 2 items (linkless entry dropped), got %d", len(items))
	}

	storm := items[0]
	if storm.Link != "https://a.example.com/storm" {
		t.Errorf("unexpected link %q", storm.Link)
	}
	if storm.SourceTitle != "A" {
		t.Errorf("expected source title A, got %q", storm.SourceTitle)
	}
	if storm.Description != "Heavy winds & rain." {
		t.Errorf("expected stripped description, got %q", storm.Description)
	}
	if storm.Image != "https://cdn.example.com/storm.jpg" {
		t.Errorf("expected media:content image, got %q", storm.Image)
	}
	want := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	if !storm.PublishedAt.Equal(want) {
		t.Errorf("expected publishedAt %v, got %v", want, storm.PublishedAt)
	}

	budget := items[1]
	if !budget.PublishedAt.Equal(Epoch) {
		t.Errorf("expected unparseable date to map to epoch, got %v", budget.PublishedAt)
	}
	if budget.PublishedRaw != "unknown" {
		t.Errorf("expected raw date preserved, got %q", budget.PublishedRaw)
	}
	if budget.Image != "https://cdn.example.com/budget.jpg" {
		t.Errorf("expected enclosure image, got %q", budget.Image)
	}
}

func TestFetcherMaxPerFeed(t *testing.T) {
	srv := newFeedServer(t, rssFeed)
	f := testFetcher()
	f.MaxPerFeed = 1

	items := f.Fetch(context.Background(), database.Source{Title: "A", FeedURL: srv.URL})
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
}

func TestFetcherIsolatesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if items := testFetcher().Fetch(context.Background(), database.Source{Title: "Bad", FeedURL: srv.URL}); len(items) != 0 {
		t.Errorf("expected no items from failing source, got %d", len(items))
	}

	garbage := newFeedServer(t, "this is not a feed")
	if items := testFetcher().Fetch(context.Background(), database.Source{Title: "Garbage", FeedURL: garbage.URL}); len(items) != 0 {
		t.Errorf("expected no items from unparseable source, got %d", len(items))
	}
}

func TestFetcherLogsSlowFetchWithoutCancelling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(rssFeed))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	f := testFetcher()
	f.SlowThreshold = 5 * time.Millisecond
	items := f.Fetch(context.Background(), database.Source{ID: "a", Title: "Sluggish", FeedURL: srv.URL})

	if len(items) != 2 {
		t.Fatalf("expected the slow fetch to complete with 2 items, got %d", len(items))
	}
	if !strings.Contains(buf.String(), "Slow fetch: Sluggish") {
		t.Errorf("expected a slow-fetch warning, got log %q", buf.String())
	}
}

func TestFetcherFastFetchIsNotLogged(t *testing.T) {
	srv := newFeedServer(t, rssFeed)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	f := testFetcher()
	f.SlowThreshold = time.Minute
	f.Fetch(context.Background(), database.Source{ID: "a", Title: "Quick", FeedURL: srv.URL})

	if strings.Contains(buf.String(), "Slow fetch") {
		t.Errorf("expected no slow-fetch warning, got log %q", buf.String())
	}
}

func TestParsePublished(t *testing.T) {
	got := ParsePublished("2025-03-04T05:06:07Z")
	if !got.Equal(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)) {
		t.Errorf("unexpected time %v", got)
	}
	for _, raw := range []string{"", "   ", "not a date"} {
		if !ParsePublished(raw).Equal(Epoch) {
			t.Errorf("expected epoch for %q", raw)
		}
	}
}

func TestStripHTML(t *testing.T) {
	got := StripHTML("<p>Hello&nbsp;<b>world</b></p>\n\n<div>again</div>")
	if got != "Hello world again" {
		t.Errorf("unexpected text %q", got)
	}
	if StripHTML("  plain   text ") != "plain text" {
		t.Error("expected whitespace collapsed")
	}
}

// scriptedFetcher returns one item per source after a per-source delay.
type scriptedFetcher struct {
	delays   map[string]time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	panicOn  string
}

func (s *scriptedFetcher) Fetch(_ context.Context, src database.Source) []database.Item {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if src.ID == s.panicOn {
		panic("boom")
	}
	time.Sleep(s.delays[src.ID])
	if src.ID == "empty" {
		return nil
	}
	return []database.Item{{Title: src.Title, Link: "https://x.example/" + src.ID, SourceTitle: src.Title}}
}

func TestCollectKeepsRegistryOrder(t *testing.T) {
	f := &scriptedFetcher{delays: map[string]time.Duration{
		"a": 30 * time.Millisecond,
		"b": 10 * time.Millisecond,
		"c": 0,
	}}
	sources := []database.Source{
		{ID: "a", Title: "A"},
		{ID: "b", Title: "B"},
		{ID: "empty", Title: "Empty"},
		{ID: "c", Title: "C"},
	}

	r := NewCollector(f, 10).Collect(context.Background(), sources)
	if r.TotalFound != 3 {
		t.Fatalf("expected 3 items, got %d", r.TotalFound)
	}
	for i, want := range []string{"A", "B", "C"} {
		if r.Items[i].SourceTitle != want {
			t.Errorf("item %d: expected source %s, got %s", i, want, r.Items[i].SourceTitle)
		}
	}
	if len(r.Empty) != 1 || r.Empty[0] != "Empty" {
		t.Errorf("expected Empty source reported, got %v", r.Empty)
	}
}

func TestCollectBoundsConcurrency(t *testing.T) {
	f := &scriptedFetcher{delays: map[string]time.Duration{}}
	var sources []database.Source
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		f.delays[id] = 20 * time.Millisecond
		sources = append(sources, database.Source{ID: id, Title: id})
	}

	NewCollector(f, 3).Collect(context.Background(), sources)
	if f.peak.Load() > 3 {
		t.Errorf("expected at most 3 concurrent fetches, saw %d", f.peak.Load())
	}
}

func TestCollectSurvivesPanickingSource(t *testing.T) {
	f := &scriptedFetcher{delays: map[string]time.Duration{}, panicOn: "bad"}
	sources := []database.Source{{ID: "bad", Title: "Bad"}, {ID: "ok", Title: "OK"}}

	r := NewCollector(f, 2).Collect(context.Background(), sources)
	if r.TotalFound != 1 || r.Items[0].SourceTitle != "OK" {
		t.Errorf("expected the healthy source to survive, got %+v", r.Items)
	}
}
