package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TobiSchelling/feedwatch/internal/collect"
	"github.com/TobiSchelling/feedwatch/internal/database"
	"github.com/TobiSchelling/feedwatch/internal/llm"
	"github.com/TobiSchelling/feedwatch/internal/pipeline"
	"github.com/TobiSchelling/feedwatch/internal/report"
	"github.com/TobiSchelling/feedwatch/internal/search"
)

type mockProvider struct {
	calls atomic.Int32
	err   error
}

func (m *mockProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	m.calls.Add(1)
	if m.err != nil {
		return "", m.err
	}
	if strings.Contains(prompt, "news briefing") {
		return "Opening **themes**.\n\n**Insight:** closing.", nil
	}
	return "an article summary", nil
}

func (m *mockProvider) IsConfigured() bool { return true }

type staticModels struct{ p llm.Provider }

func (s staticModels) Resolve(llm.Model) llm.Provider { return s.p }

type emptyCollector struct{}

func (emptyCollector) Collect(context.Context, []database.Source) *collect.Result {
	return &collect.Result{Sources: map[string]int{}}
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T, db *database.DB, provider llm.Provider) *Server {
	t.Helper()
	gen := report.NewGenerator(db, report.NewCache(db), staticModels{provider}, nil, report.Options{})
	p := pipeline.New(db, emptyCollector{}, gen, llm.Model{})
	srv, err := New(db, p)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func seedToday(t *testing.T, db *database.DB) {
	t.Helper()
	now := time.Now()
	items := []database.Item{
		{Title: "Climate summit opens", Link: "https://a.example/1", Description: "Leaders meet on climate policy", SourceTitle: "A", PublishedAt: now},
		{Title: "Markets rally", Link: "https://a.example/2", Description: "Stocks up", SourceTitle: "A", PublishedAt: now},
		{Title: "Old climate news", Link: "https://a.example/3", Description: "climate", SourceTitle: "A", PublishedAt: now.AddDate(0, 0, -3)},
	}
	if err := db.SaveSnapshot(items); err != nil {
		t.Fatalf("saving snapshot: %v", err)
	}
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	db.InsertWatch(database.Watch{Name: "Climate", Keyword: "climate"})
	srv := newTestServer(t, db, &mockProvider{})

	rec := do(t, srv, "GET", "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Watches") || !strings.Contains(body, "Climate") {
		t.Errorf("expected watch listing in body, got %s", body)
	}
	if !strings.Contains(body, "No briefing yet") {
		t.Error("expected placeholder for a watch without reports")
	}
}

func TestReportPage(t *testing.T) {
	db := openTestDB(t)
	w, _ := db.InsertWatch(database.Watch{Name: "Climate", Keyword: "climate"})
	db.AppendReport(w.ID, database.Report{
		Date:                "2026-02-06",
		Kind:                database.ReportKindBriefing,
		WatchID:             w.ID,
		ArticleCount:        1,
		Narrative:           "## Section\nSome **bold** content",
		PerArticleSummaries: []string{"first summary"},
		Links:               []string{"https://a.example/1"},
	})
	srv := newTestServer(t, db, &mockProvider{})

	rec := do(t, srv, "GET", "/report/"+w.ID+"/2026-02-06", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h2>Section</h2>") || !strings.Contains(body, "<strong>bold</strong>") {
		t.Error("expected markdown to be rendered")
	}
	if !strings.Contains(body, "first summary") || !strings.Contains(body, "https://a.example/1") {
		t.Error("expected per-article summaries and links")
	}
	if !strings.Contains(body, "Feb 06, 2026") {
		t.Error("expected formatted date")
	}
}

func TestReportPageMissing(t *testing.T) {
	db := openTestDB(t)
	w, _ := db.InsertWatch(database.Watch{Name: "Climate", Keyword: "climate"})
	srv := newTestServer(t, db, &mockProvider{})

	rec := do(t, srv, "GET", "/report/"+w.ID+"/2026-02-06", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No briefing for this date") {
		t.Error("expected the page to explain the missing briefing")
	}

	rec = do(t, srv, "GET", "/report/nope/2026-02-06", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown watch, got %d", rec.Code)
	}
}

func TestStaticAssets(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), &mockProvider{})
	rec := do(t, srv, "GET", "/static/style.css", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestSourcesCRUD(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, &mockProvider{})

	rec := do(t, srv, "POST", "/api/sources", `{"title":"Example News","rssUrl":"https://example.com/rss"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	sources := decode[[]database.Source](t, rec)
	if len(sources) != 1 || sources[0].ID != "examplenews" || sources[0].FeedURL != "https://example.com/rss" {
		t.Fatalf("unexpected sources: %+v", sources)
	}

	rec = do(t, srv, "POST", "/api/sources", `{"title":"Example News","rssUrl":"https://other.example/rss"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate id, got %d", rec.Code)
	}

	for _, body := range []string{`{"title":"No URL"}`, `{"rssUrl":"https://x.example"}`, `not json`} {
		rec = do(t, srv, "POST", "/api/sources", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, rec.Code)
		}
		if got := decode[map[string]string](t, rec)["error"]; got != "Invalid data" {
			t.Errorf("body %s: expected 'Invalid data', got %q", body, got)
		}
	}

	rec = do(t, srv, "PUT", "/api/sources/examplenews", `{"title":"Renamed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	sources = decode[[]database.Source](t, rec)
	if sources[0].Title != "Renamed" || sources[0].FeedURL != "https://example.com/rss" {
		t.Errorf("expected partial update, got %+v", sources[0])
	}

	rec = do(t, srv, "PUT", "/api/sources/missing", `{"title":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = do(t, srv, "DELETE", "/api/sources/examplenews", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sources = decode[[]database.Source](t, rec); len(sources) != 0 {
		t.Errorf("expected empty registry, got %+v", sources)
	}

	rec = do(t, srv, "DELETE", "/api/sources/examplenews", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestArticlesEmptySnapshot(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), &mockProvider{})
	rec := do(t, srv, "GET", "/api/articles", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestArticles(t *testing.T) {
	db := openTestDB(t)
	seedToday(t, db)
	srv := newTestServer(t, db, &mockProvider{})

	items := decode[[]database.Item](t, do(t, srv, "GET", "/api/articles", ""))
	if len(items) != 3 || items[0].Link != "https://a.example/1" {
		t.Errorf("unexpected snapshot: %+v", items)
	}
}

func TestRefresh(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), &mockProvider{})

	if rec := do(t, srv, "POST", "/api/refresh", ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 without a refresh hook, got %d", rec.Code)
	}

	srv.Refresh = func(context.Context) bool { return false }
	if rec := do(t, srv, "POST", "/api/refresh", ""); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while busy, got %d", rec.Code)
	}

	srv.Refresh = func(context.Context) bool { return true }
	if rec := do(t, srv, "POST", "/api/refresh", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

// termEmbedder scores texts on two axes: climate and stocks.
type termEmbedder struct{ err error }

func (e termEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		out[i] = []float64{float64(strings.Count(lower, "climate")), float64(strings.Count(lower, "stock"))}
	}
	return out, nil
}

func TestSearch(t *testing.T) {
	db := openTestDB(t)
	seedToday(t, db)
	srv := newTestServer(t, db, &mockProvider{})

	if rec := do(t, srv, "GET", "/api/search?q=climate", ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 without an embedding model, got %d", rec.Code)
	}

	srv.Search = search.NewIndex(termEmbedder{})

	rec := do(t, srv, "GET", "/api/search?q=climate&k=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	results := decode[[]search.Result](t, rec)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Link != "https://a.example/1" || results[1].Link != "https://a.example/3" {
		t.Errorf("unexpected ranking: %s, %s", results[0].Link, results[1].Link)
	}
	if results[0].Score < 0.99 {
		t.Errorf("expected a near-perfect score, got %v", results[0].Score)
	}

	results = decode[[]search.Result](t, do(t, srv, "GET", "/api/search?q=stocks", ""))
	if len(results) != 3 || results[0].Link != "https://a.example/2" {
		t.Errorf("expected all items with the markets story first, got %+v", results)
	}

	for _, path := range []string{"/api/search", "/api/search?q=%20%20", "/api/search?q=climate&k=0", "/api/search?q=climate&k=many"} {
		if rec := do(t, srv, "GET", path, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestSearchEmbedderDown(t *testing.T) {
	db := openTestDB(t)
	seedToday(t, db)
	srv := newTestServer(t, db, &mockProvider{})
	srv.Search = search.NewIndex(termEmbedder{err: errors.New("connection refused")})

	if rec := do(t, srv, "GET", "/api/search?q=climate", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestSearchEmptySnapshot(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), &mockProvider{})
	srv.Search = search.NewIndex(termEmbedder{})

	rec := do(t, srv, "GET", "/api/search?q=climate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestRefreshOutlivesClient(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), &mockProvider{})

	var cycleErr error
	srv.Refresh = func(ctx context.Context) bool {
		cycleErr = ctx.Err()
		return true
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("POST", "/api/refresh", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cycleErr != nil {
		t.Errorf("expected the cycle context to ignore client cancellation, got %v", cycleErr)
	}
}

func TestProjects(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), &mockProvider{})

	if rec := do(t, srv, "POST", "/api/projects", `{"name":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without keyword, got %d", rec.Code)
	}

	rec := do(t, srv, "POST", "/api/projects", `{"name":"Climate","keyword":"climate"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	w := decode[database.Watch](t, rec)
	if w.ID == "" || w.Keyword != "climate" {
		t.Fatalf("unexpected watch: %+v", w)
	}

	list := decode[[]database.Watch](t, do(t, srv, "GET", "/api/projects", ""))
	if len(list) != 1 {
		t.Errorf("expected 1 project, got %d", len(list))
	}

	if rec := do(t, srv, "DELETE", "/api/projects/"+w.ID, ""); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec := do(t, srv, "DELETE", "/api/projects/"+w.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestProjectArticlesQuery(t *testing.T) {
	db := openTestDB(t)
	seedToday(t, db)
	w, _ := db.InsertWatch(database.Watch{Name: "Climate", Keyword: "climate"})
	srv := newTestServer(t, db, &mockProvider{})

	items := decode[[]database.Item](t, do(t, srv, "GET", "/api/projects/"+w.ID+"/articles", ""))
	if len(items) != 2 {
		t.Errorf("expected keyword to match 2 items, got %d", len(items))
	}

	items = decode[[]database.Item](t, do(t, srv, "GET", "/api/projects/"+w.ID+"/articles?q=climate+AND+NOT+old", ""))
	if len(items) != 1 || items[0].Link != "https://a.example/1" {
		t.Errorf("unexpected boolean query result: %+v", items)
	}

	if rec := do(t, srv, "GET", "/api/projects/"+w.ID+"/articles?q=%28climate", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed query, got %d", rec.Code)
	}
	if rec := do(t, srv, "GET", "/api/projects/missing/articles", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGenerateReport(t *testing.T) {
	db := openTestDB(t)
	seedToday(t, db)
	w, _ := db.InsertWatch(database.Watch{Name: "Climate", Keyword: "climate"})
	provider := &mockProvider{}
	srv := newTestServer(t, db, provider)

	rec := do(t, srv, "POST", "/api/projects/"+w.ID+"/report", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	first := rec.Body.String()
	rep := decode[database.Report](t, rec)
	if rep.ArticleCount != 1 || !strings.Contains(rep.Narrative, "**Insight:**") {
		t.Errorf("unexpected report: %+v", rep)
	}
	calls := provider.calls.Load()

	rec = do(t, srv, "POST", "/api/projects/"+w.ID+"/report", "")
	if rec.Body.String() != first {
		t.Error("expected the cached report on the second request")
	}
	if provider.calls.Load() != calls {
		t.Error("expected no model calls for a cached report")
	}

	reports := decode[[]database.Report](t, do(t, srv, "GET", "/api/projects/"+w.ID+"/reports", ""))
	if len(reports) != 1 {
		t.Errorf("expected 1 stored report, got %d", len(reports))
	}

	page := do(t, srv, "GET", "/report/"+w.ID+"/"+rep.Date, "")
	if page.Code != http.StatusOK || !strings.Contains(page.Body.String(), "<strong>themes</strong>") {
		t.Errorf("expected the generated report page, got %d", page.Code)
	}
}

func TestGenerateReportEdgeCases(t *testing.T) {
	db := openTestDB(t)
	seedToday(t, db)
	quiet, _ := db.InsertWatch(database.Watch{Name: "Quiet", Keyword: "volcano"})
	busy, _ := db.InsertWatch(database.Watch{Name: "Busy", Keyword: "markets"})

	srv := newTestServer(t, db, &mockProvider{})
	if rec := do(t, srv, "POST", "/api/projects/missing/report", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec := do(t, srv, "POST", "/api/projects/"+quiet.ID+"/report", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if msg := decode[map[string]string](t, rec)["message"]; msg == "" {
		t.Error("expected a message when there are no articles today")
	}

	failing := newTestServer(t, db, &mockProvider{err: errors.New("backend down")})
	if rec := do(t, failing, "POST", "/api/projects/"+busy.ID+"/report", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 on model failure, got %d", rec.Code)
	}
	if reports := decode[[]database.Report](t, do(t, failing, "GET", "/api/projects/"+busy.ID+"/reports", "")); len(reports) != 0 {
		t.Error("expected a failed report not to be stored")
	}
}

func TestKeywordAlert(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), &mockProvider{})

	if rec := do(t, srv, "POST", "/api/keyword_alert", `{"message":"hi"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without keyword, got %d", rec.Code)
	}

	rec := do(t, srv, "POST", "/api/keyword_alert", `{"keyword":"climate","message":"climate talk","user":"alice","chat_id":42}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode[struct {
		Status string                `json:"status"`
		Alert  database.KeywordAlert `json:"alert"`
	}](t, rec)
	if resp.Status != "received" || resp.Alert.ID == "" || resp.Alert.ChatID != 42 {
		t.Errorf("unexpected response: %+v", resp)
	}

	alerts := decode[[]database.KeywordAlert](t, do(t, srv, "GET", "/api/keyword_alerts", ""))
	if len(alerts) != 1 || alerts[0].User != "alice" {
		t.Errorf("unexpected alerts: %+v", alerts)
	}
}
