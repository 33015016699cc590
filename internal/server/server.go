package server

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/feedwatch/internal/database"
	"github.com/TobiSchelling/feedwatch/internal/pipeline"
	"github.com/TobiSchelling/feedwatch/internal/report"
	"github.com/TobiSchelling/feedwatch/internal/search"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server exposes the pipeline over HTTP: a JSON API for the web client and
// server-rendered report pages.
type Server struct {
	db       *database.DB
	pipeline *pipeline.Pipeline
	reports  *report.Cache
	pages    map[string]*template.Template
	mux      *http.ServeMux

	// Refresh runs a fetch cycle now and reports whether it ran. Nil
	// disables POST /api/refresh.
	Refresh func(ctx context.Context) bool

	// Search ranks snapshot items by similarity. Nil disables GET /api/search.
	Search Searcher
}

// Searcher ranks items against a free-text query.
type Searcher interface {
	Search(ctx context.Context, items []database.Item, query string, k int) ([]search.Result, error)
}

// New creates a new Server.
func New(db *database.DB, p *pipeline.Pipeline) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":   renderMarkdown,
		"formatDate": database.FormatDateDisplay,
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so "title" and "content" can be
	// defined per page.
	pageNames := []string{"index.html", "report.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		db:       db,
		pipeline: p,
		reports:  p.Reports().Cache(),
		pages:    pages,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /report/{watch}/{date}", s.handleReportPage)

	s.mux.HandleFunc("GET /api/sources", s.handleListSources)
	s.mux.HandleFunc("POST /api/sources", s.handleAddSource)
	s.mux.HandleFunc("PUT /api/sources/{id}", s.handleUpdateSource)
	s.mux.HandleFunc("DELETE /api/sources/{id}", s.handleDeleteSource)

	s.mux.HandleFunc("GET /api/articles", s.handleArticles)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/search", s.handleSearch)

	s.mux.HandleFunc("GET /api/projects", s.handleListProjects)
	s.mux.HandleFunc("POST /api/projects", s.handleAddProject)
	s.mux.HandleFunc("DELETE /api/projects/{id}", s.handleDeleteProject)
	s.mux.HandleFunc("GET /api/projects/{id}/articles", s.handleProjectArticles)
	s.mux.HandleFunc("POST /api/projects/{id}/report", s.handleGenerateReport)
	s.mux.HandleFunc("GET /api/projects/{id}/reports", s.handleListReports)

	s.mux.HandleFunc("POST /api/keyword_alert", s.handleKeywordAlert)
	s.mux.HandleFunc("GET /api/keyword_alerts", s.handleListKeywordAlerts)
}

type watchSummary struct {
	Watch  database.Watch
	Latest *database.Report
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	watches, err := s.db.ListWatches()
	if err != nil {
		log.Printf("Error listing watches: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var rows []watchSummary
	for _, wt := range watches {
		latest, err := s.reports.Latest(wt.ID)
		if err != nil {
			log.Printf("Error reading reports for %s: %v", wt.ID, err)
		}
		rows = append(rows, watchSummary{Watch: wt, Latest: latest})
	}

	s.render(w, "index.html", map[string]any{
		"Watches": rows,
		"Today":   database.GetToday(),
	})
}

func (s *Server) handleReportPage(w http.ResponseWriter, r *http.Request) {
	watchID := r.PathValue("watch")
	date := r.PathValue("date")

	watch, err := s.db.GetWatch(watchID)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if watch == nil {
		http.NotFound(w, r)
		return
	}

	rep, err := s.reports.Get(watchID, date)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if rep == nil {
		w.WriteHeader(http.StatusNotFound)
	}
	s.render(w, "report.html", map[string]any{
		"Watch":  watch,
		"Date":   date,
		"Report": rep,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
