package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/TobiSchelling/feedwatch/internal/database"
	"github.com/TobiSchelling/feedwatch/internal/llm"
	"github.com/TobiSchelling/feedwatch/internal/match"
	"github.com/TobiSchelling/feedwatch/internal/pipeline"
	"github.com/TobiSchelling/feedwatch/internal/report"
	"github.com/TobiSchelling/feedwatch/internal/search"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data")
		return false
	}
	return true
}

// Sources

type sourceRequest struct {
	ID     string  `json:"id"`
	Title  *string `json:"title"`
	RSSURL *string `json:"rssUrl"`
}

func (s *Server) writeSources(w http.ResponseWriter, code int) {
	sources, err := s.db.ListSources()
	if err != nil {
		log.Printf("Error listing sources: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if sources == nil {
		sources = []database.Source{}
	}
	writeJSON(w, code, sources)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	s.writeSources(w, http.StatusOK)
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == nil || req.RSSURL == nil || strings.TrimSpace(*req.Title) == "" || strings.TrimSpace(*req.RSSURL) == "" {
		writeError(w, http.StatusBadRequest, "Invalid data")
		return
	}

	src := database.Source{
		ID:      strings.TrimSpace(req.ID),
		Title:   strings.TrimSpace(*req.Title),
		FeedURL: strings.TrimSpace(*req.RSSURL),
	}
	if src.ID == "" {
		src.ID = database.SourceIDFromTitle(src.Title)
	}
	if existing, err := s.db.GetSource(src.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	} else if existing != nil {
		writeError(w, http.StatusConflict, "Source already exists")
		return
	}

	if _, err := s.db.InsertSource(src); err != nil {
		log.Printf("Error adding source %s: %v", src.ID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeSources(w, http.StatusCreated)
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.db.UpdateSource(r.PathValue("id"), req.Title, req.RSSURL)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Source not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeSources(w, http.StatusOK)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	err := s.db.DeleteSource(r.PathValue("id"))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Source not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeSources(w, http.StatusOK)
}

// Articles

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	items, err := s.pipeline.GetArticles()
	if err != nil {
		log.Printf("Error loading snapshot: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.Refresh == nil {
		writeError(w, http.StatusNotImplemented, "Refresh is not available")
		return
	}
	// The cycle outlives a client that hangs up mid-request.
	if !s.Refresh(context.WithoutCancel(r.Context())) {
		writeError(w, http.StatusConflict, "A fetch cycle is already running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Fetch cycle complete"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.Search == nil {
		writeError(w, http.StatusNotImplemented, "Semantic search is not configured")
		return
	}

	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "Query is required")
		return
	}
	k := search.DefaultK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = n
	}

	items, err := s.pipeline.GetArticles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	results, err := s.Search.Search(r.Context(), items, query, k)
	if err != nil {
		log.Printf("Semantic search for %q failed: %v", query, err)
		writeError(w, http.StatusBadGateway, "Search failed: "+err.Error())
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

// Projects

type projectRequest struct {
	Name    string `json:"name"`
	Keyword string `json:"keyword"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	watches, err := s.db.ListWatches()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if watches == nil {
		watches = []database.Watch{}
	}
	writeJSON(w, http.StatusOK, watches)
}

func (s *Server) handleAddProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Keyword) == "" {
		writeError(w, http.StatusBadRequest, "Keyword is required")
		return
	}
	watch, err := s.db.InsertWatch(database.Watch{Name: req.Name, Keyword: req.Keyword})
	if err != nil {
		log.Printf("Error adding project: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, watch)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	err := s.db.DeleteWatch(r.PathValue("id"))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProjectArticles filters the snapshot with a boolean query, taken from
// ?q= or else the project's keyword.
func (s *Server) handleProjectArticles(w http.ResponseWriter, r *http.Request) {
	watch, ok := s.lookupWatch(w, r.PathValue("id"))
	if !ok {
		return
	}

	raw := r.URL.Query().Get("q")
	if strings.TrimSpace(raw) == "" {
		raw = watch.Keyword
	}
	q, err := match.ParseQuery(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query: "+err.Error())
		return
	}

	items, err := s.pipeline.GetArticles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, q.Filter(items))
}

type reportRequest struct {
	Links []string `json:"links"`
	Model string   `json:"model"`
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	rep, err := s.pipeline.GenerateReport(r.Context(), r.PathValue("id"), req.Links, llm.ParseModel(req.Model))
	switch {
	case errors.Is(err, report.ErrWatchNotFound):
		writeError(w, http.StatusNotFound, "Project not found")
	case errors.Is(err, report.ErrNoArticlesToday):
		writeJSON(w, http.StatusOK, map[string]string{"message": "No articles published today for this project"})
	case err != nil:
		log.Printf("Report generation failed for %s: %v", r.PathValue("id"), err)
		writeError(w, http.StatusBadGateway, "Report generation failed: "+err.Error())
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.lookupWatch(w, r.PathValue("id")); !ok {
		return
	}
	reports, err := s.reports.List(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) lookupWatch(w http.ResponseWriter, id string) (*database.Watch, bool) {
	watch, err := s.db.GetWatch(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	if watch == nil {
		writeError(w, http.StatusNotFound, "Project not found")
		return nil, false
	}
	return watch, true
}

// Keyword alerts

func (s *Server) handleKeywordAlert(w http.ResponseWriter, r *http.Request) {
	var alert database.KeywordAlert
	if !decodeBody(w, r, &alert) {
		return
	}
	alert.ID = ""
	alert.ReceivedAt = ""

	stored, err := s.pipeline.OnKeywordAlert(alert)
	if errors.Is(err, pipeline.ErrEmptyKeyword) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Printf("Error storing keyword alert: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "received", "alert": stored})
}

func (s *Server) handleListKeywordAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.db.RecentKeywordAlerts(100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if alerts == nil {
		alerts = []database.KeywordAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}
