package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/TobiSchelling/feedwatch/internal/aggregate"
	"github.com/TobiSchelling/feedwatch/internal/collect"
	"github.com/TobiSchelling/feedwatch/internal/database"
	"github.com/TobiSchelling/feedwatch/internal/llm"
	"github.com/TobiSchelling/feedwatch/internal/match"
	"github.com/TobiSchelling/feedwatch/internal/report"
)

// ErrEmptyKeyword rejects keyword alerts without a keyword.
var ErrEmptyKeyword = errors.New("keyword is required")

// StepResult holds the result of a single cycle step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of one fetch cycle.
type Result struct {
	Steps    []StepResult
	Snapshot int
	New      []database.Item
	Entries  int // single-article report entries appended
}

// Collector fetches every source of the registry.
type Collector interface {
	Collect(ctx context.Context, sources []database.Source) *collect.Result
}

// Pipeline runs fetch cycles and serves their output.
type Pipeline struct {
	db        *database.DB
	collector Collector
	reports   *report.Generator
	model     llm.Model
	now       func() time.Time
}

// New creates a pipeline. model selects the backend for matcher summaries.
func New(db *database.DB, collector Collector, reports *report.Generator, model llm.Model) *Pipeline {
	return &Pipeline{
		db:        db,
		collector: collector,
		reports:   reports,
		model:     model,
		now:       time.Now,
	}
}

// Reports returns the report generator.
func (p *Pipeline) Reports() *report.Generator { return p.reports }

// RunCycle fetches all sources, replaces the snapshot and summarizes new
// items matching a watch. Per-source and per-watch failures are logged and
// recorded in the step results; only a failure to read the registries or
// persist the snapshot aborts the cycle.
func (p *Pipeline) RunCycle(ctx context.Context) (*Result, error) {
	r := &Result{}
	start := time.Now()

	sources, err := p.db.ListSources()
	if err != nil {
		return r, fmt.Errorf("listing sources: %w", err)
	}

	log.Printf("Step 1/3: Fetching %d sources...", len(sources))
	collected := p.collector.Collect(ctx, sources)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("Found %d items from %d sources (%d empty)", collected.TotalFound, len(sources), len(collected.Empty)),
	})

	// An interrupted fetch returns partial results; keep the previous snapshot.
	if err := ctx.Err(); err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Aggregate", Err: err})
		return r, fmt.Errorf("fetch cycle interrupted: %w", err)
	}

	log.Println("Step 2/3: Aggregating...")
	agg, err := aggregate.Aggregate(p.db, collected.Items)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Aggregate", Err: err})
		return r, err
	}
	r.Snapshot = len(agg.Snapshot)
	r.New = agg.New
	r.Steps = append(r.Steps, StepResult{
		Name:    "Aggregate",
		Summary: fmt.Sprintf("Snapshot has %d items, %d new, %d duplicates", len(agg.Snapshot), len(agg.New), agg.Duplicates),
	})

	log.Println("Step 3/3: Matching watches...")
	step := p.matchNew(ctx, agg.New, r)
	r.Steps = append(r.Steps, step)

	log.Printf("Cycle complete in %s", time.Since(start).Round(time.Millisecond))
	return r, nil
}

// matchNew appends a single-article entry for every new item published today
// that matches a watch.
func (p *Pipeline) matchNew(ctx context.Context, fresh []database.Item, r *Result) StepResult {
	step := StepResult{Name: "Match"}

	watches, err := p.db.ListWatches()
	if err != nil {
		step.Err = fmt.Errorf("listing watches: %w", err)
		return step
	}

	today := database.DateOf(p.now())
	var todays []database.Item
	for _, it := range fresh {
		if database.DateOf(it.PublishedAt) == today {
			todays = append(todays, it)
		}
	}

	hits := match.NewMatcher(watches).Match(todays)
	var failed []string
	for _, h := range hits {
		if _, err := p.reports.AppendArticleEntry(ctx, h.Watch, h.Item, p.model); err != nil {
			log.Printf("Summarizing %s for watch %s failed: %v", h.Item.Link, h.Watch.Name, err)
			failed = append(failed, h.Item.Link)
			continue
		}
		r.Entries++
	}

	step.Summary = fmt.Sprintf("%d new items today, %d matches, %d summarized", len(todays), len(hits), r.Entries)
	if len(failed) > 0 {
		step.Err = fmt.Errorf("%d summaries failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return step
}

// GetArticles returns the current snapshot, newest first.
func (p *Pipeline) GetArticles() ([]database.Item, error) {
	items, err := p.db.LoadSnapshot()
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []database.Item{}
	}
	return items, nil
}

// GenerateReport is the on-demand daily briefing for a watch.
func (p *Pipeline) GenerateReport(ctx context.Context, watchID string, links []string, model llm.Model) (*database.Report, error) {
	return p.reports.GenerateReport(ctx, watchID, links, model)
}

// OnKeywordAlert records a keyword hit detected outside the pipeline, such as
// by a chat bot. It does not match against feed items.
func (p *Pipeline) OnKeywordAlert(a database.KeywordAlert) (*database.KeywordAlert, error) {
	a.Keyword = strings.TrimSpace(a.Keyword)
	if a.Keyword == "" {
		return nil, ErrEmptyKeyword
	}
	log.Printf("Keyword alert %q from %s (chat %d)", a.Keyword, a.User, a.ChatID)
	return p.db.InsertKeywordAlert(a)
}
