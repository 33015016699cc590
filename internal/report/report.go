// Package report generates daily narrative briefings per watch and keeps
// them in an append-only cache so a date is never generated twice.
package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/feedwatch/internal/database"
	"github.com/TobiSchelling/feedwatch/internal/fetch"
	"github.com/TobiSchelling/feedwatch/internal/llm"
	"github.com/TobiSchelling/feedwatch/internal/match"
	"github.com/TobiSchelling/feedwatch/internal/summarize"
)

var (
	// ErrWatchNotFound is returned for an unknown watch id.
	ErrWatchNotFound = errors.New("watch not found")
	// ErrNoArticlesToday is returned when nothing qualifies for today's briefing.
	ErrNoArticlesToday = errors.New("no articles published today")
)

const briefingPrompt = `You are writing today's news briefing on the topic "%s".

Below are summaries of %d articles published today. Write the briefing in markdown:

1. An opening paragraph naming the main themes across the articles.
2. One to three body paragraphs with the important details. Do not repeat a fact once it has been stated.
3. A closing paragraph that starts with "**Insight:**" and synthesizes what these developments mean together.

Use only the information in these summaries. Do not add outside knowledge, and do not invent figures or quotes.

Summaries:
%s`

// Store is the state the generator reads.
type Store interface {
	GetWatch(id string) (*database.Watch, error)
	LoadSnapshot() ([]database.Item, error)
}

// ModelResolver maps a requested model to a provider.
type ModelResolver interface {
	Resolve(m llm.Model) llm.Provider
}

// TextExtractor fetches an article page's readable text.
type TextExtractor interface {
	FetchAndExtract(ctx context.Context, pageURL string) (*fetch.Page, error)
}

// Options tunes generation.
type Options struct {
	Summarize   summarize.Options
	Concurrency int // per-article summaries in flight
	MaxTokens   int // briefing response length
}

// Generator builds briefings and single-article entries.
type Generator struct {
	store     Store
	cache     *Cache
	models    ModelResolver
	extractor TextExtractor // nil uses item descriptions only
	opts      Options
	now       func() time.Time

	locks sync.Map // watch id -> *sync.Mutex
}

// NewGenerator creates a Generator.
func NewGenerator(store Store, cache *Cache, models ModelResolver, extractor TextExtractor, opts Options) *Generator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.MaxTokens < 1 {
		opts.MaxTokens = 1024
	}
	return &Generator{
		store:     store,
		cache:     cache,
		models:    models,
		extractor: extractor,
		opts:      opts,
		now:       time.Now,
	}
}

// Cache returns the report cache the generator appends to.
func (g *Generator) Cache() *Cache { return g.cache }

// GenerateReport returns today's briefing for watchID, generating and caching
// it on first request. links restricts the briefing to those articles; an
// empty list selects snapshot items matching the watch keyword. Only items
// published on today's local date qualify. Generation errors are returned
// and nothing is cached.
func (g *Generator) GenerateReport(ctx context.Context, watchID string, links []string, model llm.Model) (*database.Report, error) {
	watch, err := g.store.GetWatch(watchID)
	if err != nil {
		return nil, fmt.Errorf("loading watch %s: %w", watchID, err)
	}
	if watch == nil {
		return nil, ErrWatchNotFound
	}

	mu := g.lockFor(watchID)
	mu.Lock()
	defer mu.Unlock()

	today := database.DateOf(g.now())
	cached, err := g.cache.Get(watchID, today)
	if err != nil {
		return nil, fmt.Errorf("reading report cache: %w", err)
	}
	if cached != nil {
		log.Printf("Report for %s on %s served from cache", watch.Name, today)
		return cached, nil
	}

	items, err := g.todaysArticles(watch, links, today)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoArticlesToday
	}

	provider := g.models.Resolve(model)
	log.Printf("Generating report for %s: %d articles", watch.Name, len(items))

	summaries, err := g.summarizeAll(ctx, provider, items)
	if err != nil {
		return nil, err
	}

	narrative, err := g.briefing(ctx, provider, watch, summaries)
	if err != nil {
		return nil, fmt.Errorf("writing briefing: %w", err)
	}

	r := database.Report{
		Date:                today,
		Kind:                database.ReportKindBriefing,
		WatchID:             watch.ID,
		WatchName:           watch.Name,
		ArticleCount:        len(items),
		Narrative:           narrative,
		PerArticleSummaries: summaries,
		Links:               itemLinks(items),
		Model:               model.String(),
		GeneratedAt:         g.now().UTC().Truncate(time.Second),
	}
	if err := g.cache.Append(watchID, r); err != nil {
		return nil, fmt.Errorf("caching report: %w", err)
	}
	log.Printf("Report for %s on %s cached", watch.Name, today)
	return &r, nil
}

// AppendArticleEntry summarizes one matched item and appends it to the
// watch's log as a single-article entry for today.
func (g *Generator) AppendArticleEntry(ctx context.Context, watch database.Watch, item database.Item, model llm.Model) (*database.Report, error) {
	summary, err := g.SummarizeArticle(ctx, g.models.Resolve(model), item)
	if err != nil {
		return nil, err
	}

	r := database.Report{
		Date:                database.DateOf(g.now()),
		Kind:                database.ReportKindArticle,
		WatchID:             watch.ID,
		WatchName:           watch.Name,
		ArticleCount:        1,
		Narrative:           summary,
		PerArticleSummaries: []string{summary},
		Links:               []string{item.Link},
		Model:               model.String(),
		GeneratedAt:         g.now().UTC().Truncate(time.Second),
	}
	if err := g.cache.Append(watch.ID, r); err != nil {
		return nil, fmt.Errorf("caching article entry: %w", err)
	}
	return &r, nil
}

// SummarizeArticle summarizes item using the page's full text when it can be
// extracted, otherwise its feed description.
func (g *Generator) SummarizeArticle(ctx context.Context, provider llm.Provider, item database.Item) (string, error) {
	text := item.Description
	if g.extractor != nil && item.Link != "" {
		page, err := g.extractor.FetchAndExtract(ctx, item.Link)
		if err != nil {
			log.Printf("Using description for %s: %v", item.Link, err)
		} else if strings.TrimSpace(page.Text) != "" {
			text = page.Text
		}
	}

	s := summarize.New(provider, g.opts.Summarize)
	summary, err := s.Summarize(ctx, item.Title, text, item.PublishedAt)
	if err != nil {
		return "", fmt.Errorf("summarizing %s: %w", item.Link, err)
	}
	return summary, nil
}

func (g *Generator) summarizeAll(ctx context.Context, provider llm.Provider, items []database.Item) ([]string, error) {
	summaries := make([]string, len(items))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Concurrency)
	for i, item := range items {
		eg.Go(func() error {
			s, err := g.SummarizeArticle(ctx, provider, item)
			if err != nil {
				return err
			}
			summaries[i] = s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (g *Generator) briefing(ctx context.Context, provider llm.Provider, watch *database.Watch, summaries []string) (string, error) {
	var parts []string
	for i, s := range summaries {
		parts = append(parts, fmt.Sprintf("[%d] %s", i+1, s))
	}
	prompt := fmt.Sprintf(briefingPrompt, watch.Keyword, len(summaries), strings.Join(parts, "\n\n"))

	out, err := provider.Generate(ctx, prompt, g.opts.MaxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *Generator) todaysArticles(watch *database.Watch, links []string, today string) ([]database.Item, error) {
	snapshot, err := g.store.LoadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	wanted := make(map[string]struct{}, len(links))
	for _, l := range links {
		if l = strings.TrimSpace(l); l != "" {
			wanted[l] = struct{}{}
		}
	}

	var out []database.Item
	for _, it := range snapshot {
		if database.DateOf(it.PublishedAt) != today {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[it.Link]; !ok {
				continue
			}
		} else if !match.Keyword(watch.Keyword, it) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (g *Generator) lockFor(watchID string) *sync.Mutex {
	v, _ := g.locks.LoadOrStore(watchID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func itemLinks(items []database.Item) []string {
	links := make([]string, len(items))
	for i, it := range items {
		links[i] = it.Link
	}
	return links
}
