package collect

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/feedwatch/internal/config"
	"github.com/TobiSchelling/feedwatch/internal/database"
	"github.com/TobiSchelling/feedwatch/internal/enrich"
)

// ImageResolver picks a thumbnail for an entry.
type ImageResolver interface {
	Resolve(ctx context.Context, e enrich.Entry, src database.Source) string
}

// Fetcher retrieves and normalizes a single source's feed.
type Fetcher struct {
	Images        ImageResolver
	Timeout       time.Duration
	SlowThreshold time.Duration
	MaxPerFeed    int
	UserAgent     string
	client        *http.Client
}

// NewFetcher creates a Fetcher from the fetch config section.
func NewFetcher(cfg config.Fetch, images ImageResolver) *Fetcher {
	return &Fetcher{
		Images:        images,
		Timeout:       cfg.Timeout.Duration,
		SlowThreshold: cfg.SlowThreshold.Duration,
		MaxPerFeed:    cfg.MaxPerFeed,
		UserAgent:     cfg.UserAgent,
		client:        &http.Client{Timeout: cfg.Timeout.Duration},
	}
}

// Fetch returns the normalized items of src in feed order. Network and parse
// failures are logged and yield an empty result.
func (f *Fetcher) Fetch(ctx context.Context, src database.Source) []database.Item {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); f.SlowThreshold > 0 && elapsed > f.SlowThreshold {
			log.Printf("Slow fetch: %s took %s", src.Title, elapsed.Round(time.Millisecond))
		}
	}()

	feed, err := f.parse(ctx, src.FeedURL)
	if err != nil {
		log.Printf("Failed to parse feed %s (%s): %v", src.Title, src.FeedURL, err)
		return nil
	}

	var items []database.Item
	for _, raw := range feed.Items {
		if f.MaxPerFeed > 0 && len(items) >= f.MaxPerFeed {
			break
		}
		if raw == nil {
			continue
		}
		item, ok := f.normalize(ctx, raw, src)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items
}

func (f *Fetcher) parse(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	// gofeed parsers keep per-parse state, so each fetch gets its own.
	parser := gofeed.NewParser()
	parser.UserAgent = f.UserAgent
	if f.client != nil {
		parser.Client = f.client
	}
	return parser.ParseURLWithContext(feedURL, ctx)
}

func (f *Fetcher) normalize(ctx context.Context, raw *gofeed.Item, src database.Source) (database.Item, bool) {
	entry := toEntry(raw)
	if entry.Link == "" {
		return database.Item{}, false
	}

	description := raw.Description
	if strings.TrimSpace(description) == "" {
		description = raw.Content
	}

	item := database.Item{
		Title:        strings.TrimSpace(StripHTML(raw.Title)),
		Link:         entry.Link,
		Description:  StripHTML(description),
		SourceTitle:  src.Title,
		PublishedRaw: publishedRaw(raw),
		PublishedAt:  publishedAt(raw),
	}
	if f.Images != nil {
		item.Image = f.Images.Resolve(ctx, entry, src)
	}
	return item, true
}
