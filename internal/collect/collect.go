package collect

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/feedwatch/internal/database"
)

// SourceFetcher fetches one source. Implementations must not fail: a broken
// source yields no items.
type SourceFetcher interface {
	Fetch(ctx context.Context, src database.Source) []database.Item
}

// Result holds the results of a collection run.
type Result struct {
	Items      []database.Item // concatenated in source registry order
	TotalFound int
	Sources    map[string]int
	Empty      []string // titles of sources that returned nothing
}

// Collector fans the source registry out to a bounded pool of fetchers.
type Collector struct {
	fetcher     SourceFetcher
	concurrency int
}

// NewCollector creates a collector running at most concurrency fetches at once.
func NewCollector(fetcher SourceFetcher, concurrency int) *Collector {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Collector{fetcher: fetcher, concurrency: concurrency}
}

// Collect fetches every source and waits for all of them. Results keep the
// order of sources regardless of which fetch finishes first.
func (c *Collector) Collect(ctx context.Context, sources []database.Source) *Result {
	perSource := make([][]database.Item, len(sources))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Fetch of %s panicked: %v", src.Title, r)
				}
			}()
			perSource[i] = c.fetcher.Fetch(ctx, src)
			return nil
		})
	}
	g.Wait()

	r := &Result{Sources: make(map[string]int)}
	for i, items := range perSource {
		title := sources[i].Title
		if len(items) == 0 {
			r.Empty = append(r.Empty, title)
		}
		r.Sources[title] += len(items)
		r.TotalFound += len(items)
		r.Items = append(r.Items, items...)
	}

	log.Printf("Collection complete: %d items from %d sources (%d empty)",
		r.TotalFound, len(sources), len(r.Empty))
	return r
}
