// Package aggregate merges one cycle's items into the snapshot: duplicates
// are removed by link, the rest sorted newest first and diffed against the
// previous snapshot.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/TobiSchelling/feedwatch/internal/database"
)

// SnapshotStore reads and replaces the persisted snapshot as a whole.
type SnapshotStore interface {
	LoadSnapshot() ([]database.Item, error)
	SaveSnapshot(items []database.Item) error
}

// Result is the outcome of one aggregation.
type Result struct {
	Snapshot   []database.Item
	New        []database.Item // in snapshot order
	Duplicates int
}

// Dedup keeps the first item seen for each link. Items without a link are dropped.
func Dedup(items []database.Item) []database.Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]database.Item, 0, len(items))
	for _, it := range items {
		if it.Link == "" {
			continue
		}
		if _, dup := seen[it.Link]; dup {
			continue
		}
		seen[it.Link] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Sort orders items by PublishedAt, newest first. Equal times keep their
// relative order.
func Sort(items []database.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
}

// Diff returns the items of current whose link is absent from previous.
func Diff(previous, current []database.Item) []database.Item {
	known := make(map[string]struct{}, len(previous))
	for _, it := range previous {
		known[it.Link] = struct{}{}
	}
	var fresh []database.Item
	for _, it := range current {
		if _, ok := known[it.Link]; !ok {
			fresh = append(fresh, it)
		}
	}
	return fresh
}

// Aggregate dedups and sorts items, diffs them against the stored snapshot
// and then replaces it. The old snapshot is read before the new one is
// written; callers must not run two aggregations at once.
func Aggregate(store SnapshotStore, items []database.Item) (*Result, error) {
	snapshot := Dedup(items)
	Sort(snapshot)

	previous, err := store.LoadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("loading previous snapshot: %w", err)
	}
	fresh := Diff(previous, snapshot)

	if err := store.SaveSnapshot(snapshot); err != nil {
		return nil, fmt.Errorf("saving snapshot: %w", err)
	}

	return &Result{
		Snapshot:   snapshot,
		New:        fresh,
		Duplicates: len(items) - len(snapshot),
	}, nil
}
