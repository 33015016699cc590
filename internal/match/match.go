// Package match tests feed items against watch keywords and boolean search
// queries.
package match

import (
	"strings"

	"github.com/TobiSchelling/feedwatch/internal/database"
)

// SearchText is the text a boolean query is matched against.
func SearchText(it database.Item) string {
	return it.Title + " " + it.Description
}

// keywordText is the title and description joined as is.
func keywordText(it database.Item) string {
	return strings.ToLower(it.Title + it.Description)
}

// Keyword reports whether keyword, exactly as given, occurs in the item's
// title followed by its description, ignoring case. Surrounding spaces are
// part of the keyword. An empty keyword never matches.
func Keyword(keyword string, it database.Item) bool {
	if keyword == "" {
		return false
	}
	return strings.Contains(keywordText(it), strings.ToLower(keyword))
}

// Hit is one (watch, item) match.
type Hit struct {
	Watch database.Watch
	Item  database.Item
}

// Matcher matches items against a fixed set of watches.
type Matcher struct {
	watches []database.Watch
}

// NewMatcher creates a matcher for watches.
func NewMatcher(watches []database.Watch) *Matcher {
	return &Matcher{watches: watches}
}

// Match returns every hit for items, grouped by item in input order and by
// watch in registry order within an item.
func (m *Matcher) Match(items []database.Item) []Hit {
	var hits []Hit
	for _, it := range items {
		text := keywordText(it)
		for _, w := range m.watches {
			kw := strings.ToLower(w.Keyword)
			if kw != "" && strings.Contains(text, kw) {
				hits = append(hits, Hit{Watch: w, Item: it})
			}
		}
	}
	return hits
}
