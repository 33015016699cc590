package report

import (
	"github.com/TobiSchelling/feedwatch/internal/database"
)

// LogStore persists per-watch report logs.
type LogStore interface {
	LoadReports(watchID string) ([]database.Report, error)
	AppendReport(watchID string, r database.Report) error
}

// Cache is the append-only report log of every watch. It does not enforce
// one briefing per date; the Generator checks before generating.
type Cache struct {
	store LogStore
}

// NewCache creates a cache over store.
func NewCache(store LogStore) *Cache {
	return &Cache{store: store}
}

// Get returns the briefing for watchID on date (YYYY-MM-DD), or nil.
// Single-article entries appended by the keyword matcher are not briefings.
func (c *Cache) Get(watchID, date string) (*database.Report, error) {
	reports, err := c.store.LoadReports(watchID)
	if err != nil {
		return nil, err
	}
	for i := range reports {
		r := reports[i]
		if r.Date == date && isBriefing(r) {
			return &r, nil
		}
	}
	return nil, nil
}

// Latest returns the most recently appended briefing for watchID, or nil.
func (c *Cache) Latest(watchID string) (*database.Report, error) {
	reports, err := c.store.LoadReports(watchID)
	if err != nil {
		return nil, err
	}
	for i := len(reports) - 1; i >= 0; i-- {
		if isBriefing(reports[i]) {
			r := reports[i]
			return &r, nil
		}
	}
	return nil, nil
}

// List returns the whole log for watchID in append order.
func (c *Cache) List(watchID string) ([]database.Report, error) {
	reports, err := c.store.LoadReports(watchID)
	if err != nil {
		return nil, err
	}
	if reports == nil {
		reports = []database.Report{}
	}
	return reports, nil
}

// Append adds r to the end of watchID's log.
func (c *Cache) Append(watchID string, r database.Report) error {
	return c.store.AppendReport(watchID, r)
}

// isBriefing treats entries without a kind as briefings.
func isBriefing(r database.Report) bool {
	return r.Kind == "" || r.Kind == database.ReportKindBriefing
}
