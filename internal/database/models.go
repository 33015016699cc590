package database

import "time"

// Source is a feed descriptor in the source registry.
type Source struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	FeedURL   string  `json:"rssUrl"`
	Position  int     `json:"-"`
	CreatedAt *string `json:"-"`
}

// Watch is a keyword subscription. The web UI calls these projects.
type Watch struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Keyword   string  `json:"keyword"`
	CreatedAt *string `json:"created_at,omitempty"`
}

// Item is one normalized feed entry. Link is its identity.
type Item struct {
	Title        string    `json:"title"`
	Link         string    `json:"link"`
	Description  string    `json:"description"`
	SourceTitle  string    `json:"source"`
	PublishedRaw string    `json:"published"`
	PublishedAt  time.Time `json:"published_at"`
	Image        string    `json:"image"`
}

// Report kinds stored in a watch's report log.
const (
	ReportKindBriefing = "briefing"
	ReportKindArticle  = "article"
)

// Report is one entry in a watch's append-only report log.
//
// Kind distinguishes the full daily briefing from the single-article entries
// appended by the keyword matcher as new items arrive.
type Report struct {
	Date                string    `json:"date"`
	Kind                string    `json:"kind"`
	WatchID             string    `json:"watch_id"`
	WatchName           string    `json:"watch_name"`
	ArticleCount        int       `json:"article_count"`
	Narrative           string    `json:"narrative"`
	PerArticleSummaries []string  `json:"per_article_summaries"`
	Links               []string  `json:"links,omitempty"`
	Model               string    `json:"model,omitempty"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// KeywordAlert is an externally detected keyword hit, e.g. from a chat bot.
type KeywordAlert struct {
	ID         string `json:"id"`
	Keyword    string `json:"keyword"`
	Message    string `json:"message"`
	User       string `json:"user"`
	ChatID     int64  `json:"chat_id"`
	ReceivedAt string `json:"received_at"`
}

// Stats contains aggregate database statistics.
type Stats struct {
	Sources       int
	Watches       int
	SnapshotItems int
	ReportLogs    int
	KeywordAlerts int
}
