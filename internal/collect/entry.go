package collect

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/TobiSchelling/feedwatch/internal/enrich"
)

// Epoch is the publishedAt of items whose date cannot be parsed.
var Epoch = time.Unix(0, 0).UTC()

// toEntry reduces a parsed feed item of any dialect to the fields the image
// chain inspects.
func toEntry(item *gofeed.Item) enrich.Entry {
	e := enrich.Entry{
		Link:           itemLink(item),
		Description:    item.Description,
		EncodedContent: item.Content,
	}

	media := item.Extensions["media"]
	e.MediaContent = extensionURLs(media, "content")
	e.MediaThumbnails = extensionURLs(media, "thumbnail")
	for _, group := range media["group"] {
		e.MediaContent = append(e.MediaContent, childURLs(group, "content")...)
		e.MediaThumbnails = append(e.MediaThumbnails, childURLs(group, "thumbnail")...)
	}

	switch {
	case item.Image != nil && item.Image.URL != "":
		e.Image = item.Image.URL
	case item.ITunesExt != nil && item.ITunesExt.Image != "":
		e.Image = item.ITunesExt.Image
	case item.Custom["image"] != "":
		e.Image = item.Custom["image"]
	}

	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			e.Enclosures = append(e.Enclosures, enc.URL)
		}
	}
	return e
}

func extensionURLs(exts map[string][]ext.Extension, name string) []string {
	var urls []string
	for _, x := range exts[name] {
		if u := extensionURL(x); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func childURLs(parent ext.Extension, name string) []string {
	var urls []string
	for _, x := range parent.Children[name] {
		if u := extensionURL(x); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// extensionURL reads a media element's url, falling back to href or its text.
func extensionURL(x ext.Extension) string {
	for _, attr := range []string{"url", "href"} {
		if v := strings.TrimSpace(x.Attrs[attr]); v != "" {
			return v
		}
	}
	return strings.TrimSpace(x.Value)
}

func itemLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	if guid := strings.TrimSpace(item.GUID); strings.HasPrefix(guid, "http") {
		return guid
	}
	return ""
}

// publishedRaw returns the feed's own date string, preferring the publish
// date over the update date.
func publishedRaw(item *gofeed.Item) string {
	if item.Published != "" {
		return strings.TrimSpace(item.Published)
	}
	return strings.TrimSpace(item.Updated)
}

// ParsePublished parses a feed date string in any common layout. Unparseable
// or empty input yields Epoch so every item has a total order.
func ParsePublished(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Epoch
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return Epoch
	}
	return t
}

func publishedAt(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return *item.PublishedParsed
	case item.UpdatedParsed != nil:
		return *item.UpdatedParsed
	}
	return ParsePublished(publishedRaw(item))
}

// StripHTML returns the visible text of an HTML fragment with whitespace
// collapsed.
func StripHTML(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return strings.Join(strings.Fields(html), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
