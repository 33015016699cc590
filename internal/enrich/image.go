// Package enrich resolves a thumbnail for a feed entry through an ordered
// fallback chain. The first step that yields a URL wins; the placeholder is
// the terminal answer so callers never see an empty image.
package enrich

import (
	"context"
	"log"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/feedwatch/internal/database"
	"github.com/TobiSchelling/feedwatch/internal/fetch"
)

// Entry is the dialect-independent view of a raw feed entry that the chain
// inspects. The collect package builds it from gofeed items.
type Entry struct {
	Link            string
	Description     string // raw, may contain HTML
	EncodedContent  string // content:encoded or Atom content, raw HTML
	MediaContent    []string
	MediaThumbnails []string
	Image           string // explicit image field, already reduced to href/url/text
	Enclosures      []string
}

// Step names the fallback that produced an image.
type Step int

const (
	StepMediaContent Step = iota + 1
	StepMediaThumbnail
	StepImageField
	StepDescriptionImageTag
	StepDescriptionImg
	StepContentImg
	StepPageExtraction
	StepEnclosure
	StepBrandLogo
	StepPlaceholder
)

var stepNames = map[Step]string{
	StepMediaContent:        "media:content",
	StepMediaThumbnail:      "media:thumbnail",
	StepImageField:          "image field",
	StepDescriptionImageTag: "description <image>",
	StepDescriptionImg:      "description <img>",
	StepContentImg:          "content <img>",
	StepPageExtraction:      "page extraction",
	StepEnclosure:           "enclosure",
	StepBrandLogo:           "brand logo",
	StepPlaceholder:         "placeholder",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

// Extractor fetches a page and returns its primary content.
type Extractor interface {
	FetchAndExtract(ctx context.Context, pageURL string) (*fetch.Page, error)
}

// Resolver runs the image fallback chain.
type Resolver struct {
	Extractor   Extractor   // nil disables page extraction
	Brands      *BrandCache // nil disables brand-logo lookup
	Placeholder string
	Verbose     bool
}

// Resolve returns the image URL for e. It never returns an empty string.
func (r *Resolver) Resolve(ctx context.Context, e Entry, src database.Source) string {
	img, step := r.ResolveStep(ctx, e, src)
	if r.Verbose {
		log.Printf("Image for %s (%s) resolved via %s", e.Link, src.Title, step)
	}
	return img
}

// ResolveStep is Resolve that also reports which step produced the image.
func (r *Resolver) ResolveStep(ctx context.Context, e Entry, src database.Source) (string, Step) {
	if img := firstNonEmpty(e.MediaContent); img != "" {
		return img, StepMediaContent
	}
	if img := firstNonEmpty(e.MediaThumbnails); img != "" {
		return img, StepMediaThumbnail
	}
	if img := strings.TrimSpace(e.Image); img != "" {
		return img, StepImageField
	}
	if img := imageTagURL(e.Description); img != "" {
		return img, StepDescriptionImageTag
	}
	if img := firstImgSrc(e.Description); img != "" {
		return img, StepDescriptionImg
	}
	if img := firstImgSrc(e.EncodedContent); img != "" {
		return img, StepContentImg
	}
	if r.Extractor != nil && e.Link != "" {
		page, err := r.Extractor.FetchAndExtract(ctx, e.Link)
		if err != nil {
			if r.Verbose {
				log.Printf("Page extraction failed for %s: %v", e.Link, err)
			}
		} else if img := strings.TrimSpace(page.TopImage); img != "" {
			return img, StepPageExtraction
		}
	}
	if img := firstNonEmpty(e.Enclosures); img != "" {
		return img, StepEnclosure
	}
	if r.Brands != nil {
		domain := RegistrableDomain(e.Link)
		if domain == "" {
			domain = RegistrableDomain(src.FeedURL)
		}
		if img := r.Brands.Resolve(ctx, domain); img != "" {
			return img, StepBrandLogo
		}
	}
	return r.Placeholder, StepPlaceholder
}

var imageTagRe = regexp.MustCompile(`(?is)<image>\s*(?:<url>\s*)?([^<\s]+)`)

// imageTagURL extracts the URL inside an <image>...</image> tag, including the
// RSS <image><url>...</url></image> shape.
func imageTagURL(html string) string {
	m := imageTagRe.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// firstImgSrc returns the src of the first <img> in an HTML fragment.
func firstImgSrc(html string) string {
	if !strings.Contains(strings.ToLower(html), "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	var src string
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src = strings.TrimSpace(s.AttrOr("src", ""))
		return src == ""
	})
	return src
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// hostOf returns the lower-cased host of a URL, or "".
func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
