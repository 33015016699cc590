package enrich

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// BrandLookup finds a logo URL for a registrable domain. An empty result with
// a nil error means the service has no logo for it.
type BrandLookup interface {
	Lookup(ctx context.Context, domain string) (string, error)
}

// BrandCache memoizes brand-logo lookups per domain for its own lifetime.
// An empty answer is cached too, so each domain is looked up at most once
// (two racing resolvers may both call the service; the first store wins).
type BrandCache struct {
	lookup BrandLookup
	logos  sync.Map // domain -> string
}

// NewBrandCache creates an empty cache backed by lookup.
func NewBrandCache(lookup BrandLookup) *BrandCache {
	return &BrandCache{lookup: lookup}
}

// Resolve returns the cached logo for domain, looking it up on first use.
func (c *BrandCache) Resolve(ctx context.Context, domain string) string {
	if domain == "" || c.lookup == nil {
		return ""
	}
	if v, ok := c.logos.Load(domain); ok {
		return v.(string)
	}

	logo, err := c.lookup.Lookup(ctx, domain)
	if err != nil {
		log.Printf("Brand lookup failed for %s: %v", domain, err)
		logo = ""
	}
	v, _ := c.logos.LoadOrStore(domain, logo)
	return v.(string)
}

// Len returns the number of memoized domains.
func (c *BrandCache) Len() int {
	n := 0
	c.logos.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// RegistrableDomain returns the eTLD+1 of a URL's host, e.g. "bbc.co.uk" for
// "https://www.bbc.co.uk/news", or "" when there is none.
func RegistrableDomain(rawURL string) string {
	host := hostOf(rawURL)
	if host == "" {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return domain
}

// LogoService checks a logo URL template such as "https://logo.clearbit.com/%s"
// and returns the URL if the service answers 200.
type LogoService struct {
	URLTemplate string
	client      *http.Client
}

// NewLogoService creates a LogoService with a bounded per-request timeout.
func NewLogoService(urlTemplate string, timeout time.Duration) *LogoService {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &LogoService{
		URLTemplate: urlTemplate,
		client:      &http.Client{Timeout: timeout},
	}
}

// Lookup implements BrandLookup.
func (s *LogoService) Lookup(ctx context.Context, domain string) (string, error) {
	if s.URLTemplate == "" {
		return "", nil
	}
	logoURL := s.URLTemplate
	if strings.Contains(logoURL, "%s") {
		logoURL = fmt.Sprintf(s.URLTemplate, domain)
	} else {
		logoURL = strings.TrimRight(logoURL, "/") + "/" + domain
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, logoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil
	}
	return logoURL, nil
}
