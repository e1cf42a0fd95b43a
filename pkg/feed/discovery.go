package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/net/html"

	"crossfeed/pkg/domain"
)

// common feed locations probed when a page declares no alternate links
var commonFeedPaths = []string{"/feed", "/rss", "/feed.xml", "/rss.xml", "/atom.xml", "/index.xml"}

// Discovery finds feeds for a website by reading its HTML head and probing
// well-known paths, validating every candidate by actually parsing it
type Discovery struct {
	client    *http.Client
	parser    *Parser
	userAgent string
}

// NewDiscovery creates a feed discovery service sharing the parser for
// candidate validation
func NewDiscovery(timeout time.Duration, userAgent string, parser *Parser) *Discovery {
	return &Discovery{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		parser:    parser,
		userAgent: userAgent,
	}
}

// Discover returns validated candidate feeds for the site, best first.
// Declared <link rel="alternate"> feeds rank above probed common paths.
func (d *Discovery) Discover(ctx context.Context, siteURL string) ([]domain.CandidateFeed, error) {
	base, err := url.Parse(siteURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, domain.Validationf("invalid site url %q", siteURL)
	}

	declared, err := d.declaredFeeds(ctx, base)
	if err != nil {
		lgr.Printf("[DEBUG] no declared feeds on %s: %v", siteURL, err)
	}

	seen := map[string]bool{}
	var candidates []domain.CandidateFeed

	for _, c := range declared {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		candidates = append(candidates, d.validate(ctx, c))
	}

	// probe common paths only for urls not already declared
	for _, path := range commonFeedPaths {
		probe := base.Scheme + "://" + base.Host + path
		if seen[probe] {
			continue
		}
		seen[probe] = true
		c := d.validate(ctx, domain.CandidateFeed{URL: probe, Confidence: 0.3})
		if c.Valid {
			candidates = append(candidates, c)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	if len(candidates) == 0 {
		return nil, domain.NotFoundf("no feeds found for %s", siteURL)
	}
	return candidates, nil
}

// declaredFeeds extracts rel=alternate feed links from the site's HTML
func (d *Discovery) declaredFeeds(ctx context.Context, base *url.URL) ([]domain.CandidateFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch site: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var found []domain.CandidateFeed
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "link" {
			var rel, typ, href, title string
			for _, a := range n.Attr {
				switch strings.ToLower(a.Key) {
				case "rel":
					rel = strings.ToLower(a.Val)
				case "type":
					typ = strings.ToLower(a.Val)
				case "href":
					href = a.Val
				case "title":
					title = a.Val
				}
			}
			if rel == "alternate" && href != "" && isFeedMIME(typ) {
				if abs, err := base.Parse(href); err == nil {
					found = append(found, domain.CandidateFeed{
						URL:        abs.String(),
						Title:      title,
						FeedType:   feedTypeFromMIME(typ),
						Confidence: 0.9,
					})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return found, nil
}

// validate fetches and parses the candidate, filling in title, item count
// and the valid flag. Invalid candidates keep Confidence 0.
func (d *Discovery) validate(ctx context.Context, c domain.CandidateFeed) domain.CandidateFeed {
	parsed, err := d.parser.Parse(ctx, c.URL)
	if err != nil {
		c.Valid = false
		c.Confidence = 0
		return c
	}

	c.Valid = true
	c.ItemCount = len(parsed.Items)
	if c.Title == "" {
		c.Title = parsed.Title
	}
	if c.FeedType == "" {
		c.FeedType = "rss"
	}
	if c.ItemCount == 0 {
		c.Confidence /= 2 // parses but empty, likely a stub
	}
	return c
}

func isFeedMIME(typ string) bool {
	return strings.Contains(typ, "rss") || strings.Contains(typ, "atom") ||
		typ == "application/feed+json" || typ == "application/json"
}

func feedTypeFromMIME(typ string) string {
	switch {
	case strings.Contains(typ, "atom"):
		return "atom"
	case strings.Contains(typ, "json"):
		return "json"
	default:
		return "rss"
	}
}
