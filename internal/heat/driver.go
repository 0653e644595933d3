package heat

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"heatbot/internal/caseid"
)

// SearchResult is one entry of the target's search result list.
type SearchResult struct {
	Text string
	Href string
}

// Driver loads pages from the target system. Each Open returns resources owned by a single
// fetch attempt.
type Driver interface {
	Authenticator
	Name() string
	Open(ctx context.Context, session Session) (Attempt, error)
}

// Attempt is the per-attempt page or connection. Close must be safe to call on every path.
type Attempt interface {
	// Search submits the case number and returns the rendered results.
	Search(ctx context.Context, id caseid.ID) ([]SearchResult, error)
	// OpenRecord loads the record behind a result.
	OpenRecord(ctx context.Context, result SearchResult) (*goquery.Document, error)
	Close() error
}

// MatchResult picks the result whose visible text or link mentions id.
func MatchResult(results []SearchResult, id caseid.ID) (SearchResult, bool) {
	for _, r := range results {
		if id.Matches(r.Text) {
			return r, true
		}
	}
	for _, r := range results {
		if id.Matches(r.Href) {
			return r, true
		}
	}
	return SearchResult{}, false
}

// ParseResults reads search entries from a results document using the result locators
// in order; the first locator that yields anything wins. Rows without a link keep an empty
// Href, which drivers treat as "the record is already on screen".
func ParseResults(doc *goquery.Document, locators []Locator) []SearchResult {
	if doc == nil {
		return nil
	}
	for _, loc := range locators {
		var out []SearchResult
		loc.Find(doc.Selection).Each(func(_ int, s *goquery.Selection) {
			text := CleanText(s.Text())
			href, ok := s.Attr("href")
			if !ok {
				href = s.Find("a[href]").First().AttrOr("href", "")
			}
			if text == "" && href == "" {
				return
			}
			out = append(out, SearchResult{Text: text, Href: strings.TrimSpace(href)})
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// DefaultResultLocators cover HEAT's grid rows and plain link lists.
func DefaultResultLocators() []Locator {
	return []Locator{
		CSS("table.x-grid-table tr.x-grid-row"),
		CSS("table#searchResults tr"),
		Class("search-result"),
		CSS("a[href*='RecId']"),
		CSS("a[href*='case']"),
		CSS("table tr"),
	}
}
