package scrape

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"shortsgen/candidate"
)

var ratingExpr = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%?`)

// HTMLScraper extracts candidates from listing pages using the source's
// CSS selectors.
type HTMLScraper struct {
	fetcher *Fetcher
}

func NewHTMLScraper(f *Fetcher) *HTMLScraper {
	return &HTMLScraper{fetcher: f}
}

func (h *HTMLScraper) Name() string { return "html" }

func (h *HTMLScraper) Fetch(ctx context.Context, req Request) ([]candidate.Draft, error) {
	src := req.Source
	target, err := src.PageURL(req.Page)
	if err != nil {
		return nil, newUpstreamError(src.Name, src.URL, 0, err, "invalid source url")
	}
	if src.Selectors.Item == "" {
		return nil, newUpstreamError(src.Name, target, 0, nil, "source %s has no item selector", src.Name)
	}

	body, err := h.fetcher.Get(ctx, src, target, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, newUpstreamError(src.Name, target, 0, err, "parse html")
	}
	base, _ := url.Parse(target)
	return extractHTML(doc, src, base), nil
}

func extractHTML(doc *goquery.Document, src Source, base *url.URL) []candidate.Draft {
	sel := src.Selectors
	var out []candidate.Draft
	doc.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
		textSel := item
		if sel.Text != "" {
			textSel = item.Find(sel.Text).First()
		}
		text := selectionText(textSel, src.widgets())
		if text == "" {
			return
		}

		d := src.draft()
		d.Text = text
		if sel.Title != "" {
			d.Title = selectionText(item.Find(sel.Title).First(), src.widgets())
		}
		if sel.Category != "" {
			if c := selectionText(item.Find(sel.Category).First(), src.widgets()); c != "" {
				d.Category = c
			}
		}
		if sel.Link != "" {
			d.URL = resolveAttr(item.Find(sel.Link).First(), "href", base)
		}
		if sel.Image != "" {
			d.ImageURL = resolveAttr(item.Find(sel.Image).First(), "src", base)
		}
		if sel.Rating != "" {
			d.RatingPercent = parseRating(item.Find(sel.Rating).First().Text())
		}
		if sel.IDAttr != "" {
			if id, ok := item.Attr(sel.IDAttr); ok {
				d.ExternalID = strings.TrimSpace(id)
			}
		}
		if raw, err := goquery.OuterHtml(item); err == nil {
			d.RawHTML = raw
		}
		out = append(out, d)
	})
	return out
}

func resolveAttr(s *goquery.Selection, attr string, base *url.URL) string {
	v, ok := s.Attr(attr)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return ""
	}
	ref, err := url.Parse(v)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// parseRating reads the first number in s ("87%", "4,5") as a percentage.
func parseRating(s string) *float64 {
	m := ratingExpr.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return nil
	}
	return &v
}
