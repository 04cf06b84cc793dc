package scrape

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"shortsgen/candidate"
)

// JSONScraper extracts candidates from JSON APIs. The payload may be an
// array of items, a single item, or an object whose ItemsPath holds either.
type JSONScraper struct {
	fetcher *Fetcher
}

func NewJSONScraper(f *Fetcher) *JSONScraper {
	return &JSONScraper{fetcher: f}
}

func (j *JSONScraper) Name() string { return "json" }

func (j *JSONScraper) Fetch(ctx context.Context, req Request) ([]candidate.Draft, error) {
	src := req.Source
	target, err := src.PageURL(req.Page)
	if err != nil {
		return nil, newUpstreamError(src.Name, src.URL, 0, err, "invalid source url")
	}
	body, err := j.fetcher.Get(ctx, src, target, "application/json")
	if err != nil {
		return nil, err
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, newUpstreamError(src.Name, target, 0, err, "invalid json from %s", src.Name)
	}
	if src.ItemsPath != "" {
		payload = lookup(payload, src.ItemsPath)
	}

	var items []interface{}
	switch v := payload.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		items = []interface{}{v}
	}

	out := make([]candidate.Draft, 0, len(items))
	for _, it := range items {
		if d, ok := extractJSON(it, src); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func extractJSON(item interface{}, src Source) (candidate.Draft, bool) {
	f := src.Fields
	d := src.draft()

	text := firstString(item, f.Text)
	if text == "" && f.Setup != "" {
		setup := stringify(lookup(item, f.Setup))
		delivery := stringify(lookup(item, f.Delivery))
		text = strings.TrimSpace(setup + "\n\n" + delivery)
	}
	text = src.clean(text)
	if text == "" {
		return d, false
	}
	d.Text = text
	d.Title = src.clean(firstString(item, f.Title))
	d.ExternalID = firstString(item, f.ID)
	d.URL = firstString(item, f.URL)
	d.ImageURL = firstString(item, f.Image)
	if c := firstString(item, f.Category); c != "" {
		d.Category = c
	}
	if r := firstString(item, f.Rating); r != "" {
		d.RatingPercent = parseRating(r)
	}
	if raw, err := json.Marshal(item); err == nil {
		d.RawHTML = string(raw)
	}
	return d, true
}

// lookup follows a dotted path through maps; numeric segments index arrays.
func lookup(v interface{}, path string) interface{} {
	if path == "" {
		return v
	}
	for _, seg := range strings.Split(path, ".") {
		switch cur := v.(type) {
		case map[string]interface{}:
			v = cur[seg]
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(cur) {
				return nil
			}
			v = cur[i]
		default:
			return nil
		}
	}
	return v
}

func firstString(item interface{}, paths []string) string {
	for _, p := range paths {
		if s := strings.TrimSpace(stringify(lookup(item, p))); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}
