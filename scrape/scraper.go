// Package scrape holds the scraper contract and the generic, catalog-driven
// adapters: HTML pages via CSS selectors, JSON APIs via dotted field paths,
// and RSS feeds.
package scrape

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"shortsgen/candidate"
	"shortsgen/errors"
)

// HTMLSelectors locate fields inside an HTML listing. Item selects one
// element per candidate; the rest are evaluated relative to it and an empty
// Text selector means the item element itself.
type HTMLSelectors struct {
	Item     string `yaml:"item" json:"item"`
	Text     string `yaml:"text" json:"text,omitempty"`
	Title    string `yaml:"title" json:"title,omitempty"`
	Link     string `yaml:"link" json:"link,omitempty"`
	Image    string `yaml:"image" json:"image,omitempty"`
	Rating   string `yaml:"rating" json:"rating,omitempty"`
	Category string `yaml:"category" json:"category,omitempty"`
	IDAttr   string `yaml:"idAttr" json:"idAttr,omitempty"`
}

// JSONFields lists candidate dotted paths per field; the first non-empty
// value wins. Setup and Delivery build two-part jokes.
type JSONFields struct {
	ID       []string `yaml:"id" json:"id,omitempty"`
	Title    []string `yaml:"title" json:"title,omitempty"`
	Text     []string `yaml:"text" json:"text,omitempty"`
	URL      []string `yaml:"url" json:"url,omitempty"`
	Image    []string `yaml:"image" json:"image,omitempty"`
	Category []string `yaml:"category" json:"category,omitempty"`
	Rating   []string `yaml:"rating" json:"rating,omitempty"`
	Setup    string   `yaml:"setup" json:"setup,omitempty"`
	Delivery string   `yaml:"delivery" json:"delivery,omitempty"`
}

// Source is one catalog entry.
type Source struct {
	Name      string         `yaml:"name" json:"name"`
	Source    string         `yaml:"source" json:"source"`
	Scraper   string         `yaml:"scraper" json:"scraper"`
	Kind      candidate.Kind `yaml:"kind" json:"kind"`
	Language  string         `yaml:"language" json:"language"`
	Category  string         `yaml:"category" json:"category,omitempty"`
	URL       string         `yaml:"url" json:"url"`
	FirstURL  string         `yaml:"firstUrl" json:"firstUrl,omitempty"`
	Paged     bool           `yaml:"paged" json:"paged,omitempty"`
	PageParam string         `yaml:"pageParam" json:"pageParam,omitempty"`
	Timeout   time.Duration  `yaml:"timeout" json:"timeout,omitempty"`
	Charset   string         `yaml:"charset" json:"charset,omitempty"`
	ItemsPath string         `yaml:"itemsPath" json:"itemsPath,omitempty"`
	Selectors HTMLSelectors  `yaml:"selectors" json:"selectors,omitempty"`
	Fields    JSONFields     `yaml:"fields" json:"fields,omitempty"`
	Disabled  bool           `yaml:"disabled" json:"disabled,omitempty"`
}

// StateKey scopes the page cursor of a paged source.
func (s Source) StateKey() string {
	return s.Source + ":" + s.Name
}

// PageURL renders the URL of page. FirstURL, when set, serves page 1. A
// "{page}" placeholder is substituted; otherwise PageParam, when set, is
// added as a query parameter.
func (s Source) PageURL(page int) (string, error) {
	if page < 1 {
		page = 1
	}
	if page == 1 && s.FirstURL != "" {
		return s.FirstURL, nil
	}
	if strings.Contains(s.URL, "{page}") {
		return strings.ReplaceAll(s.URL, "{page}", strconv.Itoa(page)), nil
	}
	if !s.Paged || s.PageParam == "" {
		return s.URL, nil
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid url for source %s", s.Name)
	}
	q := u.Query()
	q.Set(s.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// widgets reports whether pages of s carry joke voting widgets.
func (s Source) widgets() bool { return s.Kind == candidate.KindJoke }

func (s Source) clean(fragment string) string {
	if s.widgets() {
		return CleanJokeText(fragment)
	}
	return CleanText(fragment)
}

func (s Source) draft() candidate.Draft {
	return candidate.Draft{
		Kind:     s.Kind,
		Source:   s.Source,
		Language: s.Language,
		Category: s.Category,
	}
}

// Request carries one fetch of one source.
type Request struct {
	Source Source
	Page   int
}

// Scraper turns one source page into drafts. Failures are *UpstreamError.
type Scraper interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]candidate.Draft, error)
}

// Registry maps scraper type names to implementations.
type Registry struct {
	scrapers map[string]Scraper
}

func NewRegistry(scrapers ...Scraper) *Registry {
	r := &Registry{scrapers: map[string]Scraper{}}
	for _, s := range scrapers {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a scraper implementation.
func (r *Registry) Register(s Scraper) {
	r.scrapers[s.Name()] = s
}

// Resolve returns a scraper by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Scraper, error) {
	if s, ok := r.scrapers[name]; ok {
		return s, nil
	}
	return nil, errors.Invalidf("scraper %q is not registered", name)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scrapers))
	for n := range r.scrapers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry wires the HTML, JSON and RSS adapters over f.
func DefaultRegistry(f *Fetcher) *Registry {
	return NewRegistry(NewHTMLScraper(f), NewJSONScraper(f), NewRSSScraper(f))
}
