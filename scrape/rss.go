package scrape

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"shortsgen/candidate"
)

type rssFeed struct {
	Items []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Content     string `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	GUID        string `xml:"guid"`
	Category    string `xml:"category"`
	Enclosure   struct {
		URL  string `xml:"url,attr"`
		Type string `xml:"type,attr"`
	} `xml:"enclosure"`
	Media struct {
		URL string `xml:"url,attr"`
	} `xml:"http://search.yahoo.com/mrss/ content"`
}

// RSSScraper reads RSS 2.0 feeds; used for news sources.
type RSSScraper struct {
	fetcher *Fetcher
}

func NewRSSScraper(f *Fetcher) *RSSScraper {
	return &RSSScraper{fetcher: f}
}

func (r *RSSScraper) Name() string { return "rss" }

func (r *RSSScraper) Fetch(ctx context.Context, req Request) ([]candidate.Draft, error) {
	src := req.Source
	target, err := src.PageURL(req.Page)
	if err != nil {
		return nil, newUpstreamError(src.Name, src.URL, 0, err, "invalid source url")
	}
	body, err := r.fetcher.Get(ctx, src, target, "application/rss+xml, application/xml;q=0.9")
	if err != nil {
		return nil, err
	}

	var feed rssFeed
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	if src.Charset != "" {
		// Already transcoded by the fetcher; ignore the declaration.
		dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }
	}
	if err := dec.Decode(&feed); err != nil {
		return nil, newUpstreamError(src.Name, target, 0, err, "invalid rss from %s", src.Name)
	}

	out := make([]candidate.Draft, 0, len(feed.Items))
	for _, it := range feed.Items {
		text := src.clean(it.Description)
		if text == "" {
			text = src.clean(it.Content)
		}
		if text == "" {
			continue
		}
		d := src.draft()
		d.Text = text
		d.Title = src.clean(it.Title)
		d.URL = strings.TrimSpace(it.Link)
		d.ExternalID = strings.TrimSpace(it.GUID)
		if c := strings.TrimSpace(it.Category); c != "" {
			d.Category = c
		}
		switch {
		case it.Media.URL != "":
			d.ImageURL = it.Media.URL
		case strings.HasPrefix(it.Enclosure.Type, "image/"):
			d.ImageURL = it.Enclosure.URL
		}
		if raw, err := xml.Marshal(it); err == nil {
			d.RawHTML = string(raw)
		}
		out = append(out, d)
	}
	return out, nil
}
