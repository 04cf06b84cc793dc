package scrape

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	emotionVote   = regexp.MustCompile(`(?i)\b(happy|sad|excited|sleepy|angry|surprise)\s*\d+(\s+\d+)?\s*%`)
	emotionLine   = regexp.MustCompile(`(?im)^[ \t]*(happy|sad|excited|sleepy|angry|surprise)[ \t]*$`)
	inlinePercent = regexp.MustCompile(`[ \t]+\d+[ \t]*%`)
	spaceRun      = regexp.MustCompile(`[ \t\x{00a0}]+`)
	counterLine   = regexp.MustCompile(`^[\d\s%]+$`)
	blankLineRun  = regexp.MustCompile(`\n{3,}`)
)

// CleanText converts an HTML fragment to plain text: scripts and styles are
// dropped, <br> becomes a newline, entities are decoded and whitespace is
// normalized.
func CleanText(fragment string) string {
	return cleanFragment(fragment, false)
}

// CleanJokeText is CleanText plus removal of the emotion-voting widgets
// ("Happy 5 %") and vote counters that joke sites print under each joke.
func CleanJokeText(fragment string) string {
	return cleanFragment(fragment, true)
}

func cleanFragment(fragment string, widgets bool) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return normalizeText(fragment, widgets)
	}
	return selectionText(doc.Selection, widgets)
}

// selectionText extracts cleaned text from sel without modifying it.
func selectionText(sel *goquery.Selection, widgets bool) string {
	c := sel.Clone()
	c.Find("script, style, noscript").Remove()
	c.Find("br").ReplaceWithHtml("\n")
	c.Find("p, div, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return normalizeText(c.Text(), widgets)
}

func normalizeText(s string, widgets bool) string {
	if widgets {
		s = emotionVote.ReplaceAllString(s, "")
		s = emotionLine.ReplaceAllString(s, "")
		s = inlinePercent.ReplaceAllString(s, "")
	}
	s = spaceRun.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if widgets && line != "" && counterLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	s = strings.Join(kept, "\n")
	s = blankLineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
