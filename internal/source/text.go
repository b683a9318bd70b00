package source

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// PlainText drops HTML markup from feed fields and collapses whitespace.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}

	return strings.Join(strings.Fields(doc.Text()), " ")
}

// ContentText extracts the readable body of a full HTML article, as found in
// content:encoded or Atom content, falling back to PlainText when readability
// finds nothing.
func ContentText(html, link string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	pageURL, err := url.Parse(link)
	if err != nil || !pageURL.IsAbs() {
		pageURL = nil
	}

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return PlainText(html)
	}

	text := strings.Join(strings.Fields(article.TextContent), " ")
	if text == "" {
		return PlainText(html)
	}

	return text
}
