// Package discover decodes the institution's landing page and finds the
// per-campus schedule file links on it.
package discover

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ScheduleExt is the extension of published schedule files.
const ScheduleExt = ".xlsx"

// Section locates one campus block on the landing page: the element right
// after the <h2> whose text contains Heading. When Cell is non-negative the
// block is a table and links are taken from that cell of its second row;
// otherwise the whole block is scanned.
type Section struct {
	Heading string
	Cell    int
}

// Document is a navigable HTML tree with the URL it was served from.
type Document struct {
	doc  *goquery.Document
	base *url.URL
}

// Decode parses HTML from r. base resolves relative links and may be nil.
func Decode(r io.Reader, base *url.URL) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("decode html: %w", err)
	}
	return &Document{doc: doc, base: base}, nil
}

// Links returns the absolute URLs of schedule files found in section, in
// page order and without duplicates. It never returns nil.
func (d *Document) Links(section Section) []string {
	links := make([]string, 0)
	if d == nil || d.doc == nil {
		return links
	}

	block := d.doc.Find("h2").FilterFunction(func(_ int, h *goquery.Selection) bool {
		return strings.Contains(collapseSpace(h.Text()), section.Heading)
	}).First().Next()
	if block.Length() == 0 {
		return links
	}

	scope := block
	if section.Cell >= 0 {
		scope = block.Find("table").First().
			Find("tr").Eq(1).
			ChildrenFiltered("td").Eq(section.Cell)
	}

	seen := make(map[string]struct{})
	scope.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		link := d.resolve(strings.TrimSpace(href))
		if link == "" || !strings.HasSuffix(strings.ToLower(link), ScheduleExt) {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

func (d *Document) resolve(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if d.base != nil {
		u = d.base.ResolveReference(u)
	}
	return u.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
