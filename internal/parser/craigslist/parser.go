// Package craigslist parses Craigslist "free stuff" search results and
// posting detail pages.
package craigslist

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/freefinder/internal/crawler"
)

const (
	// Source prefixes every listing identifier.
	Source = "craigslist"

	searchPath  = "/search/zip"
	offsetParam = "s"
	qrCodeLabel = "QR Code Link to This Post"
)

var (
	postingIDPattern = regexp.MustCompile(`/(\d+)\.html`)
	whitespace       = regexp.MustCompile(`\s+`)

	timestampLayouts = []string{
		"2006-01-02T15:04:05-0700",
		time.RFC3339,
		"2006-01-02T15:04-0700",
	}
)

// Parser implements crawler.SiteParser for one Craigslist region.
type Parser struct {
	region string
}

// New builds a parser whose identifiers carry region.
func New(region string) *Parser {
	return &Parser{region: strings.ToLower(strings.TrimSpace(region))}
}

// SearchURL builds the free-stuff search URL.
func (p *Parser) SearchURL(query crawler.SearchQuery) (string, error) {
	region := strings.ToLower(strings.TrimSpace(query.Region))
	if region == "" {
		region = p.region
	}
	base := query.BaseURL
	if base == "" {
		if region == "" {
			return "", errors.New("region is required")
		}
		base = "https://" + region + ".craigslist.org"
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", base)
	}
	u.Path = searchPath

	params := url.Values{}
	if query.Sort != "" {
		params.Set("sort", query.Sort)
	}
	if query.Postal != "" {
		params.Set("postal", query.Postal)
		if query.SearchDistance > 0 {
			params.Set("search_distance", strconv.Itoa(query.SearchDistance))
		}
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// ParseSearchPage returns the page's listings lazily. The sequence can be
// ranged over once; later ranges yield nothing.
func (p *Parser) ParseSearchPage(body []byte, pageURL string) (iter.Seq[crawler.ListingSummary], error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: page url %q: %v", crawler.ErrParse, pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: search page: %v", crawler.ErrParse, err)
	}
	items := doc.Find("ol.cl-static-search-results li.cl-static-search-result")

	consumed := false
	return func(yield func(crawler.ListingSummary) bool) {
		if consumed {
			return
		}
		consumed = true
		for i := range items.Length() {
			summary, ok := p.summary(items.Eq(i), base)
			if !ok {
				continue
			}
			if !yield(summary) {
				return
			}
		}
	}, nil
}

func (p *Parser) summary(item *goquery.Selection, base *url.URL) (crawler.ListingSummary, bool) {
	link := item.Find("a[href]").First()
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return crawler.ListingSummary{}, false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return crawler.ListingSummary{}, false
	}
	resolved := base.ResolveReference(ref)
	postingID, ok := PostingID(resolved.Path)
	if !ok {
		return crawler.ListingSummary{}, false
	}

	title := cleanText(link.Find("div.title").Text())
	if title == "" {
		title = strings.TrimSpace(item.AttrOr("title", ""))
	}
	if title == "" {
		title = cleanText(link.Text())
	}
	return crawler.ListingSummary{
		ID:        p.ListingID(postingID),
		Title:     title,
		URL:       resolved.String(),
		PriceText: cleanText(item.Find("div.price").Text()),
		Location:  cleanText(item.Find("div.location").Text()),
	}, true
}

// ListingID formats the stable identifier for a posting.
func (p *Parser) ListingID(postingID string) string {
	return Source + ":" + p.region + ":" + postingID
}

// PostingID extracts the numeric posting id from a listing path.
func PostingID(path string) (string, bool) {
	m := postingIDPattern.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// NextPageURL advances the result offset by seen. An empty page ends paging.
func (p *Parser) NextPageURL(pageURL string, seen int) (string, bool) {
	if seen <= 0 {
		return "", false
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	params := u.Query()
	offset, err := strconv.Atoi(params.Get(offsetParam))
	if err != nil || offset < 0 {
		offset = 0
	}
	params.Set(offsetParam, strconv.Itoa(offset+seen))
	u.RawQuery = params.Encode()
	return u.String(), true
}

// ParseDetailPage extracts the posting fields from a detail page.
func (p *Parser) ParseDetailPage(body []byte) (crawler.DetailFields, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.DetailFields{}, fmt.Errorf("%w: detail page: %v", crawler.ErrParse, err)
	}

	title := cleanText(doc.Find("#titletextonly").First().Text())
	if title == "" {
		title = cleanText(doc.Find("title").First().Text())
	}
	postingBody := doc.Find("#postingbody").First()
	if title == "" && postingBody.Length() == 0 {
		return crawler.DetailFields{}, fmt.Errorf("%w: detail page has neither title nor posting body", crawler.ErrParse)
	}

	fields := crawler.DetailFields{
		Title:       title,
		Description: description(postingBody),
		Location:    location(doc),
		Price:       ParsePrice(doc.Find(".postingtitletext .price").First().Text()),
		Attributes:  attributes(doc),
	}
	if fields.Price == nil {
		fields.Price = ParsePrice(doc.Find(".price").First().Text())
	}
	fields.PostedAt, fields.UpdatedAt = timestamps(doc)
	return fields, nil
}

func description(body *goquery.Selection) string {
	if body.Length() == 0 {
		return ""
	}
	clone := body.Clone()
	clone.Find(".print-information, .print-qrcode-container, .print-qrcode-label").Remove()
	text := cleanText(clone.Text())
	return strings.TrimSpace(strings.TrimPrefix(text, qrCodeLabel))
}

func location(doc *goquery.Document) string {
	loc := cleanText(doc.Find(".postingtitletext small").First().Text())
	loc = strings.TrimSuffix(strings.TrimPrefix(loc, "("), ")")
	if loc != "" {
		return strings.TrimSpace(loc)
	}
	return cleanText(doc.Find(".mapaddress").First().Text())
}

func attributes(doc *goquery.Document) map[string]string {
	attrs := make(map[string]string)
	doc.Find(".attrgroup span").Each(func(_ int, s *goquery.Selection) {
		text := cleanText(s.Text())
		if text == "" {
			return
		}
		key, value, found := strings.Cut(text, ":")
		if !found {
			attrs[strings.ToLower(text)] = "true"
			return
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return
		}
		attrs[key] = strings.TrimSpace(value)
	})
	return attrs
}

// timestamps reads the posting info block. Each time element is classified
// by the label text around it. The first posted time wins; the latest
// updated time wins.
func timestamps(doc *goquery.Document) (posted, updated time.Time) {
	doc.Find("p.postinginfo").Each(func(_ int, info *goquery.Selection) {
		ts, ok := timeValue(info.Find("time").First())
		if !ok {
			return
		}
		label := strings.ToLower(info.Text())
		switch {
		case strings.Contains(label, "updated"):
			if ts.After(updated) {
				updated = ts
			}
		case strings.Contains(label, "posted"):
			if posted.IsZero() {
				posted = ts
			}
		}
	})
	if posted.IsZero() {
		if ts, ok := timeValue(doc.Find("time.date[datetime]").First()); ok {
			posted = ts
		}
	}
	return posted, updated
}

func timeValue(sel *goquery.Selection) (time.Time, bool) {
	if sel.Length() == 0 {
		return time.Time{}, false
	}
	raw, ok := sel.Attr("datetime")
	if !ok || strings.TrimSpace(raw) == "" {
		raw = sel.Text()
	}
	return ParseTimestamp(raw)
}

// ParseTimestamp parses the time layouts Craigslist emits and returns UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParsePrice keeps digits and dots and parses the result. It returns nil
// when nothing numeric remains.
func ParsePrice(text string) *float64 {
	digits := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, text)
	if digits == "" {
		return nil
	}
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return nil
	}
	return &v
}

func cleanText(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
