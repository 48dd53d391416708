// Package extract turns raw page markup into normalized contact fields.
// All functions are pure and deterministic for identical input. Extraction
// never fails: a field that cannot be found is simply absent.
package extract

import (
	"bytes"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxEmails      = 5
	maxAddresses   = 3
	addressMinLen  = 10
	addressMaxLen  = 300
	nameMaxLen     = 200
	descriptionMax = 500
)

// Fields holds every contact signal extracted from a single page.
// Phones are ordered by descending extraction priority; the first entry is
// the primary contact number. Emails are deduplicated and sorted.
type Fields struct {
	Name        string            `json:"name,omitempty"`
	Phones      []string          `json:"phones,omitempty"`
	Emails      []string          `json:"emails,omitempty"`
	Addresses   []string          `json:"addresses,omitempty"`
	Social      map[string]string `json:"social,omitempty"`
	Description string            `json:"description,omitempty"`
}

// HasPhone reports whether at least one valid phone number was found.
func (f Fields) HasPhone() bool {
	return len(f.Phones) > 0
}

// PrimaryPhone returns the highest-priority phone number, or "" if none.
func (f Fields) PrimaryPhone() string {
	if len(f.Phones) == 0 {
		return ""
	}
	return f.Phones[0]
}

// Extract parses html and returns every contact field it can find.
// isContactPage suppresses the lowest-priority "anywhere in text" phone
// scan, which on dedicated contact pages only adds noise. Malformed markup
// degrades to text-only extraction rather than returning an error.
func Extract(html []byte, isContactPage bool) Fields {
	var doc *goquery.Document
	if parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(html)); err == nil {
		doc = parsed
	}

	text := string(html)
	if doc != nil {
		text = doc.Text()
	}

	fields := Fields{
		Phones:    ExtractPhones(doc, text, isContactPage),
		Emails:    extractEmails(doc, text),
		Social:    extractSocial(string(html)),
		Addresses: extractAddresses(doc),
	}
	if doc != nil {
		fields.Name = extractName(doc)
		fields.Description = extractDescription(doc)
	}
	return fields
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// emailDenylist rejects placeholder domains and addresses that are really
// asset filenames (image names with @2x retina suffixes match the pattern).
var emailDenylist = []string{
	"example.com", "test.com", "domain.com", "email.com",
	"sentry", "wixpress",
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg",
}

func extractEmails(doc *goquery.Document, text string) []string {
	seen := make(map[string]struct{})

	if doc != nil {
		doc.Find(`a[href^="mailto:"]`).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			if m := emailPattern.FindString(href); m != "" {
				addEmail(seen, m)
			}
		})
	}
	for _, m := range emailPattern.FindAllString(text, -1) {
		addEmail(seen, m)
	}

	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	if len(out) > maxEmails {
		out = out[:maxEmails]
	}
	return out
}

func addEmail(seen map[string]struct{}, email string) {
	lower := strings.ToLower(email)
	for _, deny := range emailDenylist {
		if strings.Contains(lower, deny) {
			return
		}
	}
	seen[lower] = struct{}{}
}

// socialPatterns match profile URLs by platform domain. Ordering matters
// only for determinism of the scan, not the result map.
var socialPatterns = []struct {
	platform string
	re       *regexp.Regexp
}{
	{"facebook", regexp.MustCompile(`(?i)facebook\.com/[\w.\-]+`)},
	{"instagram", regexp.MustCompile(`(?i)instagram\.com/[\w.\-]+`)},
	{"linkedin", regexp.MustCompile(`(?i)linkedin\.com/(?:company|in)/[\w.\-]+`)},
	{"twitter", regexp.MustCompile(`(?i)(?:twitter|x)\.com/[\w.\-]+`)},
	{"youtube", regexp.MustCompile(`(?i)youtube\.com/[\w.\-@]+`)},
}

func extractSocial(html string) map[string]string {
	var social map[string]string
	for _, sp := range socialPatterns {
		m := sp.re.FindString(html)
		if m == "" {
			continue
		}
		if social == nil {
			social = make(map[string]string)
		}
		social[sp.platform] = "https://" + m
	}
	return social
}

var addressSelectors = []string{
	"address",
	`[itemprop="streetAddress"]`,
	`[class*="address"]`,
	`[id*="address"]`,
	`[class*="location"]`,
}

func extractAddresses(doc *goquery.Document) []string {
	if doc == nil {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	for _, sel := range addressSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if len(out) >= maxAddresses {
				return
			}
			addr := collapseWhitespace(s.Text())
			if len(addr) < addressMinLen {
				return
			}
			if len(addr) > addressMaxLen {
				addr = addr[:addressMaxLen]
			}
			if _, dup := seen[addr]; dup {
				return
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		})
	}
	return out
}

var nameSuffix = regexp.MustCompile(`\s*[|\-–—].*$`)

func extractName(doc *goquery.Document) string {
	candidates := []string{
		doc.Find(`meta[property="og:title"]`).AttrOr("content", ""),
		doc.Find("title").First().Text(),
		doc.Find("h1").First().Text(),
	}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		lower := strings.ToLower(c)
		if strings.Contains(c, "403") || strings.Contains(lower, "forbidden") {
			continue
		}
		c = strings.TrimSpace(nameSuffix.ReplaceAllString(c, ""))
		if c == "" {
			continue
		}
		if len(c) > nameMaxLen {
			c = c[:nameMaxLen]
		}
		return c
	}
	return ""
}

func extractDescription(doc *goquery.Document) string {
	desc := strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	if len(desc) > descriptionMax {
		desc = desc[:descriptionMax]
	}
	return desc
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
