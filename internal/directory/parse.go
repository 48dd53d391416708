package directory

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/scrapex/contact-crawler/internal/scrape"
)

const (
	nameMaxLen     = 200
	addressMaxLen  = 300
	categoryMaxLen = 100
)

var (
	listingClassHint  = regexp.MustCompile(`(?i)member|business|listing|company|directory-item|result`)
	nameClassHint     = regexp.MustCompile(`(?i)name|title|business`)
	websiteTextHint   = regexp.MustCompile(`(?i)website|visit|view`)
	websiteClassHint  = regexp.MustCompile(`(?i)website|url|link`)
	addressClassHint  = regexp.MustCompile(`(?i)address|location`)
	categoryClassHint = regexp.MustCompile(`(?i)category|type|industry`)
	paginationHint    = regexp.MustCompile(`(?i)pag`)
	listingPhone      = regexp.MustCompile(`\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)
	whitespaceRun     = regexp.MustCompile(`\s+`)
)

// linkDenylist rejects hrefs that are never business websites: social
// platforms, non-http schemes, static assets, and common directory-site
// navigation paths.
var linkDenylist = []string{
	"facebook.com", "twitter.com", "instagram.com", "linkedin.com",
	"youtube.com", "pinterest.com", "tiktok.com",
	"mailto:", "tel:", "javascript:", "#",
	"/login", "/register", "/about", "/contact", "/privacy", "/terms",
	".pdf", ".jpg", ".png", ".gif",
}

type parsedPage struct {
	listings   []scrape.ListingRecord
	pagination []string
}

// parseListingPage extracts listings and pagination links from one
// directory page. Structured listing containers are tried first; when
// those yield fewer than minStructuredListings, a fallback scan over
// every outbound link runs as well.
func parseListingPage(body []byte, base *url.URL, sourceURL string) parsedPage {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return parsedPage{}
	}

	seen := make(map[string]struct{})
	var listings []scrape.ListingRecord

	doc.Find("div, li, article").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		if !listingClassHint.MatchString(class) {
			return
		}
		rec, ok := listingFromContainer(s, base, sourceURL)
		if !ok {
			return
		}
		if _, dup := seen[rec.SiteURL]; dup {
			return
		}
		seen[rec.SiteURL] = struct{}{}
		listings = append(listings, rec)
	})

	if len(listings) < minStructuredListings {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			text := cleanText(s.Text(), nameMaxLen)
			if !isCandidateLink(href) {
				return
			}
			resolved := resolveExternal(href, base)
			if resolved == "" {
				return
			}
			if _, dup := seen[resolved]; dup {
				return
			}
			seen[resolved] = struct{}{}
			listings = append(listings, scrape.ListingRecord{
				SourceDirectoryURL: sourceURL,
				BusinessName:       text,
				SiteURL:            resolved,
			})
		})
	}

	return parsedPage{
		listings:   listings,
		pagination: paginationLinks(doc, base),
	}
}

// listingFromContainer pulls a name, outbound link, and any phone,
// address, or category text from one structured listing element. A
// listing without a resolvable external website is dropped: there is
// nothing to scrape downstream.
func listingFromContainer(s *goquery.Selection, base *url.URL, sourceURL string) (scrape.ListingRecord, bool) {
	rec := scrape.ListingRecord{SourceDirectoryURL: sourceURL}

	name := s.Find("h2, h3, h4, a").FilterFunction(func(_ int, el *goquery.Selection) bool {
		class, _ := el.Attr("class")
		return nameClassHint.MatchString(class)
	}).First()
	if name.Length() == 0 {
		name = s.Find("h2, h3, h4").First()
	}
	rec.BusinessName = cleanText(name.Text(), nameMaxLen)

	rec.SiteURL = websiteFromContainer(s, base)
	if rec.SiteURL == "" {
		return scrape.ListingRecord{}, false
	}

	if m := listingPhone.FindString(s.Text()); m != "" {
		rec.Phone = m
	}
	rec.Address = cleanText(findByClass(s, addressClassHint).Text(), addressMaxLen)
	rec.Category = cleanText(findByClass(s, categoryClassHint).Text(), categoryMaxLen)

	return rec, true
}

func websiteFromContainer(s *goquery.Selection, base *url.URL) string {
	// Prefer links explicitly labelled as the business website.
	var hit string
	s.Find("a[href]").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		class, _ := el.Attr("class")
		if websiteTextHint.MatchString(el.Text()) || websiteClassHint.MatchString(class) {
			if href, ok := el.Attr("href"); ok {
				if resolved := resolveExternal(href, base); resolved != "" {
					hit = resolved
					return false
				}
			}
		}
		return true
	})
	if hit != "" {
		return hit
	}
	// Otherwise any external link inside the container.
	s.Find("a[href]").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		href, _ := el.Attr("href")
		if resolved := resolveExternal(href, base); resolved != "" {
			hit = resolved
			return false
		}
		return true
	})
	return hit
}

func findByClass(s *goquery.Selection, hint *regexp.Regexp) *goquery.Selection {
	return s.Find("*").FilterFunction(func(_ int, el *goquery.Selection) bool {
		class, _ := el.Attr("class")
		return hint.MatchString(class)
	}).First()
}

// paginationLinks collects hrefs inside elements whose class hints at
// pagination, resolved and deduplicated, capped at maxPaginationLinks.
func paginationLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var out []string
	doc.Find("div, nav, ul").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		if !paginationHint.MatchString(class) {
			return
		}
		s.Find("a[href]").Each(func(_ int, el *goquery.Selection) {
			if len(out) >= maxPaginationLinks {
				return
			}
			href, _ := el.Attr("href")
			if href == "" || strings.HasPrefix(href, "#") {
				return
			}
			resolved := resolveURL(href, base)
			if resolved == "" || resolved == base.String() {
				return
			}
			if _, dup := seen[resolved]; dup {
				return
			}
			seen[resolved] = struct{}{}
			out = append(out, resolved)
		})
	})
	return out
}

func isCandidateLink(href string) bool {
	lower := strings.ToLower(href)
	for _, deny := range linkDenylist {
		if strings.Contains(lower, deny) {
			return false
		}
	}
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://")
}

// resolveURL absolutizes href against base, normalizing scheme and host
// casing and stripping fragments so dedup keys are stable.
func resolveURL(href string, base *url.URL) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	resolved.Scheme = strings.ToLower(resolved.Scheme)
	resolved.Host = strings.ToLower(resolved.Host)
	resolved.Fragment = ""
	if resolved.Host == "" {
		return ""
	}
	return resolved.String()
}

// resolveExternal returns the absolute URL only when it points off the
// directory's own domain.
func resolveExternal(href string, base *url.URL) string {
	resolved := resolveURL(href, base)
	if resolved == "" {
		return ""
	}
	parsed, err := url.Parse(resolved)
	if err != nil {
		return ""
	}
	if strings.EqualFold(parsed.Hostname(), base.Hostname()) {
		return ""
	}
	return resolved
}

func cleanText(s string, max int) string {
	s = strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
	if len(s) > max {
		s = s[:max]
	}
	return s
}
