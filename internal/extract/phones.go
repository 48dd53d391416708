package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Phone candidates are scored by the context they were found in, then the
// distinct valid numbers are returned ordered by descending total score.
// A number found in several contexts accumulates every context's score, so
// a click-to-call number that also sits next to a "Phone" label outranks a
// label-only number.
const (
	scoreLabelAdjacent = 1000
	scoreTelLink       = 500
	scoreContactBlock  = 200
	scoreAnywhere      = 10

	labelWindow = 200
	maxPhones   = 5
)

var (
	phoneLabel = regexp.MustCompile(`(?i)phone`)

	// phonePatterns capture (area, exchange, line) in common US formats.
	// Area and exchange must start 2-9; leading 0/1 is rejected up front.
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\(?([2-9]\d{2})\)?[\s.\-]?([2-9]\d{2})[\s.\-]?(\d{4})`),
		regexp.MustCompile(`\+?1?[\s.\-]?\(?([2-9]\d{2})\)?[\s.\-]?([2-9]\d{2})[\s.\-]?(\d{4})`),
	}

	nonDigit = regexp.MustCompile(`\D`)
)

// contactSelectors mark structural regions whose numbers are likely the
// business's own: contact blocks, footers, headers.
var contactSelectors = []string{
	".contact", "#contact", `[class*="contact"]`, `[id*="contact"]`,
	"footer", ".footer", "#footer", "header", ".header",
}

// ExtractPhones scans doc and text for phone numbers and returns the valid
// distinct numbers ordered by extraction priority, capped at maxPhones.
// doc may be nil (unparseable markup); text scanning still applies.
func ExtractPhones(doc *goquery.Document, text string, isContactPage bool) []string {
	scores := make(map[string]int)

	// Numbers within labelWindow characters after the word "Phone".
	for _, loc := range phoneLabel.FindAllStringIndex(text, -1) {
		end := loc[0] + labelWindow
		if end > len(text) {
			end = len(text)
		}
		scoreSection(scores, text[loc[0]:end], scoreLabelAdjacent)
	}

	// Click-to-call links.
	if doc != nil {
		doc.Find(`a[href^="tel:"]`).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			digits := nonDigit.ReplaceAllString(strings.TrimPrefix(href, "tel:"), "")
			if len(digits) == 11 && digits[0] == '1' {
				digits = digits[1:]
			}
			if len(digits) != 10 {
				return
			}
			if formatted, ok := validatePhone(digits[:3], digits[3:6], digits[6:]); ok {
				scores[formatted] += scoreTelLink
			}
		})

		// Contact, footer and header blocks.
		for _, sel := range contactSelectors {
			doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
				scoreSection(scores, s.Text(), scoreContactBlock)
			})
		}
	}

	// Whole-page scan, lowest priority. Skipped on dedicated contact pages
	// where every number already hit a higher-priority context.
	if !isContactPage {
		scoreSection(scores, text, scoreAnywhere)
	}

	return rankPhones(scores)
}

// scoreSection finds every candidate number in section and adds priority to
// its score once per pattern occurrence set.
func scoreSection(scores map[string]int, section string, priority int) {
	seen := make(map[string]struct{})
	for _, pattern := range phonePatterns {
		for _, m := range pattern.FindAllStringSubmatch(section, -1) {
			if len(m) != 4 {
				continue
			}
			formatted, ok := validatePhone(m[1], m[2], m[3])
			if !ok {
				continue
			}
			if _, dup := seen[formatted]; dup {
				continue
			}
			seen[formatted] = struct{}{}
			scores[formatted] += priority
		}
	}
}

// validatePhone applies the structural validity rules and returns the
// canonical "(AAA) PPP-LLLL" rendering.
func validatePhone(area, exchange, line string) (string, bool) {
	if len(area) != 3 || len(exchange) != 3 || len(line) != 4 {
		return "", false
	}
	if area[0] == '0' || area[0] == '1' || exchange[0] == '0' || exchange[0] == '1' {
		return "", false
	}
	full := area + exchange + line
	if hasInvalidSequence(full) {
		return "", false
	}
	return fmt.Sprintf("(%s) %s-%s", area, exchange, line), true
}

// invalidPrefixes reject numbers that open with an all-repeated or
// straight-run triplet; these are overwhelmingly demo and placeholder
// numbers, not real lines.
var invalidPrefixes = []string{
	"000", "111", "222", "333", "444", "555", "666", "777", "888", "999",
	"123", "234", "345", "456", "567", "678", "789",
}

func hasInvalidSequence(digits string) bool {
	for _, prefix := range invalidPrefixes {
		if strings.HasPrefix(digits, prefix) {
			return true
		}
	}
	// A digit repeated seven or more times in a row.
	run := 1
	for i := 1; i < len(digits); i++ {
		if digits[i] == digits[i-1] {
			run++
			if run >= 7 {
				return true
			}
		} else {
			run = 1
		}
	}
	// All ten digits identical.
	allSame := true
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			allSame = false
			break
		}
	}
	return allSame
}

// rankPhones orders numbers by descending score, breaking ties by the
// canonical string so output is deterministic.
func rankPhones(scores map[string]int) []string {
	if len(scores) == 0 {
		return nil
	}
	type scored struct {
		phone string
		score int
	}
	ranked := make([]scored, 0, len(scores))
	for phone, score := range scores {
		ranked = append(ranked, scored{phone, score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].phone < ranked[j].phone
	})
	if len(ranked) > maxPhones {
		ranked = ranked[:maxPhones]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.phone
	}
	return out
}
