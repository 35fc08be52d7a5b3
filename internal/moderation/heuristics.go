package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Contact-sharing patterns, compiled once and shared by every engine.
var (
	// urlPattern matches http/https URLs, www. URLs, and common TLD patterns.
	// The bare-domain variant requires a trailing "/" to avoid false positives
	// on version strings like "v2.0" or decimal numbers like "3.14".
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches various phone number formats such as:
	//   +1-555-123-4567, (555) 123-4567, 555.123.4567
	// Anchored to whitespace/string boundaries to avoid matching random digit
	// sequences embedded in normal words or short numbers like "100".
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

const heuristicRisk = 0.3

// heuristic pairs a detection function with the tag it contributes. Matching
// heuristics only raise the risk floor; they never add penalty points.
type heuristic struct {
	tag   string
	match func(string) bool
}

// heuristics is the ordered list of checks applied after the rule table.
var heuristics = []heuristic{
	{tag: TagContact, match: func(text string) bool {
		return urlPattern.MatchString(text) || phonePattern.MatchString(text)
	}},
	{tag: TagFlooding, match: func(text string) bool {
		return hasCharFlood(text) || hasWordFlood(text)
	}},
}

// hasCharFlood reports a run of 5 or more identical runes ("nooooo",
// "!!!!!"). RE2 has no backreferences, so this is a linear scan.
func hasCharFlood(text string) bool {
	const threshold = 5

	count := 1
	prev := rune(-1)
	for _, r := range text {
		if unicode.IsSpace(r) {
			count, prev = 1, -1
			continue
		}
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood reports the same whitespace-delimited word three or more
// times in a row. Content reaches here already lower-cased.
func hasWordFlood(text string) bool {
	const threshold = 3

	words := strings.FieldsFunc(text, unicode.IsSpace)
	if len(words) < threshold {
		return false
	}

	count := 1
	prev := ""
	for _, w := range words {
		if w == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = w
		}
	}
	return false
}

// heuristicTags returns the tags of every heuristic that matches text.
func heuristicTags(text string) []string {
	var tags []string
	for _, h := range heuristics {
		if h.match(text) {
			tags = append(tags, h.tag)
		}
	}
	return tags
}
