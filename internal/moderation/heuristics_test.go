package moderation

import (
	"slices"
	"testing"
)

// TestHeuristics_Contact verifies that URLs and phone numbers are tagged as
// contact sharing.
func TestHeuristics_Contact(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"http url", "check out http://evil.com"},
		{"https url", "visit https://spam.xyz/click"},
		{"www url", "go to www.phishing.net"},
		{"bare domain with path", "visit evil.com/free"},
		{"bare domain .io path", "check app.io/signup"},
		{"intl dashed phone", "+1-555-123-4567"},
		{"parenthesized area code", "(555) 123-4567"},
		{"dotted phone", "555.123.4567"},
		{"phone in sentence", "call me at 555-123-4567 okay?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags := heuristicTags(tt.input)
			if !slices.Contains(tags, TagContact) {
				t.Errorf("heuristicTags(%q) = %v, want %q", tt.input, tags, TagContact)
			}
		})
	}
}

// TestHeuristics_Flooding verifies character and word flooding.
func TestHeuristics_Flooding(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		flagged bool
	}{
		{"repeated o in word", "hellooooooo", true},
		{"repeated exclamation", "wow!!!!!", true},
		{"exactly 5 repeated chars", "aaaaa", true},
		{"exactly 4 repeated chars", "aaaa", false},
		{"buy x3", "buy buy buy", true},
		{"in sentence", "hey buy buy buy now", true},
		{"two repeats ok", "go go", false},
		{"wide spacing is not flooding", "a     b", false},
		{"persian word flood", "سلام سلام سلام", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := slices.Contains(heuristicTags(tt.input), TagFlooding)
			if got != tt.flagged {
				t.Errorf("flooding(%q) = %v, want %v", tt.input, got, tt.flagged)
			}
		})
	}
}

// TestHeuristics_CleanMessages ensures ordinary chat is not flagged.
func TestHeuristics_CleanMessages(t *testing.T) {
	clean := []string{
		"I have 3 cats",
		"My score is 100",
		"upgrade to v2.0",
		"pi is about 3.14",
		"how are you doing today?",
		"I got 42 out of 50",
		"see you in 2025",
		"wow!!! that's great!!",
		"sooo cool",
		"yeah yeah whatever",
		"ok. sure. fine.",
		"it costs $5.99",
		"hello\nworld",
		"",
	}

	for _, input := range clean {
		if tags := heuristicTags(input); len(tags) != 0 {
			t.Errorf("heuristicTags(%q) = %v, expected clean", input, tags)
		}
	}
}
