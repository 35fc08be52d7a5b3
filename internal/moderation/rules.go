package moderation

import (
	"regexp"
	"strings"
)

// Rule is one entry of the ordered policy table. A rule fires when its
// keyword is a substring of the normalised content.
type Rule struct {
	Keyword string
	Tag     string
	Risk    float64
	Penalty int
	// Critical rules keep their risk even after a favourable trust
	// adjustment.
	Critical bool
}

// Policy tags produced by the engine.
const (
	TagSelfHarm       = "self-harm"
	TagThreat         = "threat"
	TagFraud          = "fraud"
	TagIntegrity      = "integrity"
	TagInvestmentScam = "investment scam"
	TagOffPlatform    = "off-platform"
	TagInsult         = "insult"
	TagLongMessage    = "long message"
	TagContact        = "contact sharing"
	TagFlooding       = "flooding"
)

// DefaultRules returns the built-in policy table. Keywords cover the Persian
// and English phrasing seen in event chats.
func DefaultRules() []Rule {
	return []Rule{
		{Keyword: "خودکشی", Tag: TagSelfHarm, Risk: 0.9, Penalty: 10, Critical: true},
		{Keyword: "suicide", Tag: TagSelfHarm, Risk: 0.9, Penalty: 10, Critical: true},
		{Keyword: "kill yourself", Tag: TagSelfHarm, Risk: 0.9, Penalty: 10, Critical: true},
		{Keyword: "تهدید", Tag: TagThreat, Risk: 0.75, Penalty: 6},
		{Keyword: "i will hurt", Tag: TagThreat, Risk: 0.75, Penalty: 6},
		{Keyword: "کلاهبرداری", Tag: TagFraud, Risk: 0.7, Penalty: 5},
		{Keyword: "wire the money", Tag: TagFraud, Risk: 0.7, Penalty: 5},
		{Keyword: "answer key", Tag: TagIntegrity, Risk: 0.55, Penalty: 3},
		{Keyword: "لو رفته", Tag: TagIntegrity, Risk: 0.55, Penalty: 3},
		{Keyword: "guaranteed return", Tag: TagInvestmentScam, Risk: 0.5, Penalty: 2},
		{Keyword: "سود تضمینی", Tag: TagInvestmentScam, Risk: 0.5, Penalty: 2},
		{Keyword: "dm me", Tag: TagOffPlatform, Risk: 0.35, Penalty: 1},
		{Keyword: "تلگرام", Tag: TagOffPlatform, Risk: 0.35, Penalty: 1},
	}
}

// DefaultProfanity is the built-in insult word list.
var DefaultProfanity = []string{"idiot", "stupid", "moron", "jerk", "احمق", "خفه شو"}

const (
	profanityRisk    = 0.6
	profanityPenalty = 4
)

// CompileProfanity builds a case-insensitive whole-word matcher for words.
// RE2's \b only understands ASCII word characters, so boundaries are spelled
// out with Unicode letter and digit classes to work for Persian too.
func CompileProfanity(words []string) *regexp.Regexp {
	if len(words) == 0 {
		return nil
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(normalize(w))
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{M}\p{N}_])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{M}\p{N}_])`)
}
