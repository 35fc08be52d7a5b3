package moderation

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/eventhub/chat-moderation/internal/chat"
)

// Scoring constants.
const (
	NoiseFloor          = 0.05
	LongMessageRunes    = 600
	longMessageRisk     = 0.3
	classifyGranularity = 1e9
)

// Result is the outcome of moderating one message. Each call returns a fresh
// value; callers own the Tags slice.
type Result struct {
	Risk     float64
	Tags     []string
	Decision Decision
	Notes    string
	Penalty  int
}

// Moderator scores a message. Engine is the built-in implementation; an
// external classifier can satisfy the same contract.
type Moderator interface {
	Moderate(userID string, ch chat.Channel, content string) Result
}

// Engine is the deterministic rule-based Moderator. It is safe for
// concurrent use.
type Engine struct {
	rules       []Rule
	profanity   *regexp.Regexp
	heuristics  bool
	longMessage int
	trust       *TrustTable
}

// Option configures an Engine.
type Option func(*Engine)

// WithRules replaces the default policy table.
func WithRules(rules []Rule) Option {
	return func(e *Engine) { e.rules = rules }
}

// WithProfanity replaces the default insult word list. An empty list
// disables the check.
func WithProfanity(words []string) Option {
	return func(e *Engine) { e.profanity = CompileProfanity(words) }
}

// WithHeuristics toggles the contact-sharing and flooding checks.
func WithHeuristics(enabled bool) Option {
	return func(e *Engine) { e.heuristics = enabled }
}

// WithLongMessageRunes changes the length above which a message is tagged
// as long.
func WithLongMessageRunes(n int) Option {
	return func(e *Engine) { e.longMessage = n }
}

// NewEngine builds an engine that reads and updates trust. A nil table gets a
// private one.
func NewEngine(trust *TrustTable, opts ...Option) *Engine {
	if trust == nil {
		trust = NewTrustTable()
	}
	e := &Engine{
		rules:       DefaultRules(),
		profanity:   CompileProfanity(DefaultProfanity),
		heuristics:  true,
		longMessage: LongMessageRunes,
		trust:       trust,
	}
	for _, opt := range opts {
		opt(e)
	}
	// Keywords go through the same normalisation as content.
	rules := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		r.Keyword = normalize(r.Keyword)
		rules[i] = r
	}
	e.rules = rules
	return e
}

// Trust exposes the engine's trust table.
func (e *Engine) Trust() *TrustTable {
	return e.trust
}

// Moderate scores content sent by userID on ch and updates the user's trust
// adjustment. Content that hits no rule, no profanity and no heuristic and is
// not long scores NoiseFloor before trust. The contact and flooding
// heuristics are on by default and lift a hit to at least 0.3 (SoftWarn);
// WithHeuristics(false) restores the rule-table-only scoring.
func (e *Engine) Moderate(userID string, ch chat.Channel, content string) Result {
	text := normalize(content)

	risk := NoiseFloor
	penalty := 0
	critical := 0.0
	tags := make([]string, 0, 4)

	for _, r := range e.rules {
		if r.Keyword == "" || !strings.Contains(text, r.Keyword) {
			continue
		}
		tags = append(tags, r.Tag)
		risk = math.Max(risk, r.Risk)
		penalty = max(penalty, r.Penalty)
		if r.Critical {
			critical = math.Max(critical, r.Risk)
		}
	}

	if e.profanity != nil && e.profanity.MatchString(text) {
		tags = append(tags, TagInsult)
		risk = math.Max(risk, profanityRisk)
		penalty = max(penalty, profanityPenalty)
	}

	if utf8.RuneCountInString(text) > e.longMessage {
		tags = append(tags, TagLongMessage)
		risk = math.Max(risk, longMessageRisk)
	}

	if e.heuristics {
		if hits := heuristicTags(text); len(hits) > 0 {
			tags = append(tags, hits...)
			risk = math.Max(risk, heuristicRisk)
		}
	}

	risk = clamp(risk+e.trust.Get(userID), 0, 1)
	if critical > risk {
		risk = critical
	}
	// Sums of two-decimal inputs pick up float noise; snap it away so a
	// score that should sit on a bucket edge classifies as written.
	risk = math.Round(risk*classifyGranularity) / classifyGranularity

	decision := Classify(risk)
	penalty = decision.ApplyPenaltyFloor(penalty)
	e.trust.Nudge(userID, decision)

	return Result{
		Risk:     round2(risk),
		Tags:     chat.NormalizeTags(tags),
		Decision: decision,
		Notes:    decision.Note(),
		Penalty:  penalty,
	}
}

// normalize composes content to NFC and lower-cases it. A Caser carries
// state, so one is built per call.
func normalize(s string) string {
	return cases.Lower(language.Und).String(norm.NFC.String(s))
}
