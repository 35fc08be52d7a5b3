package moderation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventhub/chat-moderation/internal/chat"
)

func TestEngine_PlainContent(t *testing.T) {
	e := NewEngine(NewTrustTable())

	res := e.Moderate("user-1", chat.ChannelParticipant, "Looking forward to the demo day")
	assert.Equal(t, 0.05, res.Risk)
	assert.Equal(t, Publish, res.Decision)
	assert.Equal(t, 0, res.Penalty)
	assert.Empty(t, res.Tags)
	assert.Equal(t, Publish.Note(), res.Notes)
}

func TestEngine_RuleTable(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		risk     float64
		decision Decision
		penalty  int
		tags     []string
	}{
		{"off-platform", "just DM me for details", 0.35, SoftWarn, 1, []string{TagOffPlatform}},
		{"off-platform persian", "بیا تلگرام", 0.35, SoftWarn, 1, []string{TagOffPlatform}},
		{"investment scam", "Guaranteed return of 30%", 0.5, Hold, 2, []string{TagInvestmentScam}},
		{"integrity", "who has the answer key", 0.55, Hold, 3, []string{TagIntegrity}},
		{"insult", "you are an idiot", 0.6, Hold, 4, []string{TagInsult}},
		{"insult persian", "خفه شو لطفا", 0.6, Hold, 4, []string{TagInsult}},
		{"fraud", "please wire the money today", 0.7, Block, 5, []string{TagFraud}},
		{"threat", "I will hurt you", 0.75, Block, 6, []string{TagThreat}},
		{"self-harm", "thinking about suicide", 0.9, BlockAndReport, 10, []string{TagSelfHarm}},
		{"max across rules", "dm me, I will hurt you", 0.75, Block, 6, []string{TagOffPlatform, TagThreat}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(NewTrustTable())
			res := e.Moderate("user-1", chat.ChannelJudge, tt.content)
			assert.Equal(t, tt.risk, res.Risk)
			assert.Equal(t, tt.decision, res.Decision)
			assert.Equal(t, tt.penalty, res.Penalty)
			assert.ElementsMatch(t, tt.tags, res.Tags)
		})
	}
}

func TestEngine_ProfanityWholeWordOnly(t *testing.T) {
	e := NewEngine(NewTrustTable())
	res := e.Moderate("u", chat.ChannelMentor, "what a stupidity-free design")
	assert.NotContains(t, res.Tags, TagInsult)
}

func TestEngine_LongMessage(t *testing.T) {
	e := NewEngine(NewTrustTable())
	content := strings.Repeat("ab cd ", 101)
	require.Greater(t, len([]rune(content)), LongMessageRunes)

	res := e.Moderate("u", chat.ChannelAdmin, content)
	assert.Equal(t, []string{TagLongMessage}, res.Tags)
	assert.Equal(t, 0.3, res.Risk)
	assert.Equal(t, SoftWarn, res.Decision)
	assert.Equal(t, 0, res.Penalty)

	exact := strings.Repeat("x y ", LongMessageRunes/4)
	res = e.Moderate("v", chat.ChannelAdmin, exact)
	assert.NotContains(t, res.Tags, TagLongMessage)
}

func TestEngine_SelfHarmAlwaysBlockAndReport(t *testing.T) {
	trust := NewTrustTable()
	trust.Set("trusted", TrustFloor)
	e := NewEngine(trust)

	contents := []string{
		"خودکشی",
		"سلام خودکشی",
		"great demo! خودکشی and also dm me",
		strings.Repeat("hello there ", 60) + "خودکشی",
	}
	for _, c := range contents {
		for _, user := range []string{"trusted", "fresh"} {
			trust.Set("trusted", TrustFloor)
			res := e.Moderate(user, chat.ChannelParticipant, c)
			assert.Equal(t, BlockAndReport, res.Decision, "user %s content %q", user, c)
			assert.GreaterOrEqual(t, res.Penalty, 10)
			assert.Contains(t, res.Tags, TagSelfHarm)
		}
	}
}

func TestEngine_CaseAndNormalisation(t *testing.T) {
	e := NewEngine(NewTrustTable())
	res := e.Moderate("u", chat.ChannelJudge, "SUICIDE")
	assert.Equal(t, BlockAndReport, res.Decision)

	// E plus a combining acute accent composes to the precomposed keyword.
	e = NewEngine(NewTrustTable(), WithRules([]Rule{{Keyword: "caf\u00e9 scam", Tag: TagFraud, Risk: 0.7, Penalty: 5}}))
	res = e.Moderate("u", chat.ChannelJudge, "the CAFE\u0301 SCAM again")
	assert.Equal(t, []string{TagFraud}, res.Tags)
}

func TestEngine_TrustDecreasesWithPublish(t *testing.T) {
	trust := NewTrustTable()
	e := NewEngine(trust)

	prev := trust.Get("u")
	for i := 0; i < 2; i++ {
		res := e.Moderate("u", chat.ChannelParticipant, "nice pitch")
		require.Equal(t, Publish, res.Decision)
		assert.Less(t, trust.Get("u"), prev)
		prev = trust.Get("u")
	}
	for i := 0; i < 5; i++ {
		e.Moderate("u", chat.ChannelParticipant, "nice pitch")
	}
	assert.Equal(t, TrustFloor, trust.Get("u"))

	// Trust lowers borderline content: 0.35 - 0.1 = 0.25.
	res := e.Moderate("u", chat.ChannelParticipant, "dm me")
	assert.Equal(t, 0.25, res.Risk)
	assert.Equal(t, SoftWarn, res.Decision)
}

func TestEngine_SuspicionRaisesRisk(t *testing.T) {
	trust := NewTrustTable()
	e := NewEngine(trust)

	res := e.Moderate("u", chat.ChannelInvestor, "you idiot")
	require.Equal(t, Hold, res.Decision)
	assert.Equal(t, 0.05, trust.Get("u"))

	res = e.Moderate("u", chat.ChannelInvestor, "hello again")
	assert.Equal(t, 0.1, res.Risk)
	assert.Equal(t, Publish, res.Decision)

	trust.Set("u", TrustCeiling)
	res = e.Moderate("u", chat.ChannelInvestor, "dm me")
	assert.Equal(t, 0.55, res.Risk)
	assert.Equal(t, Hold, res.Decision)
	assert.Equal(t, 1, res.Penalty)
}

func TestEngine_RiskAndPenaltyBounds(t *testing.T) {
	trust := NewTrustTable()
	e := NewEngine(trust)
	inputs := []string{
		"",
		"hi",
		"suicide kill yourself i will hurt wire the money answer key guaranteed return dm me idiot",
		strings.Repeat("!", 2000),
		"visit http://evil.com/x now now now",
		"خودکشی تهدید کلاهبرداری لو رفته سود تضمینی تلگرام احمق",
	}
	for round := 0; round < 3; round++ {
		for _, in := range inputs {
			res := e.Moderate("bounds", chat.ChannelAdmin, in)
			assert.GreaterOrEqual(t, res.Risk, 0.0)
			assert.LessOrEqual(t, res.Risk, 1.0)
			assert.GreaterOrEqual(t, res.Penalty, 0)
			assert.Equal(t, res.Decision, Classify(res.Risk))
		}
	}
}

func TestEngine_HeuristicsToggle(t *testing.T) {
	content := "call 555-123-4567"

	res := NewEngine(NewTrustTable()).Moderate("u", chat.ChannelMentor, content)
	assert.Equal(t, []string{TagContact}, res.Tags)
	assert.Equal(t, SoftWarn, res.Decision)

	res = NewEngine(NewTrustTable(), WithHeuristics(false)).Moderate("u", chat.ChannelMentor, content)
	assert.Empty(t, res.Tags)
	assert.Equal(t, NoiseFloor, res.Risk)
	assert.Equal(t, Publish, res.Decision)
}

func TestEngine_ResultTagsAreFresh(t *testing.T) {
	e := NewEngine(NewTrustTable())
	a := e.Moderate("a", chat.ChannelJudge, "dm me")
	a.Tags[0] = "mutated"
	b := e.Moderate("b", chat.ChannelJudge, "dm me")
	assert.Equal(t, []string{TagOffPlatform}, b.Tags)
}
