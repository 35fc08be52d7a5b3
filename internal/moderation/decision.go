// Package moderation scores chat messages with a deterministic rule engine.
// An Engine maps (user, channel, content) to a risk score, policy tags, a
// decision and penalty points, and keeps a small per-user trust adjustment
// that nudges future scores.
package moderation

import "fmt"

// Decision is the engine's five-way classification of a message.
type Decision int

const (
	Publish Decision = iota
	SoftWarn
	Hold
	Block
	BlockAndReport
)

// Decisions lists every decision from least to most severe.
var Decisions = []Decision{Publish, SoftWarn, Hold, Block, BlockAndReport}

func (d Decision) String() string {
	switch d {
	case Publish:
		return "Publish"
	case SoftWarn:
		return "SoftWarn"
	case Hold:
		return "Hold"
	case Block:
		return "Block"
	case BlockAndReport:
		return "BlockAndReport"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Note is the fixed human-readable explanation attached to a decision.
func (d Decision) Note() string {
	switch d {
	case Publish:
		return "Message published."
	case SoftWarn:
		return "Message published with a warning. Please keep the conversation respectful."
	case Hold:
		return "Message held for moderator review."
	case Block:
		return "Message blocked for violating the chat policy."
	case BlockAndReport:
		return "Message blocked and reported to the event safety team."
	default:
		return ""
	}
}

// PenaltyFloor returns the minimum penalty a decision carries and whether the
// decision forces the penalty to exactly that value.
func (d Decision) PenaltyFloor() (floor int, forced bool) {
	switch d {
	case Publish:
		return 0, true
	case SoftWarn:
		return 0, false
	case Hold:
		return 1, false
	case Block:
		return 3, false
	case BlockAndReport:
		return 5, false
	default:
		return 0, false
	}
}

// ApplyPenaltyFloor combines a rule-derived penalty with the decision floor.
func (d Decision) ApplyPenaltyFloor(penalty int) int {
	floor, forced := d.PenaltyFloor()
	if forced {
		return floor
	}
	if penalty < floor {
		return floor
	}
	return penalty
}

// Published reports whether messages with this decision become visible to the
// whole channel.
func (d Decision) Published() bool {
	return d == Publish || d == SoftWarn
}

type bucket struct {
	upper    float64
	decision Decision
}

// buckets is scanned in order; upper bounds are inclusive.
var buckets = []bucket{
	{0.2, Publish},
	{0.4, SoftWarn},
	{0.6, Hold},
	{0.8, Block},
}

// Classify maps a risk score to its decision bucket.
func Classify(risk float64) Decision {
	for _, b := range buckets {
		if risk <= b.upper {
			return b.decision
		}
	}
	return BlockAndReport
}
