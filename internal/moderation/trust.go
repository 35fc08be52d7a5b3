package moderation

import (
	"math"

	"github.com/puzpuzpuz/xsync/v3"
)

// Trust adjustment bounds and step.
const (
	TrustFloor   = -0.1
	TrustCeiling = 0.2
	TrustStep    = 0.05
)

// TrustTable holds the per-user trust adjustment added to every computed
// risk. Values live only in memory and reset with the process. The table is
// owned by whoever constructs it and handed to the engine explicitly.
type TrustTable struct {
	m *xsync.MapOf[string, float64]
}

// NewTrustTable returns an empty table; unknown users have adjustment 0.
func NewTrustTable() *TrustTable {
	return &TrustTable{m: xsync.NewMapOf[string, float64]()}
}

// Get returns the user's current adjustment.
func (t *TrustTable) Get(userID string) float64 {
	v, _ := t.m.Load(userID)
	return v
}

// Nudge moves the user's adjustment after a decision: published outcomes earn
// trust (down to TrustFloor), anything else adds suspicion (up to
// TrustCeiling). The read-modify-write is atomic per user. Returns the new
// value.
func (t *TrustTable) Nudge(userID string, d Decision) float64 {
	next, _ := t.m.Compute(userID, func(old float64, _ bool) (float64, bool) {
		if d.Published() {
			return round2(math.Max(TrustFloor, old-TrustStep)), false
		}
		return round2(math.Min(TrustCeiling, old+TrustStep)), false
	})
	return next
}

// Set overrides a user's adjustment, clamped to the allowed range.
func (t *TrustTable) Set(userID string, v float64) {
	t.m.Store(userID, round2(clamp(v, TrustFloor, TrustCeiling)))
}

// Reset forgets the user's adjustment.
func (t *TrustTable) Reset(userID string) {
	t.m.Delete(userID)
}

// Len returns the number of users with a recorded adjustment.
func (t *TrustTable) Len() int {
	return t.m.Size()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
