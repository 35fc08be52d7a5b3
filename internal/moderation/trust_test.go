package moderation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrustTable_NudgeBounds(t *testing.T) {
	tt := NewTrustTable()
	assert.Equal(t, 0.0, tt.Get("u"))

	assert.Equal(t, -0.05, tt.Nudge("u", Publish))
	assert.Equal(t, -0.1, tt.Nudge("u", SoftWarn))
	assert.Equal(t, -0.1, tt.Nudge("u", Publish), "floor holds")

	for i := 0; i < 10; i++ {
		tt.Nudge("u", Block)
	}
	assert.Equal(t, 0.2, tt.Get("u"), "ceiling holds")

	tt.Reset("u")
	assert.Equal(t, 0.0, tt.Get("u"))
	assert.Equal(t, 0, tt.Len())
}

func TestTrustTable_SetClamps(t *testing.T) {
	tt := NewTrustTable()
	tt.Set("a", 5)
	tt.Set("b", -5)
	assert.Equal(t, 0.2, tt.Get("a"))
	assert.Equal(t, -0.1, tt.Get("b"))
}

func TestTrustTable_ConcurrentNudges(t *testing.T) {
	tt := NewTrustTable()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tt.Nudge("u", Hold)
		}()
	}
	wg.Wait()
	// No lost updates: three increments of 0.05.
	assert.Equal(t, 0.15, tt.Get("u"))
}
