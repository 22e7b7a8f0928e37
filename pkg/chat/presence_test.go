package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPresence_ExpiresAfterWindow(t *testing.T) {
	clock := &manualClock{}
	changes := 0
	p := NewPresence(3*time.Second, clock.schedule, func() { changes++ })

	assert.True(t, p.Touch("u2"))
	assert.Equal(t, []string{"u2"}, p.Typing())

	clock.advance(2 * time.Second)
	assert.Equal(t, []string{"u2"}, p.Typing())

	clock.advance(time.Second)
	assert.Empty(t, p.Typing())
	assert.Equal(t, 1, changes)
}

func TestPresence_RefreshRestartsWindow(t *testing.T) {
	clock := &manualClock{}
	p := NewPresence(3*time.Second, clock.schedule, nil)

	p.Touch("u2")
	clock.advance(2 * time.Second)
	assert.False(t, p.Touch("u2"), "already shown")

	clock.advance(2 * time.Second)
	assert.Equal(t, []string{"u2"}, p.Typing(), "first timer no longer applies")

	clock.advance(time.Second)
	assert.Empty(t, p.Typing())
}

func TestPresence_SortedAndCleared(t *testing.T) {
	clock := &manualClock{}
	p := NewPresence(0, clock.schedule, nil)

	p.Touch("zed")
	p.Touch("amy")
	assert.False(t, p.Touch(""))
	assert.Equal(t, []string{"amy", "zed"}, p.Typing())

	p.Clear()
	assert.Empty(t, p.Typing())
	for _, tm := range clock.timers {
		assert.True(t, tm.stopped)
	}

	clock.advance(DefaultTypingWindow)
	assert.Empty(t, p.Typing())
}
