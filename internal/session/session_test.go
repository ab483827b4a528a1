package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func TestOpenGreetsOnce(t *testing.T) {
	var s State

	assert.True(t, s.Open(t0))
	assert.Equal(t, t0, s.SessionStart)

	s.IsOpen = false
	assert.False(t, s.Open(t0.Add(time.Minute)))
	assert.Equal(t, t0, s.SessionStart, "start time is kept")
}

func TestBeginSendGate(t *testing.T) {
	var s State

	assert.True(t, s.BeginSend(t0))
	assert.True(t, s.Waiting)
	assert.False(t, s.BeginSend(t0))
	assert.Equal(t, 1, s.UserMessageCount)
	assert.Equal(t, t0, s.SessionStart)

	s.EndSend()
	assert.True(t, s.BeginSend(t0))
	assert.Equal(t, 2, s.UserMessageCount)
}

func TestAdoptConversationFirstWins(t *testing.T) {
	var s State

	assert.False(t, s.AdoptConversation(""))
	assert.False(t, s.HasConversation())
	assert.True(t, s.AdoptConversation("abc"))
	assert.False(t, s.AdoptConversation("xyz"))
	assert.Equal(t, "abc", s.ConversationID)
}

func TestFeedbackDue(t *testing.T) {
	policy := FeedbackPolicy{MinDuration: 2 * time.Minute, MinMessages: 3}

	tests := []struct {
		name    string
		state   State
		elapsed time.Duration
		want    bool
	}{
		{"too early", State{SessionStart: t0, UserMessageCount: 10}, time.Minute, false},
		{"too few messages", State{SessionStart: t0, UserMessageCount: 2}, time.Hour, false},
		{"both thresholds met", State{SessionStart: t0, UserMessageCount: 3}, 2 * time.Minute, true},
		{"already shown", State{SessionStart: t0, UserMessageCount: 3, FeedbackShown: true}, time.Hour, false},
		{"never started", State{UserMessageCount: 3}, time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.FeedbackDue(t0.Add(tt.elapsed), policy))
		})
	}
}

func TestElapsedBeforeStart(t *testing.T) {
	var s State
	assert.Zero(t, s.Elapsed(t0))
}
