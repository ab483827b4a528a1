// Package session holds the per-page conversation state of one widget instance.
// Nothing here is persisted; a State lives exactly as long as its widget.
package session

import "time"

// FeedbackPolicy decides when the rating prompt is offered on close
type FeedbackPolicy struct {
	MinDuration time.Duration
	MinMessages int
}

// State is the mutable widget session. It is not safe for concurrent use;
// the widget serializes every access.
type State struct {
	IsOpen           bool
	ConversationID   string // Empty until the backend assigns one
	GreetingSent     bool
	Waiting          bool
	SessionStart     time.Time // Zero until the widget is first opened or used
	UserMessageCount int
	FeedbackShown    bool
}

// HasConversation reports whether the backend has assigned a conversation id
func (s *State) HasConversation() bool {
	return s.ConversationID != ""
}

// Start records the session start time unless it is already set.
func (s *State) Start(now time.Time) {
	if s.SessionStart.IsZero() {
		s.SessionStart = now
	}
}

// Elapsed returns how long the session has run; zero before it starts.
func (s *State) Elapsed(now time.Time) time.Duration {
	if s.SessionStart.IsZero() {
		return 0
	}
	return now.Sub(s.SessionStart)
}

// Open marks the widget open and reports whether the greeting still has to be shown.
// The greeting is claimed here so it is displayed exactly once per session.
func (s *State) Open(now time.Time) (greet bool) {
	s.IsOpen = true
	s.Start(now)
	if s.GreetingSent {
		return false
	}
	s.GreetingSent = true
	return true
}

// BeginSend claims the single in-flight slot. It returns false, changing nothing,
// while a request is already outstanding.
func (s *State) BeginSend(now time.Time) bool {
	if s.Waiting {
		return false
	}
	s.Waiting = true
	s.Start(now)
	s.UserMessageCount++
	return true
}

// EndSend releases the in-flight slot.
func (s *State) EndSend() {
	s.Waiting = false
}

// AdoptConversation stores id if none is set yet. The first id wins and later
// ones are ignored; it reports whether id was adopted.
func (s *State) AdoptConversation(id string) bool {
	if id == "" || s.ConversationID != "" {
		return false
	}
	s.ConversationID = id
	return true
}

// FeedbackDue reports whether closing now should show the rating prompt.
func (s *State) FeedbackDue(now time.Time, p FeedbackPolicy) bool {
	if s.FeedbackShown {
		return false
	}
	return s.Elapsed(now) >= p.MinDuration && s.UserMessageCount >= p.MinMessages
}
