package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QueryWidget/internal/backend"
	"QueryWidget/internal/config"
	"QueryWidget/internal/render"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeBackend records every request and answers chat calls with reply.
type fakeBackend struct {
	mu       sync.Mutex
	chats    []backend.ChatRequest
	feedback []backend.FeedbackRequest
	reply    func(n int, w http.ResponseWriter)
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case backend.ChatPath:
		var req backend.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.chats = append(f.chats, req)
		n := len(f.chats)
		f.mu.Unlock()
		f.reply(n, w)
	case backend.FeedbackPath:
		var req backend.FeedbackRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.feedback = append(f.feedback, req)
		f.mu.Unlock()
		w.Write([]byte(`{"success":true,"feedback_id":"FB00000001"}`))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBackend) chatRequests() []backend.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.ChatRequest(nil), f.chats...)
}

func (f *fakeBackend) feedbackRequests() []backend.FeedbackRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.FeedbackRequest(nil), f.feedback...)
}

func answer(text, conversationID string) func(int, http.ResponseWriter) {
	return func(_ int, w http.ResponseWriter) {
		json.NewEncoder(w).Encode(backend.ChatResponse{Answer: text, ConversationID: conversationID})
	}
}

func newWidget(t *testing.T, fb *fakeBackend, clock *fakeClock) *Widget {
	t.Helper()
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Widget.BaseURL = srv.URL
	cfg.Widget.Name = "Acme Help"
	cfg.ChatbotID = "bot-1"
	cfg.Feedback.DismissDelay = 0

	w, err := New(cfg,
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	require.NoError(t, w.Init(context.Background()))
	t.Cleanup(w.Wait)
	return w
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func messages(t *testing.T, w *Widget) []render.Bubble {
	t.Helper()
	var out []render.Bubble
	require.NoError(t, w.View(func(d *render.Document) { out = d.Messages() }))
	return out
}

func sendAndWait(t *testing.T, w *Widget, text string) {
	t.Helper()
	sent, err := w.Send(text)
	require.NoError(t, err)
	require.True(t, sent)
	w.Wait()
}

func TestEventsBeforeInit(t *testing.T) {
	w, err := New(config.Default())
	require.NoError(t, err)

	assert.ErrorIs(t, w.ToggleWidget(), ErrNotInitialized)
	_, err = w.Send("hi")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, w.SubmitFeedback(), ErrNotInitialized)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Widget.BaseURL = "not a url"
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestInitMountsClosedWidget(t *testing.T) {
	w := newWidget(t, &fakeBackend{reply: answer("ok", "")}, newClock())
	require.NoError(t, w.Init(context.Background()))

	require.NoError(t, w.View(func(d *render.Document) {
		assert.False(t, d.ModalVisible())
		assert.Equal(t, 1, strings.Count(d.Render(), `id="`+render.IDRoot+`"`))
	}))
	assert.Len(t, w.Dependencies(), 2)
	assert.False(t, w.State().IsOpen)
}

func TestGreetingShownOnce(t *testing.T) {
	w := newWidget(t, &fakeBackend{reply: answer("ok", "")}, newClock())

	require.NoError(t, w.ToggleWidget())
	require.NoError(t, w.ToggleWidget())
	require.NoError(t, w.ToggleWidget())

	msgs := messages(t, w)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].FromUser)
	assert.Equal(t, Greeting, strings.TrimSpace(msgs[0].Text()))

	require.NoError(t, w.View(func(d *render.Document) {
		assert.True(t, d.ModalVisible())
		assert.Equal(t, render.IDInput, d.Focused())
	}))
	assert.True(t, w.State().GreetingSent)
}

func TestSendIsGatedWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	fb := &fakeBackend{reply: func(_ int, rw http.ResponseWriter) {
		<-release
		rw.Write([]byte(`{"answer":"first answer","conversation_id":"C1"}`))
	}}
	w := newWidget(t, fb, newClock())

	sent, err := w.Send("hello")
	require.NoError(t, err)
	require.True(t, sent)

	assert.Equal(t, Waiting, w.MessagingState())
	assert.True(t, w.State().Waiting)
	require.NoError(t, w.View(func(d *render.Document) {
		assert.True(t, d.TypingVisible())
		assert.False(t, d.InputEnabled())
		assert.Empty(t, d.InputValue())
	}))

	sent, err = w.Send("second")
	require.NoError(t, err)
	assert.False(t, sent)
	require.NoError(t, w.SetInput("third"))
	sent, err = w.PressKey("Enter", false)
	require.NoError(t, err)
	assert.False(t, sent)

	close(release)
	w.Wait()

	assert.Equal(t, Idle, w.MessagingState())
	st := w.State()
	assert.False(t, st.Waiting)
	assert.Equal(t, 1, st.UserMessageCount)
	assert.Len(t, fb.chatRequests(), 1)

	require.NoError(t, w.View(func(d *render.Document) {
		assert.False(t, d.TypingVisible())
		assert.True(t, d.InputEnabled())
	}))
	msgs := messages(t, w)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].FromUser)
	assert.Equal(t, "hello", msgs[0].Text())
	assert.Contains(t, msgs[1].Text(), "first answer")
}

func TestRefusedSlotLeavesWidgetUntouched(t *testing.T) {
	fb := &fakeBackend{reply: answer("ok", "")}
	w := newWidget(t, fb, newClock())

	w.mu.Lock()
	w.state.Waiting = true
	w.mu.Unlock()

	sent, err := w.Send("hello")
	require.NoError(t, err)
	assert.False(t, sent)

	assert.Equal(t, Idle, w.MessagingState())
	assert.Equal(t, 0, w.State().UserMessageCount)
	assert.Empty(t, messages(t, w))
	assert.Empty(t, fb.chatRequests())
	require.NoError(t, w.View(func(d *render.Document) {
		assert.False(t, d.TypingVisible())
		assert.True(t, d.InputEnabled())
		assert.Equal(t, "hello", d.InputValue())
	}))
}

func TestWaitingAgreesWithMachine(t *testing.T) {
	release := make(chan struct{})
	fb := &fakeBackend{reply: func(_ int, rw http.ResponseWriter) {
		<-release
		rw.Write([]byte(`{"answer":"ok","conversation_id":"C1"}`))
	}}
	w := newWidget(t, fb, newClock())

	for i := 0; i < 3; i++ {
		sent, err := w.Send("question")
		require.NoError(t, err)
		require.True(t, sent)
		assert.True(t, w.State().Waiting)
		assert.Equal(t, Waiting, w.MessagingState())

		release <- struct{}{}
		w.Wait()
		assert.False(t, w.State().Waiting)
		assert.Equal(t, Idle, w.MessagingState())
	}
	assert.Equal(t, 3, w.State().UserMessageCount)
}

func TestCloseDoesNotCancelPendingRequest(t *testing.T) {
	release := make(chan struct{})
	fb := &fakeBackend{reply: func(_ int, rw http.ResponseWriter) {
		<-release
		rw.Write([]byte(`{"answer":"late answer","conversation_id":"C1"}`))
	}}
	w := newWidget(t, fb, newClock())

	require.NoError(t, w.ToggleWidget())
	sent, err := w.Send("hello")
	require.NoError(t, err)
	require.True(t, sent)

	require.NoError(t, w.ToggleWidget())
	assert.False(t, w.State().IsOpen)
	assert.Equal(t, Waiting, w.MessagingState())

	close(release)
	w.Wait()

	assert.Equal(t, "C1", w.State().ConversationID)
	assert.Equal(t, Idle, w.MessagingState())

	require.NoError(t, w.ToggleWidget())
	msgs := messages(t, w)
	require.Len(t, msgs, 3)
	assert.Equal(t, Greeting, strings.TrimSpace(msgs[0].Text()))
	assert.Equal(t, "hello", msgs[1].Text())
	assert.Contains(t, msgs[2].Text(), "late answer")
	require.NoError(t, w.View(func(d *render.Document) {
		assert.True(t, d.InputEnabled())
		assert.False(t, d.TypingVisible())
	}))
}

func TestInstancesAreIndependent(t *testing.T) {
	fb := &fakeBackend{reply: func(n int, rw http.ResponseWriter) {
		json.NewEncoder(rw).Encode(backend.ChatResponse{Answer: "ok", ConversationID: fmt.Sprintf("C%d", n)})
	}}
	a := newWidget(t, fb, newClock())
	b := newWidget(t, fb, newClock())

	sendAndWait(t, a, "from a")
	sendAndWait(t, b, "from b")
	sendAndWait(t, a, "again from a")

	assert.Equal(t, "C1", a.State().ConversationID)
	assert.Equal(t, "C2", b.State().ConversationID)
	assert.Equal(t, 2, a.State().UserMessageCount)
	assert.Equal(t, 1, b.State().UserMessageCount)
	assert.Len(t, messages(t, a), 4)
	assert.Len(t, messages(t, b), 2)

	reqs := fb.chatRequests()
	require.Len(t, reqs, 3)
	require.NotNil(t, reqs[2].ConversationID)
	assert.Equal(t, "C1", *reqs[2].ConversationID)
}

func TestBlankInputIsNotSent(t *testing.T) {
	fb := &fakeBackend{reply: answer("ok", "")}
	w := newWidget(t, fb, newClock())

	for _, in := range []string{"", "   ", "\n\t"} {
		sent, err := w.Send(in)
		require.NoError(t, err)
		assert.False(t, sent)
	}
	assert.Empty(t, fb.chatRequests())
	assert.Empty(t, messages(t, w))
	assert.Equal(t, 0, w.State().UserMessageCount)
}

func TestSendTrimsInput(t *testing.T) {
	fb := &fakeBackend{reply: answer("ok", "")}
	w := newWidget(t, fb, newClock())

	sendAndWait(t, w, "  what are your hours?  ")

	reqs := fb.chatRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "what are your hours?", reqs[0].Query)
	assert.Equal(t, "bot-1", reqs[0].ChatbotID)
	assert.Nil(t, reqs[0].ConversationID)
}

func TestShiftEnterAddsLineBreak(t *testing.T) {
	fb := &fakeBackend{reply: answer("ok", "")}
	w := newWidget(t, fb, newClock())

	require.NoError(t, w.SetInput("line one"))
	sent, err := w.PressKey("Enter", true)
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, w.View(func(d *render.Document) {
		assert.Equal(t, "line one\n", d.InputValue())
	}))
	assert.Empty(t, fb.chatRequests())

	sent, err = w.PressKey("a", false)
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = w.PressKey("Enter", false)
	require.NoError(t, err)
	assert.True(t, sent)
	w.Wait()
	assert.Equal(t, "line one", fb.chatRequests()[0].Query)
}

func TestFirstConversationIDWins(t *testing.T) {
	ids := []string{"AAAA", "BBBB", ""}
	fb := &fakeBackend{reply: func(n int, rw http.ResponseWriter) {
		json.NewEncoder(rw).Encode(backend.ChatResponse{Answer: "ok", ConversationID: ids[n-1]})
	}}
	w := newWidget(t, fb, newClock())

	sendAndWait(t, w, "one")
	sendAndWait(t, w, "two")
	sendAndWait(t, w, "three")

	assert.Equal(t, "AAAA", w.State().ConversationID)
	reqs := fb.chatRequests()
	require.Len(t, reqs, 3)
	assert.Nil(t, reqs[0].ConversationID)
	for _, r := range reqs[1:] {
		require.NotNil(t, r.ConversationID)
		assert.Equal(t, "AAAA", *r.ConversationID)
	}
	assert.Equal(t, 3, w.State().UserMessageCount)
}

func TestFailuresShowFailureMessage(t *testing.T) {
	tests := []struct {
		name  string
		reply func(int, http.ResponseWriter)
	}{
		{"server error", func(_ int, rw http.ResponseWriter) {
			rw.WriteHeader(http.StatusInternalServerError)
			rw.Write([]byte(`{"error":"boom"}`))
		}},
		{"error field", func(_ int, rw http.ResponseWriter) {
			rw.Write([]byte(`{"error":"No active plan found."}`))
		}},
		{"malformed", func(_ int, rw http.ResponseWriter) {
			rw.Write([]byte(`<html>`))
		}},
		{"null body", func(_ int, rw http.ResponseWriter) {
			rw.Write([]byte(`null`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWidget(t, &fakeBackend{reply: tt.reply}, newClock())

			sendAndWait(t, w, "hello")

			msgs := messages(t, w)
			require.Len(t, msgs, 2)
			assert.Equal(t, FailureMessage, strings.TrimSpace(msgs[1].Text()))
			assert.NotContains(t, msgs[1].Text(), "boom")
			assert.Equal(t, Idle, w.MessagingState())
			assert.False(t, w.State().Waiting)
			st := w.State()
			assert.False(t, st.HasConversation())
			require.NoError(t, w.View(func(d *render.Document) {
				assert.True(t, d.InputEnabled())
				assert.False(t, d.TypingVisible())
			}))

			// the widget stays usable
			sendAndWait(t, w, "again")
			assert.Equal(t, 2, w.State().UserMessageCount)
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := config.Default()
	cfg.Widget.BaseURL = url
	w, err := New(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, w.Init(context.Background()))

	sendAndWait(t, w, "hello")

	msgs := messages(t, w)
	require.Len(t, msgs, 2)
	assert.Equal(t, FailureMessage, strings.TrimSpace(msgs[1].Text()))
	assert.Equal(t, Idle, w.MessagingState())
}

func TestAnswerRenderedAsMarkdown(t *testing.T) {
	fb := &fakeBackend{reply: answer("**bold** <script>alert(1)</script>", "")}
	w := newWidget(t, fb, newClock())

	sendAndWait(t, w, "<b>literal</b>")

	msgs := messages(t, w)
	require.Len(t, msgs, 2)
	assert.Equal(t, "<b>literal</b>", msgs[0].Text())
	assert.Contains(t, msgs[0].HTML(), "&lt;b&gt;")
	assert.Contains(t, msgs[1].HTML(), "<strong>bold</strong>")
	assert.NotContains(t, msgs[1].HTML(), "<script")
}

func TestEmptyAnswerAddsNoBubble(t *testing.T) {
	w := newWidget(t, &fakeBackend{reply: answer("", "C1")}, newClock())

	sendAndWait(t, w, "hello")

	assert.Len(t, messages(t, w), 1)
	assert.Equal(t, "C1", w.State().ConversationID)
}

// engaged opens the widget and sends n messages, then moves the clock past d.
func engaged(t *testing.T, w *Widget, clock *fakeClock, n int, d time.Duration) {
	t.Helper()
	require.NoError(t, w.ToggleWidget())
	for i := 0; i < n; i++ {
		sendAndWait(t, w, "question")
	}
	clock.Advance(d)
}

func TestFeedbackThresholds(t *testing.T) {
	tests := []struct {
		name     string
		messages int
		elapsed  time.Duration
		prompt   bool
	}{
		{"too short", 5, 2 * time.Second, false},
		{"too few messages", 2, time.Minute, false},
		{"both met", 3, 6 * time.Second, true},
		{"well past", 4, time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			w := newWidget(t, &fakeBackend{reply: answer("ok", "C1")}, clock)
			engaged(t, w, clock, tt.messages, tt.elapsed)

			require.NoError(t, w.ToggleWidget())

			assert.False(t, w.State().IsOpen)
			require.NoError(t, w.View(func(d *render.Document) {
				assert.Equal(t, tt.prompt, d.FeedbackVisible())
				assert.Equal(t, tt.prompt, d.ModalVisible())
			}))
			if tt.prompt {
				assert.Equal(t, FeedbackPrompting, w.FeedbackState())
			} else {
				assert.Equal(t, FeedbackHidden, w.FeedbackState())
			}
		})
	}
}

func TestFeedbackShownAtMostOnce(t *testing.T) {
	clock := newClock()
	w := newWidget(t, &fakeBackend{reply: answer("ok", "C1")}, clock)
	engaged(t, w, clock, 3, 10*time.Second)

	require.NoError(t, w.ToggleWidget())
	require.Equal(t, FeedbackPrompting, w.FeedbackState())
	require.NoError(t, w.SkipFeedback())

	require.NoError(t, w.ToggleWidget())
	sendAndWait(t, w, "more")
	clock.Advance(time.Minute)
	require.NoError(t, w.ToggleWidget())

	assert.Equal(t, FeedbackHidden, w.FeedbackState())
	require.NoError(t, w.View(func(d *render.Document) {
		assert.False(t, d.ModalVisible())
		assert.False(t, d.FeedbackVisible())
	}))
	assert.True(t, w.State().FeedbackShown)
}

func TestToggleWhilePromptingSkips(t *testing.T) {
	clock := newClock()
	fb := &fakeBackend{reply: answer("ok", "C1")}
	w := newWidget(t, fb, clock)
	engaged(t, w, clock, 3, 10*time.Second)

	require.NoError(t, w.ToggleWidget())
	require.NoError(t, w.HandleAction(render.ActionToggle))

	assert.Equal(t, FeedbackHidden, w.FeedbackState())
	assert.False(t, w.State().IsOpen)
	require.NoError(t, w.View(func(d *render.Document) {
		assert.False(t, d.ModalVisible())
	}))
	assert.Empty(t, fb.feedbackRequests())
}

func TestSubmitFeedback(t *testing.T) {
	clock := newClock()
	fb := &fakeBackend{reply: answer("ok", "CONV123456")}
	w := newWidget(t, fb, clock)
	engaged(t, w, clock, 3, 10*time.Second)
	require.NoError(t, w.ToggleWidget())

	require.NoError(t, w.SelectRating(7))
	assert.Equal(t, 0, w.Rating())
	require.NoError(t, w.SelectRating(4))
	require.NoError(t, w.SetFeedbackComment("very helpful"))
	assert.Equal(t, 4, w.Rating())

	require.NoError(t, w.HandleAction(render.ActionSubmit))
	w.Wait()

	reqs := fb.feedbackRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, backend.FeedbackRequest{ConversationID: "CONV123456", Rating: 4, Description: "very helpful"}, reqs[0])

	assert.Equal(t, FeedbackHidden, w.FeedbackState())
	assert.False(t, w.State().IsOpen)
	require.NoError(t, w.View(func(d *render.Document) {
		assert.Contains(t, d.FeedbackContentText(), render.ThanksTitle)
		assert.False(t, d.FeedbackVisible())
		assert.False(t, d.ModalVisible())
	}))
}

func TestSubmitFeedbackShowsThanksBeforeDismiss(t *testing.T) {
	clock := newClock()
	fb := &fakeBackend{reply: answer("ok", "C1")}
	srv := httptest.NewServer(fb)
	defer srv.Close()

	cfg := config.Default()
	cfg.Widget.BaseURL = srv.URL
	cfg.Feedback.DismissDelay = time.Hour
	w, err := New(cfg, WithClock(clock.Now), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, w.Init(context.Background()))
	engaged(t, w, clock, 3, 10*time.Second)
	require.NoError(t, w.ToggleWidget())

	require.NoError(t, w.SelectRating(5))
	require.NoError(t, w.SubmitFeedback())

	assert.Equal(t, FeedbackThanking, w.FeedbackState())
	require.NoError(t, w.ToggleWidget())
	require.NoError(t, w.SubmitFeedback())
	assert.Equal(t, FeedbackThanking, w.FeedbackState())
	require.NoError(t, w.View(func(d *render.Document) {
		assert.True(t, d.FeedbackVisible())
		assert.Contains(t, d.FeedbackContentText(), render.ThanksBody)
	}))
}

func TestSubmitFeedbackWithoutConversation(t *testing.T) {
	clock := newClock()
	fb := &fakeBackend{reply: answer("ok", "")}
	w := newWidget(t, fb, clock)
	engaged(t, w, clock, 3, 10*time.Second)
	require.NoError(t, w.ToggleWidget())
	require.Equal(t, FeedbackPrompting, w.FeedbackState())

	require.NoError(t, w.SelectRating(3))
	require.NoError(t, w.SubmitFeedback())
	w.Wait()

	assert.Empty(t, fb.feedbackRequests())
	assert.Equal(t, FeedbackHidden, w.FeedbackState())
}

func TestFeedbackControlsIgnoredWhenHidden(t *testing.T) {
	w := newWidget(t, &fakeBackend{reply: answer("ok", "C1")}, newClock())

	require.NoError(t, w.SelectRating(3))
	require.NoError(t, w.SubmitFeedback())
	require.NoError(t, w.SkipFeedback())

	assert.Equal(t, 0, w.Rating())
	assert.Equal(t, FeedbackHidden, w.FeedbackState())
}

func TestHandleActionUnknown(t *testing.T) {
	w := newWidget(t, &fakeBackend{reply: answer("ok", "")}, newClock())
	assert.Error(t, w.HandleAction("explode"))
}
