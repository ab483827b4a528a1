package widget

import (
	"strings"

	"QueryWidget/internal/backend"
)

// SetInput replaces the text in the message box.
func (w *Widget) SetInput(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return ErrNotInitialized
	}
	w.doc.SetInputValue(s)
	return nil
}

// ClickSend is the send button. It reports whether a message was dispatched.
func (w *Widget) ClickSend() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return false, ErrNotInitialized
	}
	if !w.doc.InputEnabled() {
		return false, nil
	}
	return w.submitLocked(w.doc.InputValue()), nil
}

// PressKey is a key press in the message box. Enter sends; Shift+Enter adds a
// line break. While sending is disabled Enter does nothing.
func (w *Widget) PressKey(key string, shift bool) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return false, ErrNotInitialized
	}
	if key != "Enter" {
		return false, nil
	}
	if shift {
		w.doc.SetInputValue(w.doc.InputValue() + "\n")
		return false, nil
	}
	if !w.doc.InputEnabled() {
		return false, nil
	}
	return w.submitLocked(w.doc.InputValue()), nil
}

// Send types text into the message box and clicks send.
func (w *Widget) Send(text string) (bool, error) {
	if err := w.SetInput(text); err != nil {
		return false, err
	}
	return w.ClickSend()
}

func (w *Widget) submitLocked(input string) bool {
	text := strings.TrimSpace(input)
	if text == "" || !w.messaging.can(evSubmit) {
		return false
	}
	// The session slot and the machine move together; a refused slot leaves
	// both the document and the machine untouched.
	if !w.state.BeginSend(w.now()) {
		w.logger.Warn("send refused, request already in flight")
		return false
	}
	w.messaging.fire(evSubmit)

	w.doc.SetInputValue("")
	w.doc.DisplayMessage(text, true)
	w.doc.ShowTypingIndicator()
	w.doc.SetInputEnabled(false)

	req := backend.ChatRequest{Query: text, ChatbotID: w.chatbotID}
	if w.state.HasConversation() {
		id := w.state.ConversationID
		req.ConversationID = &id
	}

	w.sent.Add(w.ctx, 1)
	w.logger.Debug("sending message", "length", len(text), "user_messages", w.state.UserMessageCount)

	w.wg.Add(1)
	go w.exchange(req)
	return true
}

func (w *Widget) exchange(req backend.ChatRequest) {
	defer w.wg.Done()

	out := w.client.Chat(w.ctx, req)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.resolveLocked(out)
}

// resolveLocked applies a finished exchange. Every outcome ends with sending
// re-enabled and the machine back in Idle.
func (w *Widget) resolveLocked(out backend.ChatOutcome) {
	w.doc.RemoveTypingIndicator()

	if out.OK() {
		resp := out.Response
		if w.state.AdoptConversation(resp.ConversationID) {
			w.logger.Info("conversation started", "conversation_id", resp.ConversationID)
		} else if resp.ConversationID != "" && resp.ConversationID != w.state.ConversationID {
			w.logger.Warn("ignoring conversation id change",
				"conversation_id", w.state.ConversationID, "received", resp.ConversationID)
		}
		if resp.Answer != "" {
			w.doc.DisplayMessage(resp.Answer, false)
		}
	} else {
		w.failed.Add(w.ctx, 1)
		w.logger.Error("chat request failed",
			"outcome", out.Kind.String(), "status", out.Status, "error", out.Err)
		w.doc.DisplayMessage(FailureMessage, false)
	}

	w.state.EndSend()
	w.doc.SetInputEnabled(true)
	w.messaging.fire(evResolve)
}
