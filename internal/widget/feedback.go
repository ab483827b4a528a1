package widget

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"QueryWidget/internal/backend"
)

// SelectRating highlights stars 1..n. It only applies while the prompt is shown.
func (w *Widget) SelectRating(n int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return ErrNotInitialized
	}
	if w.feedback.state != FeedbackPrompting {
		return nil
	}
	if w.doc.SelectStar(n) {
		w.rating = n
	}
	return nil
}

// SetFeedbackComment replaces the free-text comment in the prompt.
func (w *Widget) SetFeedbackComment(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return ErrNotInitialized
	}
	if w.feedback.state == FeedbackPrompting {
		w.doc.SetFeedbackText(s)
	}
	return nil
}

// Rating returns the currently selected star count, 0 when none
func (w *Widget) Rating() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rating
}

// SkipFeedback dismisses the prompt without sending anything and finishes closing.
func (w *Widget) SkipFeedback() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return ErrNotInitialized
	}
	w.skipFeedbackLocked()
	return nil
}

func (w *Widget) skipFeedbackLocked() {
	if !w.feedback.fire(evSkip) {
		return
	}
	w.skipped.Add(w.ctx, 1)
	w.hideLocked()
	w.logger.Info("feedback skipped")
}

// SubmitFeedback thanks the user, posts the rating in the background and closes
// the widget after the dismiss delay. Without a conversation id nothing is posted.
func (w *Widget) SubmitFeedback() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return ErrNotInitialized
	}
	if !w.feedback.fire(evSubmitFeedback) {
		return nil
	}

	req := backend.FeedbackRequest{
		ConversationID: w.state.ConversationID,
		Rating:         w.rating,
		Description:    w.doc.FeedbackText(),
	}
	w.doc.ShowFeedbackThanks()
	w.rated.Add(w.ctx, 1, metric.WithAttributes(attribute.Int("feedback.rating", req.Rating)))

	if req.ConversationID == "" {
		w.logger.Warn("no conversation id available, feedback not sent", "rating", req.Rating)
	} else {
		w.wg.Add(1)
		go w.postFeedback(req)
	}

	w.wg.Add(1)
	time.AfterFunc(w.dismissDelay, func() {
		defer w.wg.Done()
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.feedback.fire(evDismiss) {
			w.hideLocked()
		}
	})
	return nil
}

func (w *Widget) postFeedback(req backend.FeedbackRequest) {
	defer w.wg.Done()

	resp, err := w.client.SubmitFeedback(w.ctx, req)
	if err != nil {
		w.logger.Warn("failed to submit feedback", "conversation_id", req.ConversationID, "error", err)
		return
	}
	w.logger.Info("feedback submitted",
		"conversation_id", req.ConversationID,
		"feedback_id", resp.FeedbackID,
		"rating", req.Rating,
	)
}

// hideLocked completes a close that was held open by the feedback prompt.
func (w *Widget) hideLocked() {
	w.doc.SetFeedbackVisible(false)
	w.doc.SetModalVisible(false)
	w.state.IsOpen = false
}
