package devserver

import (
	"context"
	"fmt"
	"strings"
)

// Query is what a Responder answers
type Query struct {
	ChatbotID      string
	ConversationID string
	Text           string
	History        []Message // Earlier turns, oldest first, excluding Text
}

// Responder produces the bot's Markdown answer for a query.
type Responder interface {
	Respond(ctx context.Context, q Query) (string, error)
}

// ResponderFunc adapts a function to Responder
type ResponderFunc func(ctx context.Context, q Query) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, q Query) (string, error) { return f(ctx, q) }

// EchoResponder acknowledges each question in Markdown. It stands in for a real
// answer generator during local development.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, q Query) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You asked: **%s**\n", escapeMarkdown(q.Text))
	fmt.Fprintf(&b, "This is message %d in conversation `%s`.\n", len(q.History)/2+1, q.ConversationID)
	b.WriteString("\n- chatbot: " + q.ChatbotID)
	return b.String(), nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, `*`, `\*`, `_`, `\_`, "`", "\\`", `[`, `\[`, `]`, `\]`, `<`, `&lt;`, `>`, `&gt;`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
