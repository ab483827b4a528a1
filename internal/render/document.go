// Package render owns the widget's DOM subtree. It holds no business logic:
// callers decide what to show and when, the Document only builds and mutates nodes.
//
// A Document is not safe for concurrent use.
package render

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"QueryWidget/internal/cache"
	"QueryWidget/internal/config"
	"QueryWidget/internal/deps"
)

// ErrNotMounted is returned by operations that need the widget markup.
var ErrNotMounted = errors.New("widget not mounted")

// Outcome describes how a bubble's content was produced
type Outcome int

const (
	OutcomePlain    Outcome = iota // Literal text, no markup interpreted
	OutcomeRich                    // Markdown passed through the sanitizer
	OutcomeFallback                // Markdown with the built-in script/handler stripping
)

const attrOutcome = "data-outcome"

func parseOutcome(s string) Outcome {
	for _, o := range []Outcome{OutcomeRich, OutcomeFallback} {
		if s == o.String() {
			return o
		}
	}
	return OutcomePlain
}

func (o Outcome) String() string {
	switch o {
	case OutcomePlain:
		return "plain"
	case OutcomeRich:
		return "rich"
	case OutcomeFallback:
		return "fallback"
	default:
		return "outcome(" + strconv.Itoa(int(o)) + ")"
	}
}

// Bubble is one rendered chat message
type Bubble struct {
	FromUser bool
	Outcome  Outcome
	node     *html.Node
}

// Text returns the visible text of the bubble
func (b Bubble) Text() string { return textContent(b.node) }

// HTML returns the serialized content of the bubble
func (b Bubble) HTML() string { return innerHTML(b.node) }

type rendered struct {
	html    string
	outcome Outcome
}

// Option configures a Document
type Option func(*Document)

// WithHost mounts into an existing host page instead of an empty one.
func WithHost(page string) Option {
	return func(d *Document) { d.hostPage = page }
}

// WithCacheSize memoizes up to n rendered bot messages.
func WithCacheSize(n int) Option {
	return func(d *Document) { d.cache = cache.New[rendered](n) }
}

// OnAppend registers a hook called after every bubble is appended.
func OnAppend(fn func(Bubble)) Option {
	return func(d *Document) { d.onAppend = fn }
}

// WithLogger sets the logger used for rendering fallbacks.
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) { d.logger = l }
}

// Document is the host page plus the mounted widget subtree
type Document struct {
	caps     deps.Capabilities
	cache    *cache.Store[rendered]
	logger   *slog.Logger
	onAppend func(Bubble)
	hostPage string

	root    *html.Node
	head    *html.Node
	body    *html.Node
	mounted bool

	widget, modal, messages, input, send *html.Node
	feedback, feedbackContent            *html.Node
	stars                                []*html.Node

	typing   *html.Node
	scrolled *html.Node
	focused  string
}

// NewDocument creates a document rendering bot messages with caps.
func NewDocument(caps deps.Capabilities, opts ...Option) (*Document, error) {
	d := &Document{
		caps:     caps,
		logger:   slog.Default(),
		hostPage: "<!DOCTYPE html><html><head></head><body></body></html>",
	}
	for _, opt := range opts {
		opt(d)
	}

	root, err := html.Parse(strings.NewReader(d.hostPage))
	if err != nil {
		return nil, fmt.Errorf("failed to parse host page: %w", err)
	}
	d.root = root
	d.head = byAtom(root, atom.Head)
	d.body = byAtom(root, atom.Body)
	if d.head == nil || d.body == nil {
		return nil, errors.New("host page has no head or body")
	}
	return d, nil
}

// Mount injects the styles and widget markup, closed. Only the first call has an effect.
func (d *Document) Mount(cfg config.WidgetConfig) error {
	if d.mounted {
		return nil
	}

	markup, err := widgetMarkup(cfg)
	if err != nil {
		return fmt.Errorf("failed to build widget markup: %w", err)
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), d.body)
	if err != nil {
		return fmt.Errorf("failed to parse widget markup: %w", err)
	}

	style := element(atom.Style, "id", IDStyles)
	style.AppendChild(text(styles))
	d.head.AppendChild(style)

	container := element(atom.Div)
	for _, n := range nodes {
		container.AppendChild(n)
	}
	d.body.AppendChild(container)

	d.widget = byID(container, IDRoot)
	d.modal = byID(container, IDModal)
	d.messages = byID(container, IDMessages)
	d.input = byID(container, IDInput)
	d.send = byID(container, IDSend)
	d.feedback = byID(container, IDFeedback)
	d.feedbackContent = byID(container, IDFeedbackContent)
	d.stars = findAll(container, func(n *html.Node) bool { return hasClass(n, ClassStar) })

	d.mounted = true
	return nil
}

// Mounted reports whether Mount has run
func (d *Document) Mounted() bool { return d.mounted }

// DisplayMessage appends a chat bubble and scrolls to it. User text is always
// inserted as a text node; bot text is rendered as sanitized Markdown.
func (d *Document) DisplayMessage(message string, fromUser bool) (Bubble, error) {
	if !d.mounted {
		return Bubble{}, ErrNotMounted
	}

	class := ClassBotMsg
	if fromUser {
		class = ClassUserMsg
	}
	div := element(atom.Div, "class", ClassMessage+" "+class)

	b := Bubble{FromUser: fromUser, Outcome: OutcomePlain, node: div}
	if fromUser {
		div.AppendChild(text(message))
	} else {
		b.Outcome = d.renderBot(div, message)
	}

	setAttr(div, attrOutcome, b.Outcome.String())
	d.messages.AppendChild(div)
	d.scrollToEnd()

	if d.onAppend != nil {
		d.onAppend(b)
	}
	return b, nil
}

func (d *Document) renderBot(div *html.Node, message string) Outcome {
	r, ok := d.richHTML(message)
	if !ok {
		div.AppendChild(text(message))
		return OutcomePlain
	}

	nodes, err := html.ParseFragment(strings.NewReader(r.html), div)
	if err != nil {
		d.logger.Warn("failed to parse rendered message, showing text", "error", err)
		div.AppendChild(text(message))
		return OutcomePlain
	}
	for _, n := range nodes {
		div.AppendChild(n)
	}
	if r.outcome == OutcomeFallback {
		stripUnsafe(div)
	}
	return r.outcome
}

func (d *Document) richHTML(message string) (rendered, bool) {
	if d.caps.Markdown == nil {
		return rendered{}, false
	}

	var key string
	if d.cache != nil {
		key = cache.Key(strconv.FormatBool(d.caps.Sanitizer != nil), message)
		if r, ok := d.cache.Get(key); ok {
			return r, true
		}
	}

	raw, err := d.caps.Markdown.Convert(message)
	if err != nil {
		d.logger.Warn("failed to render markdown, showing text", "error", err)
		return rendered{}, false
	}

	r := rendered{html: raw, outcome: OutcomeFallback}
	if d.caps.Sanitizer != nil {
		r = rendered{html: d.caps.Sanitizer.Sanitize(raw), outcome: OutcomeRich}
	}

	if d.cache != nil {
		d.cache.Put(key, r)
	}
	return r, true
}

func (d *Document) scrollToEnd() {
	d.scrolled = d.messages.LastChild
}

// ScrolledToEnd reports whether the last node in the message list was scrolled into view
func (d *Document) ScrolledToEnd() bool {
	return d.mounted && d.scrolled != nil && d.scrolled == d.messages.LastChild
}

// Messages reads the bubbles back from the message list in display order.
// The tree is the only record, so anything removed from it is gone here too.
func (d *Document) Messages() []Bubble {
	if !d.mounted {
		return nil
	}
	var out []Bubble
	for n := d.messages.FirstChild; n != nil; n = n.NextSibling {
		if !hasClass(n, ClassMessage) {
			continue
		}
		v, _ := attr(n, attrOutcome)
		out = append(out, Bubble{FromUser: hasClass(n, ClassUserMsg), Outcome: parseOutcome(v), node: n})
	}
	return out
}

// ShowTypingIndicator appends the transient typing placeholder if it is not already shown.
func (d *Document) ShowTypingIndicator() {
	if !d.mounted || d.typing != nil {
		return
	}
	div := element(atom.Div, "id", IDTyping, "class", "qs-typing-indicator")
	for i := 0; i < 3; i++ {
		div.AppendChild(element(atom.Span, "class", "dot"))
	}
	d.messages.AppendChild(div)
	d.typing = div
	d.scrollToEnd()
}

// RemoveTypingIndicator removes the placeholder; a no-op when absent.
func (d *Document) RemoveTypingIndicator() {
	if d.typing == nil {
		return
	}
	if d.typing.Parent != nil {
		d.typing.Parent.RemoveChild(d.typing)
	}
	d.typing = nil
}

// TypingVisible reports whether the typing placeholder is in the document
func (d *Document) TypingVisible() bool { return d.typing != nil }

// SetInputEnabled enables or disables the send affordance.
func (d *Document) SetInputEnabled(enabled bool) {
	if !d.mounted {
		return
	}
	if enabled {
		removeAttr(d.send, "disabled")
		return
	}
	setAttr(d.send, "disabled", "")
}

// InputEnabled reports whether the send affordance accepts clicks and Enter.
func (d *Document) InputEnabled() bool {
	if !d.mounted {
		return false
	}
	_, disabled := attr(d.send, "disabled")
	return !disabled
}

// InputValue returns the current text of the message box
func (d *Document) InputValue() string {
	if !d.mounted {
		return ""
	}
	return textContent(d.input)
}

// SetInputValue replaces the text of the message box
func (d *Document) SetInputValue(s string) {
	if !d.mounted {
		return
	}
	removeChildren(d.input)
	if s != "" {
		d.input.AppendChild(text(s))
	}
}

// Focus records which element has keyboard focus
func (d *Document) Focus(id string) { d.focused = id }

// Focused returns the id of the focused element
func (d *Document) Focused() string { return d.focused }

// SetModalVisible shows or hides the chat window
func (d *Document) SetModalVisible(v bool) {
	if d.mounted {
		setVisible(d.modal, v, "flex")
	}
}

// ModalVisible reports whether the chat window is shown
func (d *Document) ModalVisible() bool { return d.mounted && visible(d.modal) }

// SetFeedbackVisible shows or hides the feedback panel
func (d *Document) SetFeedbackVisible(v bool) {
	if d.mounted {
		setVisible(d.feedback, v, "block")
	}
}

// FeedbackVisible reports whether the feedback panel is shown
func (d *Document) FeedbackVisible() bool { return d.mounted && visible(d.feedback) }

// SelectStar marks stars 1..n active. Values outside 1..5 are ignored.
func (d *Document) SelectStar(n int) bool {
	if !d.mounted || n < 1 || n > len(d.stars) {
		return false
	}
	for _, s := range d.stars {
		v, _ := attr(s, AttrStarValue)
		i, _ := strconv.Atoi(v)
		if i >= 1 && i <= n {
			addClass(s, ClassActive)
		} else {
			removeClass(s, ClassActive)
		}
	}
	return true
}

// ActiveStars returns how many stars are highlighted
func (d *Document) ActiveStars() int {
	count := 0
	for _, s := range d.stars {
		if hasClass(s, ClassActive) {
			count++
		}
	}
	return count
}

// FeedbackText returns the comment typed into the feedback panel
func (d *Document) FeedbackText() string {
	if n := d.feedbackText(); n != nil {
		return textContent(n)
	}
	return ""
}

// SetFeedbackText replaces the feedback comment
func (d *Document) SetFeedbackText(s string) {
	n := d.feedbackText()
	if n == nil {
		return
	}
	removeChildren(n)
	if s != "" {
		n.AppendChild(text(s))
	}
}

func (d *Document) feedbackText() *html.Node {
	if !d.mounted {
		return nil
	}
	return byID(d.feedbackContent, IDFeedbackText)
}

// ShowFeedbackThanks replaces the feedback form with the thank-you message.
func (d *Document) ShowFeedbackThanks() {
	if !d.mounted {
		return
	}
	removeChildren(d.feedbackContent)
	box := element(atom.Div, "class", "qs-feedback-thanks")
	h := element(atom.H4)
	h.AppendChild(text(ThanksTitle))
	p := element(atom.P)
	p.AppendChild(text(ThanksBody))
	box.AppendChild(h)
	box.AppendChild(p)
	d.feedbackContent.AppendChild(box)
	d.stars = nil
}

// FeedbackContentText returns the visible text of the feedback panel
func (d *Document) FeedbackContentText() string {
	if !d.mounted {
		return ""
	}
	return textContent(d.feedbackContent)
}

// Render serializes the whole host document
func (d *Document) Render() string { return outerHTML(d.root) }

// RenderWidget serializes the widget styles and subtree only
func (d *Document) RenderWidget() (string, error) {
	if !d.mounted {
		return "", ErrNotMounted
	}
	style := byID(d.head, IDStyles)
	return outerHTML(style) + outerHTML(d.widget), nil
}
