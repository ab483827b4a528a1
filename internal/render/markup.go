package render

import (
	"bytes"
	"html/template"

	"QueryWidget/internal/config"
)

// Element ids and classes the widget looks up after mounting.
const (
	IDRoot            = "qs-widget-root"
	IDFab             = "qs-widget-fab"
	IDModal           = "qs-widget-modal"
	IDClose           = "qs-widget-close"
	IDMessages        = "qs-widget-messages"
	IDInput           = "qs-widget-input"
	IDSend            = "qs-widget-send"
	IDFeedback        = "qs-feedback-modal"
	IDFeedbackContent = "qs-feedback-content"
	IDFeedbackText    = "qs-feedback-text"
	IDTyping          = "qs-typing-indicator"
	IDStyles          = "qs-widget-styles"

	ClassMessage  = "qs-message"
	ClassUserMsg  = "qs-user-msg"
	ClassBotMsg   = "qs-bot-msg"
	ClassStar     = "qs-feedback-star"
	ClassActive   = "active"
	AttrAction    = "data-action"
	ActionToggle  = "toggle"
	ActionSend    = "send"
	ActionSkip    = "feedback-skip"
	ActionSubmit  = "feedback-submit"
	AttrStarValue = "data-value"
)

const (
	ThanksTitle = "Thanks for your feedback!"
	ThanksBody  = "We appreciate the time you took to help us improve."
)

type markupData struct {
	Name     string
	LogoURL  string
	Initials string
	Stars    []int
}

var widgetTemplate = template.Must(template.New("widget").Parse(`
<div id="qs-widget-root">
  <button id="qs-widget-fab" type="button" data-action="toggle" title="Chat">
    <svg width="28" height="28" viewBox="0 0 24 24"><circle cx="12" cy="12" r="12" fill="#4b1a86"></circle></svg>
  </button>
  <div id="qs-widget-modal" style="display:none;">
    <div id="qs-widget-header">
      <div class="header-left">
        <div class="logo-icon">
          {{- if .LogoURL}}
          <img src="{{.LogoURL}}" alt="{{.Name}}" width="32" height="32">
          {{- else}}
          <span class="logo-initials">{{.Initials}}</span>
          {{- end}}
        </div>
        <div class="header-title">
          <div class="main-title">{{.Name}}</div>
          <div class="sub-title">AI Powered Support Agent</div>
        </div>
      </div>
      <button id="qs-widget-close" type="button" data-action="toggle" title="Close">&times;</button>
    </div>
    <div id="qs-widget-messages"></div>
    <div id="qs-widget-input-bar">
      <textarea id="qs-widget-input" placeholder="Type your message..." rows="2"></textarea>
      <button id="qs-widget-send" type="button" data-action="send" title="Send">Send</button>
    </div>
    <div id="qs-feedback-modal" style="display:none;">
      <div class="qs-feedback-backdrop"></div>
      <div class="qs-feedback-panel">
        <div class="qs-feedback-header">
          <h4>Quick feedback</h4>
          <small>Help us improve this chat</small>
        </div>
        <div id="qs-feedback-content">
          <div class="qs-feedback-stars">
            {{- range .Stars}}
            <span class="qs-feedback-star" data-value="{{.}}">&#9734;</span>
            {{- end}}
          </div>
          <textarea id="qs-feedback-text" placeholder="Any suggestions? (optional)"></textarea>
          <div class="qs-feedback-actions">
            <button type="button" data-action="feedback-skip">Skip</button>
            <button type="button" data-action="feedback-submit">Submit</button>
          </div>
        </div>
      </div>
    </div>
    <div class="qs-widget-note">
      <span><b>NOTE:</b> This is AI and may make mistakes. Please check answers carefully. Conversations are stored for overview and training purposes.</span>
    </div>
  </div>
</div>
`))

func initials(name string) string {
	out := make([]rune, 0, 2)
	for _, r := range name {
		if len(out) == 2 {
			break
		}
		out = append(out, r)
	}
	return string(out)
}

func widgetMarkup(cfg config.WidgetConfig) (string, error) {
	var buf bytes.Buffer
	err := widgetTemplate.Execute(&buf, markupData{
		Name:     cfg.Name,
		LogoURL:  cfg.LogoURL,
		Initials: initials(cfg.Name),
		Stars:    []int{1, 2, 3, 4, 5},
	})
	return buf.String(), err
}

// styles are scoped under the widget root so host page rules do not leak in.
const styles = `
#qs-widget-root, #qs-widget-root * {
  font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Arial, sans-serif !important;
  box-sizing: border-box !important;
}
#qs-widget-fab {
  position: fixed; bottom: 24px; right: 24px; width: 56px; height: 56px;
  border-radius: 50%; border: none; background: #4b1a86; cursor: pointer; z-index: 99999;
}
#qs-widget-modal {
  position: fixed; bottom: 92px; right: 24px; width: 370px; max-height: 600px;
  flex-direction: column; background: #fff; border-radius: 16px;
  box-shadow: 0 8px 32px rgba(0,0,0,0.18); overflow: hidden; z-index: 99999;
}
#qs-widget-header {
  display: flex; align-items: center; justify-content: space-between;
  padding: 12px 16px; background: #4b1a86; color: #fff;
}
#qs-widget-messages { flex: 1; overflow-y: auto; padding: 16px; background: #f7f7fb; }
.qs-message { max-width: 85%; margin: 6px 0; padding: 10px 14px; border-radius: 14px; word-wrap: break-word; }
.qs-user-msg { margin-left: auto; background: #4b1a86; color: #fff; white-space: pre-wrap; }
.qs-bot-msg { margin-right: auto; background: #fff; color: #191919; border: 1px solid #ececf3; }
.qs-typing-indicator { display: flex; gap: 4px; padding: 10px 14px; }
.qs-typing-indicator .dot { width: 6px; height: 6px; border-radius: 50%; background: #9a8fb3; }
#qs-widget-input-bar { display: flex; gap: 8px; padding: 10px; border-top: 1px solid #ececf3; }
#qs-widget-input { flex: 1; resize: none; max-height: 120px; }
#qs-widget-send[disabled] { opacity: 0.5; cursor: not-allowed; }
#qs-feedback-modal { position: absolute; inset: 0; }
.qs-feedback-backdrop { position: absolute; inset: 0; background: rgba(0,0,0,0.35); }
.qs-feedback-panel { position: relative; margin: 80px 20px; padding: 16px; background: #fff; border-radius: 12px; }
.qs-feedback-star { cursor: pointer; font-size: 1.6rem; color: #c9c2d8; }
.qs-feedback-star.active { color: #f5b301; }
.qs-widget-note { padding: 6px 12px; font-size: 11px; color: #777; }
`
