package service

import (
	"bytes"
	"context"
	"html/template"

	"go.uber.org/zap"
)

// Mailer delivers a rendered HTML message. Implementations wrap an e-mail provider.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// LogMailer writes messages to the log instead of sending them.
// The body carries the magic link, so it is logged at debug level only.
type LogMailer struct{ log *zap.Logger }

// NewLogMailer constructs a LogMailer.
func NewLogMailer(log *zap.Logger) *LogMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMailer{log: log}
}

// Send logs the message and never fails.
func (m *LogMailer) Send(_ context.Context, to, subject, html string) error {
	m.log.Info("mail queued", zap.String("to", to), zap.String("subject", subject), zap.Int("bytes", len(html)))
	m.log.Debug("mail body", zap.String("to", to), zap.String("html", html))
	return nil
}

var grantMail = template.Must(template.New("grant").Parse(`<div style="font-family: ui-sans-serif, system-ui, Helvetica, Arial; background:#0b1220; padding:32px;">
  <div style="max-width:640px; margin:0 auto; border-radius:16px; padding:24px; color:#e7eefc;">
    <div style="font-size:20px; font-weight:800;">{{.App}}: Premium is ready</div>
    <div style="margin-top:10px; line-height:1.5;">Click the button below to turn on Premium in this browser.</div>
    <div style="margin-top:18px;">
      <a href="{{.URL}}" style="display:inline-block; background:#22c55e; color:#06110a; text-decoration:none; font-weight:800; padding:12px 16px; border-radius:12px;">Activate Premium</a>
    </div>
    <div style="margin-top:16px; font-size:12px; line-height:1.5;">
      If the button does not work, paste this link into your browser:<br/>
      <span style="word-break:break-all;">{{.URL}}</span>
    </div>
  </div>
</div>
`))

func renderGrantMail(app, accessURL string) (string, error) {
	var buf bytes.Buffer
	err := grantMail.Execute(&buf, struct{ App, URL string }{app, accessURL})
	return buf.String(), err
}
