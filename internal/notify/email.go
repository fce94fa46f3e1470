package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"blakv.app/support/core/config"
	"github.com/wneessen/go-mail"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// sender is the part of *mail.Client the notifier needs.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type emailNotifier struct {
	client    sender
	from      string
	clientURL string
	timeout   time.Duration
	markdown  goldmark.Markdown
}

// NewEmailNotifier returns an SMTP-backed Notifier, or a no-op one when no
// credentials are configured.
func NewEmailNotifier(cfg config.SMTPConfig) (Notifier, error) {
	if !cfg.Enabled() {
		slog.Warn("smtp credentials not set, e-mail notifications disabled")
		return NewNoopNotifier(), nil
	}

	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("creating smtp client: %w", err)
	}

	return newEmailNotifier(client, cfg.From, cfg.ClientURL, cfg.Timeout), nil
}

func newEmailNotifier(client sender, from, clientURL string, timeout time.Duration) *emailNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &emailNotifier{
		client:    client,
		from:      from,
		clientURL: clientURL,
		timeout:   timeout,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.Linkify),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

func (e *emailNotifier) Notify(ctx context.Context, n Notice) {
	if n.To == "" {
		noticesTotal.WithLabelValues("skipped").Inc()
		return
	}

	// The triggering request may finish before the send does.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	msg, err := e.compose(n)
	if err != nil {
		noticesTotal.WithLabelValues("failed").Inc()
		slog.ErrorContext(ctx, "composing e-mail notice", "error", err, "ticket_id", n.TicketID)
		return
	}

	if err := e.client.DialAndSendWithContext(ctx, msg); err != nil {
		noticesTotal.WithLabelValues("failed").Inc()
		slog.ErrorContext(ctx, "sending e-mail notice", "error", err, "ticket_id", n.TicketID)
		return
	}

	noticesTotal.WithLabelValues("sent").Inc()
	slog.InfoContext(ctx, "e-mail notice sent", "ticket_id", n.TicketID)
}

func (e *emailNotifier) compose(n Notice) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(n.To); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject("New Support Message: " + n.Subject)

	link := e.clientURL + "/support"
	msg.SetBodyString(mail.TypeTextPlain, plainBody(n, link))

	htmlBody, err := e.htmlBody(n, link)
	if err != nil {
		return nil, err
	}
	msg.AddAlternativeString(mail.TypeTextHTML, htmlBody)
	return msg, nil
}

func plainBody(n Notice, link string) string {
	return fmt.Sprintf(
		"You have received a new message from the Support Team regarding your ticket %q.\n\nMessage: %s\n\nView the full conversation: %s\n",
		n.Subject, n.Content, link,
	)
}

var htmlTemplate = template.Must(template.New("notice").Parse(`<div style="font-family: Arial, sans-serif; color: #333;">
  <h2>New Support Message</h2>
  <p>{{if .Name}}Hi {{.Name}}, you{{else}}You{{end}} have received a new message from the <strong>Support Team</strong> regarding your ticket "<strong>{{.Subject}}</strong>".</p>
  <div style="background-color: #f5f5f5; padding: 15px; border-radius: 5px; margin: 20px 0;">{{.Content}}</div>
  <p><a href="{{.Link}}" style="background-color: #000; color: #fff; padding: 10px 20px; text-decoration: none; border-radius: 5px;">View Ticket</a></p>
</div>`))

func (e *emailNotifier) htmlBody(n Notice, link string) (string, error) {
	var rendered bytes.Buffer
	if err := e.markdown.Convert([]byte(n.Content), &rendered); err != nil {
		return "", fmt.Errorf("rendering message: %w", err)
	}

	var out bytes.Buffer
	err := htmlTemplate.Execute(&out, struct {
		Name    string
		Subject string
		Content template.HTML
		Link    string
	}{
		Name:    n.CustomerName,
		Subject: n.Subject,
		// goldmark omits raw HTML unless WithUnsafe is set, so its output is safe to embed.
		Content: template.HTML(rendered.String()), //nolint:gosec
		Link:    link,
	})
	if err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return out.String(), nil
}
