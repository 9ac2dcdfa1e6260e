package service

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/noah-isme/sma-guard-api/internal/models"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// MailConfig configures escalation e-mails.
type MailConfig struct {
	APIKey     string
	From       string
	AppName    string
	Recipients []string
}

// MailNotifier e-mails institute management through SendGrid.
type MailNotifier struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	recipients []string
	send       func(request rest.Request) (*rest.Response, error)
}

// NewMailNotifier builds a notifier. It is disabled without an API key or recipients.
func NewMailNotifier(cfg MailConfig) *MailNotifier {
	recipients := make([]string, 0, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	return &MailNotifier{
		key:        cfg.APIKey,
		from:       sgmail.NewEmail(cfg.AppName, cfg.From),
		subjPrefix: "[" + cfg.AppName + "] ",
		recipients: recipients,
		send:       sendgrid.API,
	}
}

// Enabled reports whether escalations can be sent.
func (n *MailNotifier) Enabled() bool {
	return n != nil && n.key != "" && len(n.recipients) > 0
}

// SendEscalation mails the event to every configured recipient.
func (n *MailNotifier) SendEscalation(ctx context.Context, event models.NotificationEvent) error {
	if !n.Enabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := sendgrid.GetRequest(n.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(n.prepare(event))

	res, err := n.send(req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid responded %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

func (n *MailNotifier) prepare(event models.NotificationEvent) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = n.subjPrefix + event.Title
	for _, to := range n.recipients {
		p.AddTos(sgmail.NewEmail("", to))
	}

	text := fmt.Sprintf("%s\n\nGuard duty: %s", event.Message, event.GuardDutyID)
	body := fmt.Sprintf("<p>%s</p><p>Guard duty: <code>%s</code></p>", html.EscapeString(event.Message), html.EscapeString(event.GuardDutyID))

	m := sgmail.NewV3Mail()
	m.SetFrom(n.from)
	m.AddPersonalizations(p)
	m.AddContent(
		sgmail.NewContent("text/plain", text),
		sgmail.NewContent("text/html", body),
	)
	return m
}
