package alerts

import (
	"context"
	"fmt"
	"html"
	"strings"

	brevo "github.com/getbrevo/brevo-go/lib"
)

// Mail is one outgoing notification email.
type Mail struct {
	FromName string
	From     string
	To       []string
	Subject  string
	Text     string
}

// Mailer sends a Mail.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

type brevoMailer struct {
	client *brevo.APIClient
}

// NewBrevoMailer returns a Mailer backed by the Brevo transactional email API.
func NewBrevoMailer(apiKey string) Mailer {
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	return &brevoMailer{client: brevo.NewAPIClient(cfg)}
}

func (b *brevoMailer) Send(ctx context.Context, m Mail) error {
	to := make([]brevo.SendSmtpEmailTo, 0, len(m.To))
	for _, addr := range m.To {
		to = append(to, brevo.SendSmtpEmailTo{Email: addr})
	}
	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  m.FromName,
			Email: m.From,
		},
		To:          to,
		Subject:     m.Subject,
		HtmlContent: fmt.Sprintf("<pre>%s</pre>", html.EscapeString(m.Text)),
		TextContent: m.Text,
	}
	if _, _, err := b.client.TransactionalEmailsApi.SendTransacEmail(ctx, email); err != nil {
		return fmt.Errorf("brevo: send: %w", err)
	}
	return nil
}

func emailSubject(a *Alert) string {
	if a.State == "resolved" {
		return fmt.Sprintf("echoscope recovery: %s on %s", a.RuleName, a.Source)
	}
	return fmt.Sprintf("echoscope %s: %s on %s", strings.ToUpper(a.Severity), a.RuleName, a.Source)
}

func emailBody(a *Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rule: %s\n", a.RuleName)
	fmt.Fprintf(&b, "Source: %s\n", a.Source)
	fmt.Fprintf(&b, "State: %s\n", a.State)
	fmt.Fprintf(&b, "Level: %s\n", a.Level)
	fmt.Fprintf(&b, "Value: %.2f\n", a.Value)
	fmt.Fprintf(&b, "Fired: %s\n", a.FiredAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if a.ResolvedAt != nil {
		fmt.Fprintf(&b, "Resolved: %s\n", a.ResolvedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(&b, "\n%s\n", a.Message)
	return b.String()
}
