package email

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	TemplateOrderStatus     = "order_status"
	TemplatePaymentReceived = "payment_received"
	TemplateRefundUpdate    = "refund_update"
)

var defaultSubjects = map[string]string{
	TemplateOrderStatus:     "Your order has been updated",
	TemplatePaymentReceived: "Payment received",
	TemplateRefundUpdate:    "Your refund has been updated",
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPProvider struct {
	cfg  Config
	send sendFunc
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg, send: smtp.SendMail}
}

func (p *SMTPProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if len(to) == 0 {
		return errors.New("email: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", p.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(htmlBody)

	return p.send(addr, auth, p.cfg.From, to, msg.Bytes())
}

// SendTemplate renders one of the embedded templates. data["subject"]
// overrides the template's default subject.
func (p *SMTPProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	body, err := Render(templateName, data)
	if err != nil {
		return err
	}

	subject := defaultSubjects[templateName]
	if subj, ok := data["subject"].(string); ok && subj != "" {
		subject = subj
	}
	if subject == "" {
		subject = "Notification from Storefront"
	}
	return p.Send(ctx, to, subject, body)
}

func Render(templateName string, data map[string]any) (string, error) {
	t := templates.Lookup(templateName + ".html")
	if t == nil {
		return "", fmt.Errorf("email template %q not found", templateName)
	}
	var body bytes.Buffer
	if err := t.Execute(&body, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return body.String(), nil
}
