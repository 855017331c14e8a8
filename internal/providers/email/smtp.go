package email

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"net/smtp"
)

//go:embed templates/invite_member.html
var inviteTemplateText string

var inviteTemplate = template.Must(template.New("invite_member").Parse(inviteTemplateText))

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg Config
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

func (p *SMTPProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", to[0], subject, mime, htmlBody))

	return smtp.SendMail(addr, auth, p.cfg.From, to, msg)
}

func (p *SMTPProvider) SendInvite(ctx context.Context, msg InviteMessage) error {
	var body bytes.Buffer
	if err := inviteTemplate.Execute(&body, map[string]any{
		"tenant_name": msg.TenantName,
		"role_name":   msg.RoleName,
		"inviter":     msg.Inviter,
		"token":       msg.Token,
	}); err != nil {
		return fmt.Errorf("failed to execute invite template: %w", err)
	}

	subject := fmt.Sprintf("You're invited to join %s", msg.TenantName)
	return p.Send(ctx, []string{msg.To}, subject, body.String())
}
