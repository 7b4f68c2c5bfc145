// Package email sends revert alerts to patrol leads via SMTP.
package email

import (
	"bytes"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"time"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return nil
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", headerSafe(subject))
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	if err := s.send(s.server, s.auth, s.config.From, to, msg.Bytes()); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// RevertAlert describes an executed revert for the alert template.
type RevertAlert struct {
	Page             string
	Kind             string
	Operator         string
	Contributor      string
	TargetRevisionID int64
	NewRevisionID    int64
	DiscardedCount   int
	Summary          string
	At               time.Time
}

// SendRevertAlert mails a short report of an executed revert.
func (s *Service) SendRevertAlert(to []string, alert RevertAlert) error {
	body, err := renderTemplate(revertAlertTemplate, alert)
	if err != nil {
		return fmt.Errorf("render revert alert: %w", err)
	}
	subject := fmt.Sprintf("[revertd] %s revert on %s", alert.Kind, alert.Page)
	return s.SendEmail(to, subject, body)
}

func renderTemplate(tmpl string, data any) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func headerSafe(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

const revertAlertTemplate = `{{.Operator}} reverted {{.DiscardedCount}} revision(s) on "{{.Page}}" as {{.Kind}}.

Contributor: {{if .Contributor}}{{.Contributor}}{{else}}(hidden){{end}}
Restored revision: {{.TargetRevisionID}}
New revision: {{if .NewRevisionID}}{{.NewRevisionID}}{{else}}none (no change){{end}}
Summary: {{.Summary}}
Time: {{.At.UTC.Format "2006-01-02 15:04:05 MST"}}
`
