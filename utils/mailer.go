package utils

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"scifounders/config"
)

// Notifier sends the transactional mail members receive.
type Notifier interface {
	SendOTPEmail(to, otp string) error
	SendPasswordResetOTPEmail(to, otp string) error
	SendApprovalEmail(to, name string) error
	SendRejectionEmail(to, name, reason string) error
}

// Notifications is the process-wide notifier, replaced by InitMailer.
var Notifications Notifier = logNotifier{}

const layout = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .code { font-size: 24px; font-weight: bold; color: #2f6f4f; margin: 20px 0; text-align: center; }
        .footer { margin-top: 30px; font-size: 12px; color: #7f8c8d; text-align: center; }
    </style>
</head>
<body>
    <h2>{{.Subject}}</h2>
    {{template "content" .}}
    <div class="footer">
        <p>© {{.Year}} SciFounders</p>
    </div>
</body>
</html>`

var emailTemplates = map[string]string{
	"otp": `{{define "content"}}
    <p>Hello,</p>
    <p>Use this code to verify your email address:</p>
    <div class="code">{{.OTP}}</div>
    <p>The code expires in 15 minutes.</p>
{{end}}`,
	"password_reset_otp": `{{define "content"}}
    <p>Hello,</p>
    <p>We received a request to reset your password. Your code is:</p>
    <div class="code">{{.OTP}}</div>
    <p>If you did not ask for this, ignore this email.</p>
{{end}}`,
	"approved": `{{define "content"}}
    <p>Hi {{.Name}},</p>
    <p>Your membership has been approved. The knowledge center, Sprint and the community are now open to you.</p>
    <p><a href="{{.Link}}">Sign in</a></p>
{{end}}`,
	"rejected": `{{define "content"}}
    <p>Hi {{.Name}},</p>
    <p>Thank you for applying. We are not able to approve your membership at this time.</p>
    {{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}
{{end}}`,
}

type emailData struct {
	Subject string
	Year    int
	OTP     string
	Name    string
	Reason  string
	Link    string
}

// Mailer sends templated HTML mail over SMTP.
type Mailer struct {
	dialer      *gomail.Dialer
	from        string
	frontendURL string
	templates   map[string]*template.Template
}

func NewMailer(cfg config.Config) (*Mailer, error) {
	m := &Mailer{
		dialer:      gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
		from:        cfg.FromEmail,
		frontendURL: cfg.FrontendURL,
		templates:   make(map[string]*template.Template, len(emailTemplates)),
	}
	for name, content := range emailTemplates {
		tmpl, err := template.New(name).Parse(layout)
		if err != nil {
			return nil, fmt.Errorf("parse layout: %w", err)
		}
		if _, err := tmpl.Parse(content); err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		m.templates[name] = tmpl
	}
	return m, nil
}

// InitMailer installs an SMTP mailer when SMTP_HOST is configured.
func InitMailer(cfg config.Config) error {
	if cfg.SMTPHost == "" {
		logrus.Warn("SMTP_HOST not set, notification emails will only be logged")
		return nil
	}
	m, err := NewMailer(cfg)
	if err != nil {
		return err
	}
	Notifications = m
	return nil
}

// render executes a named template inside the shared layout.
func (m *Mailer) render(name string, data emailData) (string, error) {
	tmpl, ok := m.templates[name]
	if !ok {
		return "", fmt.Errorf("template '%s' not found", name)
	}
	data.Year = time.Now().Year()
	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return "", fmt.Errorf("error executing template: %w", err)
	}
	return body.String(), nil
}

func (m *Mailer) send(to, name string, data emailData) error {
	body, err := m.render(name, data)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.from, "SciFounders")
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", data.Subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	LogEvent("email_sent", map[string]interface{}{"template": name, "to": to})
	return nil
}

func (m *Mailer) SendOTPEmail(to, otp string) error {
	return m.send(to, "otp", emailData{Subject: "Your Verification Code", OTP: otp})
}

func (m *Mailer) SendPasswordResetOTPEmail(to, otp string) error {
	return m.send(to, "password_reset_otp", emailData{Subject: "Password Reset Verification Code", OTP: otp})
}

func (m *Mailer) SendApprovalEmail(to, name string) error {
	return m.send(to, "approved", emailData{Subject: "Welcome to SciFounders", Name: name, Link: m.frontendURL + "/login"})
}

func (m *Mailer) SendRejectionEmail(to, name, reason string) error {
	return m.send(to, "rejected", emailData{Subject: "Your SciFounders application", Name: name, Reason: reason})
}

// logNotifier is used when no SMTP server is configured.
type logNotifier struct{}

func (logNotifier) SendOTPEmail(to, _ string) error {
	LogEvent("email_skipped", map[string]interface{}{"template": "otp", "to": to})
	return nil
}

func (logNotifier) SendPasswordResetOTPEmail(to, _ string) error {
	LogEvent("email_skipped", map[string]interface{}{"template": "password_reset_otp", "to": to})
	return nil
}

func (logNotifier) SendApprovalEmail(to, _ string) error {
	LogEvent("email_skipped", map[string]interface{}{"template": "approved", "to": to})
	return nil
}

func (logNotifier) SendRejectionEmail(to, _, _ string) error {
	LogEvent("email_skipped", map[string]interface{}{"template": "rejected", "to": to})
	return nil
}
