package notifier

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"time"

	gomail "gopkg.in/mail.v2"

	"github.com/nitwit45/stream/config"
)

// NotifierInterface sends maintenance reports
type NotifierInterface interface {
	NotifyMaintenanceReport(job string, summary fmt.Stringer, runErr error) error
}

// EmailNotifier handles sending email notifications
type EmailNotifier struct {
	smtpHost       string
	smtpPort       int
	senderEmail    string
	senderPass     string
	recipientEmail string
	htmlTemplate   *template.Template

	send func(m *gomail.Message) error
}

// EmailConfig contains configuration for email notifications
type EmailConfig struct {
	SMTPHost       string
	SMTPPort       int
	SenderEmail    string
	SenderPassword string
	RecipientEmail string
}

const reportTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Stream - Maintenance Report</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; }
        h1 { color: #e50914; }
        table { width: 100%; border-collapse: collapse; margin-bottom: 20px; }
        th { background-color: #f4f4f4; text-align: left; padding: 10px; width: 30%; }
        td { padding: 10px; border-bottom: 1px solid #ddd; }
        .ok { color: #2e7d32; font-weight: bold; }
        .failed { color: #c62828; font-weight: bold; }
        .footer { font-size: 12px; color: #666; margin-top: 50px; text-align: center; }
    </style>
</head>
<body>
    <h1>Stream - {{.Job}}</h1>
    <p>Run finished on {{.Date}}.</p>
    <table>
        <tr><th>Status</th><td class="{{if .Error}}failed{{else}}ok{{end}}">{{if .Error}}failed{{else}}succeeded{{end}}</td></tr>
        <tr><th>Summary</th><td>{{.Summary}}</td></tr>
        {{if .Error}}<tr><th>Error</th><td>{{.Error}}</td></tr>{{end}}
    </table>
    <div class="footer">
        <p>This is an automated email from Stream. Please do not reply.</p>
    </div>
</body>
</html>
`

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg EmailConfig) (*EmailNotifier, error) {
	tmpl, err := template.New("email").Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email template: %w", err)
	}

	n := &EmailNotifier{
		smtpHost:       cfg.SMTPHost,
		smtpPort:       cfg.SMTPPort,
		senderEmail:    cfg.SenderEmail,
		senderPass:     cfg.SenderPassword,
		recipientEmail: cfg.RecipientEmail,
		htmlTemplate:   tmpl,
	}
	n.send = n.dialAndSend
	return n, nil
}

// EmailConfigFrom converts the application's email settings and logs them
// with the password masked.
func EmailConfigFrom(cfg config.Email) EmailConfig {
	log.Printf("Email Configuration: Host=%s, Port=%d, Sender=%s, Token=%s, Recipient=%s",
		cfg.SMTPHost, cfg.SMTPPort, cfg.SenderEmail, maskSecret(cfg.SenderPassword), cfg.RecipientEmail)

	return EmailConfig{
		SMTPHost:       cfg.SMTPHost,
		SMTPPort:       cfg.SMTPPort,
		SenderEmail:    cfg.SenderEmail,
		SenderPassword: cfg.SenderPassword,
		RecipientEmail: cfg.RecipientEmail,
	}
}

func maskSecret(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) > 8:
		return secret[:4] + "..." + secret[len(secret)-4:]
	default:
		return "***"
	}
}

// NotifyMaintenanceReport mails the outcome of one maintenance run
func (n *EmailNotifier) NotifyMaintenanceReport(job string, summary fmt.Stringer, runErr error) error {
	if n.recipientEmail == "" {
		log.Println("No recipient email configured, skipping notification")
		return nil
	}

	data := struct {
		Job     string
		Date    string
		Summary string
		Error   string
	}{
		Job:  job,
		Date: time.Now().Format("January 2, 2006 at 3:04 PM"),
	}
	if summary != nil {
		data.Summary = summary.String()
	}
	if runErr != nil {
		data.Error = runErr.Error()
	}

	var body bytes.Buffer
	if err := n.htmlTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	status := "succeeded"
	if runErr != nil {
		status = "failed"
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.senderEmail)
	m.SetHeader("To", n.recipientEmail)
	m.SetHeader("Subject", fmt.Sprintf("Stream: %s %s", job, status))

	plainText := fmt.Sprintf("Stream Maintenance Report\n\nJob: %s\nStatus: %s\nFinished: %s\nSummary: %s\n",
		job, status, data.Date, data.Summary)
	if data.Error != "" {
		plainText += fmt.Sprintf("Error: %s\n", data.Error)
	}
	m.SetBody("text/plain", plainText)
	m.AddAlternative("text/html", body.String())

	if err := n.send(m); err != nil {
		return err
	}
	log.Printf("Maintenance report for %s sent to %s", job, n.recipientEmail)
	return nil
}

// SendTest sends a short message to check the SMTP settings
func (n *EmailNotifier) SendTest() error {
	if n.recipientEmail == "" {
		return fmt.Errorf("no recipient email configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.senderEmail)
	m.SetHeader("To", n.recipientEmail)
	m.SetHeader("Subject", "Stream: test email")
	m.SetBody("text/plain", fmt.Sprintf("Test email sent at %s. SMTP settings are working.",
		time.Now().Format(time.RFC1123)))

	if err := n.send(m); err != nil {
		return err
	}
	log.Printf("Test email sent to %s", n.recipientEmail)
	return nil
}

// dialAndSend uses the provider's API-token login: username "api", the
// password field holds the token.
func (n *EmailNotifier) dialAndSend(m *gomail.Message) error {
	d := gomail.NewDialer(n.smtpHost, n.smtpPort, "api", n.senderPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
