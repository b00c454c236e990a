package mail

import (
	"errors"
	"fmt"
	"html"
	"net/smtp"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/config"
)

// ErrNotConfigured is returned by Send when no SMTP host/sender is set.
// Callers log it and carry on; mail never blocks a request.
var ErrNotConfigured = errors.New("missing SMTP configuration")

// Sender delivers HTML mail.
type Sender interface {
	Send(to, subject, htmlBody string) error
}

// SMTPSender handles sending emails through SMTP
type SMTPSender struct {
	cfg config.SMTP
}

func NewSMTPSender(cfg config.SMTP) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send sends an HTML email with subject and body
func (s *SMTPSender) Send(to, subject, body string) error {
	from := s.cfg.From
	if from == "" {
		from = s.cfg.User
	}
	if s.cfg.Host == "" || s.cfg.Port == "" || from == "" {
		return ErrNotConfigured
	}

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=\"utf-8\"\r\n"+
			"\r\n%s\r\n",
		from, to, subject, body,
	))

	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	}
	return smtp.SendMail(s.cfg.Host+":"+s.cfg.Port, auth, from, []string{to}, msg)
}

// VerificationEmail renders the subject and body of the verify-your-address mail.
func VerificationEmail(firstName, link string) (string, string) {
	body := fmt.Sprintf(`
		<h2>Welcome to Chrome Pass</h2>
		<p>Hi %s,</p>
		<p>Please verify your email address by clicking the link below:</p>
		<a href="%s">Verify email</a>
		<p>An administrator will approve your account once your address is verified.</p>
	`, html.EscapeString(firstName), html.EscapeString(link))
	return "Verify your Chrome Pass account", body
}

// ApprovalEmail renders the account-approved notification.
func ApprovalEmail(firstName, loginURL string) (string, string) {
	body := fmt.Sprintf(`
		<h2>Your account is active</h2>
		<p>Hi %s,</p>
		<p>An administrator approved your Chrome Pass account. You can now <a href="%s">sign in</a>.</p>
	`, html.EscapeString(firstName), html.EscapeString(loginURL))
	return "Your Chrome Pass account was approved", body
}

// Recorder is a Sender that keeps messages in memory.
type Recorder struct {
	Messages []Message
	Err      error
}

type Message struct {
	To      string
	Subject string
	Body    string
}

func (r *Recorder) Send(to, subject, body string) error {
	if r.Err != nil {
		return r.Err
	}
	r.Messages = append(r.Messages, Message{To: to, Subject: subject, Body: body})
	return nil
}
