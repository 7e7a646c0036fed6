package mail

import (
	"errors"
	"fmt"
	"html"
	"net/smtp"

	"github.com/gofiber/fiber/v2/log"

	"github.com/technovacao/registration/internal/pkg/config"
)

var ErrNotConfigured = errors.New("smtp host is not configured")

// Sender delivers transactional messages.
type Sender interface {
	SendPasswordReset(to, name, link string) error
}

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	cfg  config.Mail
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg config.Mail) *SMTPMailer {
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@localhost"
		log.Warnf("[Mail] SMTP_SENDER not set, using default sender: %s", cfg.Sender)
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

func (m *SMTPMailer) SendMail(to, subject, body string) error {
	if m.cfg.Host == "" {
		return ErrNotConfigured
	}

	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%s", m.cfg.Host, m.cfg.Port)
	msg := BuildMessage(m.cfg.Sender, to, subject, body)

	err := m.send(addr, auth, m.cfg.Sender, []string{to}, msg)
	if err != nil {
		log.Errorf("[Mail] SMTP send error to %s: %v", to, err)
	} else {
		log.Infof("[Mail] Email sent to %s via %s", to, addr)
	}
	return err
}

// SendPasswordReset mails the reset link to the user.
func (m *SMTPMailer) SendPasswordReset(to, name, link string) error {
	body := fmt.Sprintf(
		"<p>Olá, %s.</p><p>Recebemos um pedido para redefinir sua senha. "+
			"O link abaixo vale por uma hora:</p><p><a href=\"%s\">%s</a></p>"+
			"<p>Se você não fez este pedido, ignore este email.</p>",
		html.EscapeString(name), html.EscapeString(link), html.EscapeString(link),
	)
	return m.SendMail(to, "Redefinição de senha", body)
}

func BuildMessage(from, to, subject, body string) []byte {
	return []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", from, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)
}
