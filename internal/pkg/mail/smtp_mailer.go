package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/roamwire/roamwire/internal/pkg/config"
)

// SMTPMailer sends HTML mail over SMTP. The whole conversation is bounded by
// the context deadline.
type SMTPMailer struct {
	host     string
	port     string
	username string
	password string
	sender   string
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	sender := cfg.From
	if sender == "" {
		sender = "no-reply@localhost"
		log.Warnf("[Mail] SMTP_FROM not set, using default sender: %s", sender)
	}
	return &SMTPMailer{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		sender:   sender,
	}
}

func (m *SMTPMailer) SendActivationEmail(ctx context.Context, msg ActivationEmail) (string, error) {
	body, err := renderActivationEmail(msg)
	if err != nil {
		return "", fmt.Errorf("render activation email: %w", err)
	}

	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), senderDomain(m.sender))
	if err := m.send(ctx, msg.CustomerEmail, activationSubject, body, messageID); err != nil {
		log.Errorf("[Mail] SMTP send error for %s: %v", msg.TransactionID, err)
		return "", err
	}
	log.Infof("[Mail] activation email for %s sent to %s", msg.TransactionID, msg.CustomerEmail)
	return messageID, nil
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, body, messageID string) error {
	addr := net.JoinHostPort(m.host, m.port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return err
		}
	}
	if m.username != "" && m.password != "" {
		if err := client.Auth(smtp.PlainAuth("", m.username, m.password, m.host)); err != nil {
			return err
		}
	}

	if err := client.Mail(m.sender); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(buildMessage(m.sender, to, subject, body, messageID)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func buildMessage(from, to, subject, body, messageID string) []byte {
	return []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMessage-ID: <%s>\r\n", from, to, subject, messageID) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)
}

func senderDomain(sender string) string {
	if i := strings.LastIndex(sender, "@"); i >= 0 && i < len(sender)-1 {
		return strings.TrimSuffix(sender[i+1:], ">")
	}
	return "localhost"
}
