package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// emailSender delivers notifications via SMTP, mirroring the teacher's
// server/internal/notification.emailSender: implicit TLS when configured,
// plain/STARTTLS via smtp.SendMail otherwise.
type emailSender struct {
	cfg Config
}

func newEmailSender(cfg Config) *emailSender {
	return &emailSender{cfg: cfg}
}

func (s *emailSender) Send(ctx context.Context, to, subject, body string) error {
	if to == "" || s.cfg.SMTPHost == "" {
		return nil
	}

	msg := buildEmail(s.cfg.SMTPFrom, []string{to}, subject, body)
	addr := net.JoinHostPort(s.cfg.SMTPHost, fmt.Sprintf("%d", s.cfg.SMTPPort))

	if s.cfg.SMTPTLS {
		return s.sendTLS(addr, []string{to}, msg)
	}
	return s.sendPlain(addr, []string{to}, msg)
}

func (s *emailSender) sendPlain(addr string, to []string, msg []byte) error {
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.SMTPFrom, to, msg); err != nil {
		return fmt.Errorf("notifier: smtp.SendMail: %w", err)
	}
	return nil
}

func (s *emailSender) sendTLS(addr string, to []string, msg []byte) error {
	tlsCfg := &tls.Config{ServerName: s.cfg.SMTPHost, MinVersion: tls.VersionTLS12}

	conn, err := tls.Dial("tcp", addr, tlsCfg)
	if err != nil {
		return fmt.Errorf("notifier: tls.Dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("notifier: smtp.NewClient: %w", err)
	}
	defer client.Close()

	if s.cfg.SMTPUsername != "" {
		auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("notifier: smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.cfg.SMTPFrom); err != nil {
		return fmt.Errorf("notifier: MAIL FROM: %w", err)
	}
	for _, r := range to {
		if err := client.Rcpt(r); err != nil {
			return fmt.Errorf("notifier: RCPT TO %s: %w", r, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("notifier: DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("notifier: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("notifier: close DATA: %w", err)
	}
	return client.Quit()
}

func buildEmail(from string, to []string, subject, body string) []byte {
	var sb strings.Builder
	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	sb.WriteString("Subject: " + subject + "\r\n")
	sb.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return []byte(sb.String())
}
