package messaging

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"callbridge/internal/config"
)

// SMTPEmail sends mail through a single SMTP relay with STARTTLS and
// plain auth. HTML bodies are flagged through the MIME content type.
type SMTPEmail struct {
	cfg config.SMTPConfig
}

func NewSMTPEmail(cfg config.SMTPConfig) *SMTPEmail {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 20 * time.Second
	}
	return &SMTPEmail{cfg: cfg}
}

func (s *SMTPEmail) Name() string { return "email" }

func (s *SMTPEmail) Send(ctx context.Context, msg Message) error {
	deadline := time.Now().Add(s.cfg.SendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	// One deadline covers the whole SMTP exchange.
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("%w: starttls: %v", ErrSendFailure, err)
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("%w: auth: %v", ErrSendFailure, err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("%w: mail from: %v", ErrSendFailure, err)
	}
	recipients := append([]string{msg.To}, msg.CC...)
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("%w: rcpt %s: %v", ErrSendFailure, rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("%w: data: %v", ErrSendFailure, err)
	}
	if _, err := w.Write(buildMIME(s.cfg.From, msg)); err != nil {
		w.Close()
		return fmt.Errorf("%w: write: %v", ErrSendFailure, err)
	}
	if err := w.Close(); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	return client.Quit()
}

// buildMIME assembles the full RFC 5322 message, switching the content
// type when the body is HTML.
func buildMIME(from string, msg Message) []byte {
	contentType := "text/plain; charset=UTF-8"
	if msg.HTML {
		contentType = "text/html; charset=UTF-8"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	if len(msg.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(msg.CC, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
