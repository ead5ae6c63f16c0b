package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

const dialTimeout = 10 * time.Second

var ErrNoRecipients = errors.New("mail has no recipients")

type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string // "Marmot <bot@example.org>" or just "bot@example.org"
	UseTLS   bool   // implicit TLS (465); plain connections never authenticate
}

type Message struct {
	To      []string
	Subject string
	HTML    string
}

type mailer struct {
	cfg  *Config
	now  func() time.Time
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

func New(cfg *Config) Mailer {
	m := &mailer{cfg: cfg, now: time.Now}
	m.dial = m.dialConn

	return m
}

// Render executes an html/template, so notification content is escaped.
func Render(htmlTpl string, data any) (string, error) {
	t, err := template.New("email").Parse(htmlTpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var body bytes.Buffer
	if err := t.Execute(&body, data); err != nil {
		return "", fmt.Errorf("exec template: %w", err)
	}

	return body.String(), nil
}

// Send delivers msg in one SMTP session. The context bounds the whole session.
func (m *mailer) Send(ctx context.Context, msg *Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}

	conn, err := m.dial(ctx, net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port)))
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("new client: %w", err)
	}
	defer func() {
		_ = c.Close()
	}()

	if m.cfg.UseTLS && m.cfg.Username != "" && m.cfg.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.Mail(parseAddress(m.cfg.From)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}

	for _, to := range msg.To {
		if err := c.Rcpt(parseAddress(to)); err != nil {
			return fmt.Errorf("rcpt to %s: %w", to, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(m.build(msg)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return c.Quit()
}

func (m *mailer) dialConn(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}

	if !m.cfg.UseTLS {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial: %w", err)
		}

		return conn, nil
	}

	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: m.cfg.Host}}

	conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tls: %w", err)
	}

	return conn, nil
}

func (m *mailer) build(msg *Message) []byte {
	headers := []string{
		"From: " + m.cfg.From,
		"To: " + strings.Join(msg.To, ", "),
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Date: " + m.now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}

	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.HTML)
}

func parseAddress(addr string) string {
	if i := strings.Index(addr, "<"); i >= 0 {
		if j := strings.Index(addr[i:], ">"); j > 0 {
			return strings.TrimSpace(addr[i+1 : i+j])
		}
	}

	return strings.TrimSpace(addr)
}
