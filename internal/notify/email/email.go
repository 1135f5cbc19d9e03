// Package email sends the summary as a plain-text message over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/freefinder/internal/notify"
)

// Security modes.
const (
	SecurityStartTLS = "starttls"
	SecurityTLS      = "tls"
	SecurityNone     = "none"
)

// Config holds SMTP connection and addressing settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	// Security is starttls (default), tls for implicit TLS, or none.
	Security string
	Timeout  time.Duration
}

// sender delivers a raw RFC 5322 message.
type sender interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// Channel implements notify.Channel over SMTP.
type Channel struct {
	cfg    Config
	sender sender
	now    func() time.Time
}

// New validates cfg and returns a Channel.
func New(cfg Config) (*Channel, error) {
	if cfg.Security == "" {
		cfg.Security = SecurityStartTLS
	}
	if cfg.Port == 0 {
		cfg.Port = 587
		if cfg.Security == SecurityTLS {
			cfg.Port = 465
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Channel{cfg: cfg, sender: &smtpSender{cfg: cfg}, now: time.Now}, nil
}

func (c Config) validate() error {
	switch {
	case c.Host == "":
		return errors.New("notify.email.host is required")
	case c.From == "":
		return errors.New("notify.email.from is required")
	case len(c.To) == 0:
		return errors.New("notify.email.to is required")
	}
	switch c.Security {
	case SecurityStartTLS, SecurityTLS, SecurityNone:
		return nil
	default:
		return fmt.Errorf("notify.email.security must be starttls, tls or none, got %q", c.Security)
	}
}

// Name implements notify.Channel.
func (c *Channel) Name() string { return "email" }

// Deliver builds the message and hands it to the SMTP sender.
func (c *Channel) Deliver(ctx context.Context, summary notify.Summary) error {
	msg := buildMessage(c.cfg.From, c.cfg.To, summary, c.now())
	if err := c.sender.Send(ctx, c.cfg.From, c.cfg.To, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func buildMessage(from string, to []string, summary notify.Summary, at time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", summary.Headline())
	fmt.Fprintf(&b, "Date: %s\r\n", at.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	for _, line := range summary.Lines() {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

type smtpSender struct {
	cfg Config
}

func (s *smtpSender) Send(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if s.cfg.Security == SecurityTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = client.Close() }()

	if s.cfg.Security == SecurityStartTLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("smtp QUIT: %w", err)
	}
	return nil
}
