// Package notify delivers a captured frame to the site owner.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/capture"
)

var ErrNoFrame = errors.New("no frame to deliver")

type Notifier interface {
	Notify(ctx context.Context, frame capture.Frame) error
}

type MailConfig struct {
	Host     string
	Port     int // default 587
	Username string
	Password string
	From     string
	To       []string
	Subject  string        // default "Vigil: visitor at the door"
	Timeout  time.Duration // default 30s
}

func (c *MailConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 587
	}
	if c.Subject == "" {
		c.Subject = "Vigil: visitor at the door"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.From == "" {
		c.From = c.Username
	}
}

func (c MailConfig) validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("smtp host is required")
	}
	if c.From == "" {
		return errors.New("smtp from address is required")
	}
	if len(c.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	return nil
}

// Mailer sends the frame as a JPEG attachment over authenticated
// STARTTLS SMTP.
type Mailer struct {
	cfg MailConfig
	now func() time.Time
}

func NewMailer(cfg MailConfig) (*Mailer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Mailer{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (m *Mailer) Notify(ctx context.Context, frame capture.Frame) error {
	msg, err := m.message(frame)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(m.cfg.Timeout),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *Mailer) message(frame capture.Frame) (*mail.Msg, error) {
	if len(frame.Data) == 0 {
		return nil, ErrNoFrame
	}

	name := attachmentName(m.now())

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(m.cfg.To...); err != nil {
		return nil, fmt.Errorf("recipient address: %w", err)
	}
	msg.Subject(m.cfg.Subject)
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"A face was detected at the door.\n\nSource: %s\nPhoto file: %s\n", frame.URL, name))
	if err := msg.AttachReader(name, bytes.NewReader(frame.Data)); err != nil {
		return nil, fmt.Errorf("attach frame: %w", err)
	}
	return msg, nil
}

func attachmentName(t time.Time) string {
	return fmt.Sprintf("vigil_%d.jpg", t.Unix())
}

// LogNotifier only logs the delivery. Used when SMTP is not configured.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(_ context.Context, frame capture.Frame) error {
	if len(frame.Data) == 0 {
		return ErrNoFrame
	}
	n.Logger.Printf("notify (log only): frame bytes=%d url=%s", len(frame.Data), frame.URL)
	return nil
}
