package notify

import (
	"context"
	"fmt"
	"time"

	"accountd/internal/domain"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int // 465 uses implicit TLS, anything else STARTTLS
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPTransport opens one connection per message.
type SMTPTransport struct {
	cfg  SMTPConfig
	opts []mail.Option
}

func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp: host and from are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	var opts []mail.Option
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}
	// explicit port last so the TLS options cannot rewrite it
	opts = append(opts, mail.WithPort(cfg.Port), mail.WithTimeout(cfg.Timeout))
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	// Fail fast on bad options instead of on first delivery.
	if _, err := mail.NewClient(cfg.Host, opts...); err != nil {
		return nil, fmt.Errorf("smtp: %w", err)
	}
	return &SMTPTransport{cfg: cfg, opts: opts}, nil
}

func (t *SMTPTransport) Name() string { return "smtp" }

func (t *SMTPTransport) Deliver(ctx context.Context, m Message) error {
	msg := mail.NewMsg()
	if err := msg.From(t.cfg.From); err != nil {
		return fmt.Errorf("%w: from: %v", domain.ErrTransportFailure, err)
	}
	if err := msg.To(m.Recipient); err != nil {
		return fmt.Errorf("%w: to: %v", domain.ErrTransportFailure, err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextHTML, m.HTMLBody)

	client, err := mail.NewClient(t.cfg.Host, t.opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportFailure, err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportFailure, err)
	}
	return nil
}
