// Package emailadapter delivers alerts over SMTP. Grounded on the fan-out
// shape of internal/service/failurenotifier (build message, hand to one
// sink, classify the outcome) but using net/smtp since no third-party SMTP
// client appears anywhere in the retrieval pack — see DESIGN.md.
package emailadapter

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/target/mmk-ui-api/internal/ports"
)

// Config configures the SMTP connection used to deliver email alerts.
type Config struct {
	SMTPHost string
	SMTPPort int
	From     string
	Username string
	Password string
	Timeout  time.Duration
}

// Adapter implements ports.NotificationAdapter for the "email" channel.
type Adapter struct {
	cfg  Config
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New builds an email Adapter from cfg.
func New(cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Adapter{cfg: cfg, send: smtp.SendMail}
}

func (a *Adapter) Channel() string { return "email" }

// Deliver sends one alert as a plain-text email to cfg.EmailTo.
func (a *Adapter) Deliver(ctx context.Context, cfg ports.ChannelConfig, alert ports.AlertData) (ports.DeliveryResult, error) {
	to := strings.TrimSpace(cfg.EmailTo)
	if to == "" {
		return ports.DeliveryResult{Success: false, Error: "email channel config missing EmailTo"}, nil
	}

	msg := formatMessage(a.cfg.From, to, alert)

	var auth smtp.Auth
	if a.cfg.Username != "" {
		auth = smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.SMTPHost)
	}

	addr := fmt.Sprintf("%s:%d", a.cfg.SMTPHost, a.cfg.SMTPPort)
	if err := a.send(addr, auth, a.cfg.From, []string{to}, msg); err != nil {
		return ports.DeliveryResult{Success: false, Error: err.Error()}, nil
	}

	return ports.DeliveryResult{Success: true, MessageID: uuid.NewString()}, nil
}

func formatMessage(from, to string, alert ports.AlertData) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(string(alert.Severity)), alert.Title)
	b.WriteString("\r\n")
	b.WriteString(alert.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
