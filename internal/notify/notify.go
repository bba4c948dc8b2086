// Package notify sends end-of-run summaries by email.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"

	"github.com/dbsmedya/goharvest/internal/config"
	"github.com/dbsmedya/goharvest/internal/logger"
)

// Summary is what a run reports when it ends.
type Summary struct {
	Job            string
	SucceededCount int
	FailedEntities []string
	MergedRows     int
	Action         string
	ResourceID     string
	// Err is set when the run failed before completing.
	Err  error
	When time.Time
}

// Notifier delivers run summaries. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// sendFunc matches (*email.Email).Send so tests can capture messages.
type sendFunc func(e *email.Email, addr string, a smtp.Auth) error

// SMTPNotifier sends summaries through an SMTP relay with STARTTLS.
type SMTPNotifier struct {
	cfg    config.NotifyConfig
	send   sendFunc
	logger *logger.Logger
}

// NewSMTPNotifier creates an SMTPNotifier from the notify config section.
func NewSMTPNotifier(cfg config.NotifyConfig, log *logger.Logger) *SMTPNotifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &SMTPNotifier{
		cfg:    cfg,
		send:   func(e *email.Email, addr string, a smtp.Auth) error { return e.Send(addr, a) },
		logger: log,
	}
}

// Notify composes and sends the summary. Servers that do not offer AUTH are
// retried without credentials.
func (n *SMTPNotifier) Notify(ctx context.Context, s Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mail := Compose(n.cfg.Sender, n.cfg.To, s)
	addr := fmt.Sprintf("%s:%d", n.cfg.Server, n.cfg.Port)

	err := n.send(mail, addr, smtp.PlainAuth("", n.cfg.Sender, n.cfg.Password, n.cfg.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = n.send(mail, addr, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to send notification to %s: %w", addr, err)
	}

	n.logger.Infof("Notification sent to %s", strings.Join(mail.To, ", "))
	return nil
}

// Compose builds the email for a summary.
func Compose(sender string, to []string, s Summary) *email.Email {
	when := s.When
	if when.IsZero() {
		when = time.Now()
	}
	stamp := when.Format("2006-01-02 15:04:05")

	mail := email.NewEmail()
	mail.From = sender
	for _, addr := range to {
		if addr = strings.TrimSpace(addr); addr != "" {
			mail.To = append(mail.To, addr)
		}
	}

	if s.Err != nil {
		mail.Subject = fmt.Sprintf("[%s] FAILED @ %s", s.Job, stamp)
		mail.Text = []byte(fmt.Sprintf("Run failed at %s\n\nError:\n%v\n", stamp, s.Err))
		return mail
	}

	failed := "-"
	if len(s.FailedEntities) > 0 {
		failed = strings.Join(s.FailedEntities, ", ")
	}
	action := s.Action
	if action == "" {
		action = "none"
	}

	mail.Subject = fmt.Sprintf("[%s] OK=%d FAIL=%d", s.Job, s.SucceededCount, len(s.FailedEntities))
	mail.Text = []byte(fmt.Sprintf(
		"New rows (before merge): %d\nTotal rows (after merge): %d\nRemote: %s id=%s\nFailed: %s\nFinished: %s\n",
		s.SucceededCount, s.MergedRows, action, s.ResourceID, failed, stamp))
	return mail
}
