package notify

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"

	"github.com/dropDatabas3/tunneljohn/internal/observability/logger"
)

// SMTPNotifier envía los avisos por email al operador.
type SMTPNotifier struct {
	Host    string
	Port    int
	From    string
	User    string
	Pass    string
	AdminTo string

	// InsecureSkipVerify solo para dev.
	InsecureSkipVerify bool
}

var _ Notifier = (*SMTPNotifier)(nil)

func (s *SMTPNotifier) AccountCreated(ctx context.Context, name string, requesterID int64) {
	subject := fmt.Sprintf("[tunneljohn] account created: %s", name)
	body := fmt.Sprintf("Account %q was provisioned (requester %d).", name, requesterID)
	s.send(subject, body)
}

func (s *SMTPNotifier) ReconcileSummary(ctx context.Context, scanned, deactivated, failed int) {
	subject := fmt.Sprintf("[tunneljohn] expiry sweep: %d deactivated", deactivated)
	body := fmt.Sprintf(
		"Expiry sweep finished.\n\nScanned: %d\nDeactivated: %d\nFailed (will retry): %d\n",
		scanned, deactivated, failed)
	s.send(subject, body)
}

func (s *SMTPNotifier) ProvisioningStuck(ctx context.Context, name, step string) {
	subject := fmt.Sprintf("[tunneljohn] provisioning stuck: %s", name)
	body := fmt.Sprintf(
		"Account %q failed provisioning at step %q and was left inactive.\n"+
			"Run `tunneljohn account finish %s` once the underlying issue is fixed.\n",
		name, step, name)
	s.send(subject, body)
}

func (s *SMTPNotifier) send(subject, body string) {
	log := logger.Named("notify").With(
		logger.String("host", s.Host),
		logger.String("to", s.AdminTo),
	)

	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", s.AdminTo)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{
		ServerName:         s.Host,
		InsecureSkipVerify: s.InsecureSkipVerify,
	}

	if err := d.DialAndSend(m); err != nil {
		log.Error("smtp send failed", logger.Err(err), logger.String("subject", subject))
		return
	}
	log.Debug("notification sent", logger.String("subject", subject))
}
