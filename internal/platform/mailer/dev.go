package mailer

import (
	"github.com/vpass-io/vpass-server/pkg/logger"
)

// DevMailer prints mail to the log instead of sending. Default in dev mode.
type DevMailer struct{}

func NewDevMailer() *DevMailer { return &DevMailer{} }

func (d *DevMailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	logger.Info("dev mail",
		"to", toEmail,
		"to_name", toName,
		"subject", subject,
		"body", text,
	)
	return "dev", nil
}
