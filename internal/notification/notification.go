// Package notification delivers member facing messages. Welcome mail
// failures are reported to callers but never block membership flows.
package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/smallbiznis/famlink/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Origin tags where a notification was triggered from, carried in the
// message headers for downstream filtering.
type Origin string

const (
	OriginFamilyEnrollment Origin = "family_enrollment"
	OriginFamilyRemoval    Origin = "family_removal"
)

type WelcomeMessage struct {
	Email     string
	FirstName string
	OwnerName string
	Origin    Origin
}

type Provider interface {
	SendWelcome(ctx context.Context, msg WelcomeMessage) error
}

var ErrInvalidRecipient = errors.New("notification_invalid_recipient")

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<html>
<body>
<p>Hi {{.FirstName}},</p>
<p>{{.OwnerName}} added you to their family membership. Your account is ready to use.</p>
</body>
</html>`))

type smtpProvider struct {
	host     string
	port     int
	username string
	password string
	from     string
	log      *zap.Logger
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// New returns the SMTP provider, or a logging no-op when SMTP is not
// configured.
func New(p Params) Provider {
	log := p.Log.Named("notification")
	if p.Cfg.SMTPHost == "" {
		log.Info("smtp not configured, welcome mail disabled")
		return &noopProvider{log: log}
	}
	return &smtpProvider{
		host:     p.Cfg.SMTPHost,
		port:     p.Cfg.SMTPPort,
		username: p.Cfg.SMTPUsername,
		password: p.Cfg.SMTPPassword,
		from:     p.Cfg.SMTPFrom,
		log:      log,
	}
}

func (p *smtpProvider) SendWelcome(ctx context.Context, msg WelcomeMessage) error {
	if msg.Email == "" {
		return ErrInvalidRecipient
	}

	var body bytes.Buffer
	if err := welcomeTemplate.Execute(&body, msg); err != nil {
		return err
	}

	auth := smtp.PlainAuth("", p.username, p.password, p.host)
	addr := fmt.Sprintf("%s:%d", p.host, p.port)

	headers := fmt.Sprintf("To: %s\r\nSubject: Welcome to your family membership\r\nX-Famlink-Origin: %s\r\nMIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n", msg.Email, msg.Origin)
	raw := []byte(headers + body.String())

	if err := smtp.SendMail(addr, auth, p.from, []string{msg.Email}, raw); err != nil {
		return err
	}
	p.log.Info("welcome mail sent",
		zap.String("email", msg.Email),
		zap.String("origin", string(msg.Origin)),
	)
	return nil
}

type noopProvider struct {
	log *zap.Logger
}

func (p *noopProvider) SendWelcome(ctx context.Context, msg WelcomeMessage) error {
	p.log.Debug("welcome mail skipped",
		zap.String("email", msg.Email),
		zap.String("origin", string(msg.Origin)),
	)
	return nil
}

var Module = fx.Module("notification",
	fx.Provide(New),
)
