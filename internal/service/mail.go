package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/model"
	"github.com/kai-familiar/marmot-cli/pkg/mailer"
)

const DefaultMailSubject = "New message in {{.GroupName}}"

const mailTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
	<p><strong>{{.ShortSender}}</strong> in <strong>{{if .GroupName}}{{.GroupName}}{{else}}{{.GroupID}}{{end}}</strong>{{if not .Timestamp.IsZero}} at {{.Timestamp}}{{end}}</p>
	<blockquote style="white-space: pre-wrap;">{{.Content}}</blockquote>
	<p style="color: #888; font-size: small;">message {{.MessageID}}</p>
</body>
</html>`

type Mailer interface {
	Send(ctx context.Context, msg *mailer.Message) error
}

type MailService struct {
	log     *zap.Logger
	mailer  Mailer
	to      []string
	subject string
}

// NewMailService takes a comma separated recipient list.
func NewMailService(log *zap.Logger, m Mailer, to, subject string) (*MailService, error) {
	var recipients []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}

	if len(recipients) == 0 {
		return nil, apperrors.Config(errors.New("mail recipient is empty"))
	}

	if subject == "" {
		subject = DefaultMailSubject
	}

	return &MailService{
		log:     log,
		mailer:  m,
		to:      recipients,
		subject: subject,
	}, nil
}

func (s *MailService) Name() string {
	return "mail"
}

func (s *MailService) Handle(ctx context.Context, env *model.Envelope) error {
	subject, err := renderSubject(s.subject, &env.Notification)
	if err != nil {
		return apperrors.Config(err)
	}

	body, err := mailer.Render(mailTemplate, &env.Notification)
	if err != nil {
		return fmt.Errorf("render mail: %w", err)
	}

	msg := &mailer.Message{To: s.to, Subject: subject, HTML: body}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return apperrors.Downstream(fmt.Errorf("send mail: %w", err))
	}

	s.log.Debug("Notification mailed", zap.Strings("to", s.to), zap.String("messageID", env.MessageID))

	return nil
}

func renderSubject(tpl string, n *model.Notification) (string, error) {
	t, err := template.New("subject").Parse(tpl)
	if err != nil {
		return "", fmt.Errorf("parse subject template: %w", err)
	}

	var b strings.Builder
	if err := t.Execute(&b, n); err != nil {
		return "", fmt.Errorf("exec subject template: %w", err)
	}

	// group names come from other members, keep the header on one line
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(b.String()), nil
}
