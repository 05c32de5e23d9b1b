// Package notifications delivers account and invitation messages to email recipients.
// Domain services call a Notifier synchronously and treat any returned error as a
// failed dispatch.
package notifications

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/zeh237/taskly/pkg/mail"
	"github.com/zeh237/taskly/pkg/metrics"
)

// Kind classifies a notification for metrics and logging.
type Kind string

const (
	KindVerification  Kind = "verification"
	KindPasswordReset Kind = "password_reset"
	KindInvitation    Kind = "invitation"
)

// Notification is a single outbound message.
type Notification struct {
	Kind      Kind   `json:"kind"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Validate rejects notifications that can never be delivered.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.Recipient) == "" {
		return errors.New("notification: recipient is required")
	}
	if strings.TrimSpace(n.Subject) == "" {
		return errors.New("notification: subject is required")
	}
	return nil
}

// Notifier sends notifications. Implementations must return an error whenever the
// message was not handed off.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// MailNotifier sends notifications synchronously through a mail.Mailer.
type MailNotifier struct {
	mailer mail.Mailer
	from   string
}

// NewMailNotifier wraps mailer. from overrides the mailer's default sender when set.
func NewMailNotifier(mailer mail.Mailer, from string) (*MailNotifier, error) {
	if mailer == nil {
		return nil, errors.New("mail notifier: mailer is required")
	}
	return &MailNotifier{mailer: mailer, from: strings.TrimSpace(from)}, nil
}

func (m *MailNotifier) Send(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	return m.mailer.Send(ctx, toMailMessage(n, m.from))
}

// LogNotifier writes notifications to the log instead of sending them. It is used when
// SMTP is disabled so development installs can still read codes and links.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier builds a LogNotifier; a nil logger discards output.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Send(_ context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	l.log.Info("notification not sent, smtp disabled",
		zap.String("kind", string(n.Kind)),
		zap.String("recipient", n.Recipient),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body),
	)
	return nil
}

// Instrumented records the outcome of every Send on the notifications counter.
func Instrumented(next Notifier) Notifier {
	if next == nil {
		return nil
	}
	return NotifierFunc(func(ctx context.Context, n Notification) error {
		err := next.Send(ctx, n)
		result := "success"
		if err != nil {
			result = "failure"
		}
		metrics.NotificationsSent.WithLabelValues(string(n.Kind), result).Inc()
		return err
	})
}

func toMailMessage(n Notification, from string) mail.Message {
	return mail.Message{
		From:    from,
		To:      []string{n.Recipient},
		Subject: n.Subject,
		Body:    n.Body,
		Headers: map[string]string{"X-Taskly-Kind": string(n.Kind)},
	}
}
