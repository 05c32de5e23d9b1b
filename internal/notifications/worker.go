package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/zeh237/taskly/pkg/mail"
	"github.com/zeh237/taskly/pkg/metrics"
)

// Handler processes queued notification tasks.
type Handler struct {
	mailer mail.Mailer
	from   string
	log    *zap.Logger
}

// NewHandler creates a task handler that delivers through mailer.
func NewHandler(mailer mail.Mailer, from string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{mailer: mailer, from: from, log: log}
}

// RegisterHandlers registers all task handlers with the mux.
func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeEmailDelivery, h.HandleEmailDelivery)
}

// HandleEmailDelivery sends one queued email. Malformed payloads are not retried.
func (h *Handler) HandleEmailDelivery(ctx context.Context, t *asynq.Task) error {
	var p EmailDeliveryPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	n := p.Notification()
	if err := n.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if h.mailer == nil {
		return fmt.Errorf("email delivery: no mailer configured: %w", asynq.SkipRetry)
	}

	err := h.mailer.Send(ctx, toMailMessage(n, h.from))
	if errors.Is(err, mail.ErrSMTPDisabled) {
		h.log.Warn("dropping queued email, smtp disabled",
			zap.String("kind", string(n.Kind)),
			zap.String("recipient", n.Recipient),
		)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(string(n.Kind), "failure").Inc()
		h.log.Warn("email delivery failed",
			zap.String("kind", string(n.Kind)),
			zap.String("recipient", n.Recipient),
			zap.Error(err),
		)
		return err
	}

	metrics.NotificationsSent.WithLabelValues(string(n.Kind), "success").Inc()
	h.log.Info("email delivered",
		zap.String("kind", string(n.Kind)),
		zap.String("recipient", n.Recipient),
	)
	return nil
}

// ZapAdapter routes asynq's internal logging through zap.
type ZapAdapter struct {
	log *zap.SugaredLogger
}

// NewZapAdapter wraps log for use as an asynq.Logger.
func NewZapAdapter(log *zap.Logger) *ZapAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapAdapter{log: log.Sugar()}
}

func (a *ZapAdapter) Debug(args ...interface{}) { a.log.Debug(args...) }
func (a *ZapAdapter) Info(args ...interface{})  { a.log.Info(args...) }
func (a *ZapAdapter) Warn(args ...interface{})  { a.log.Warn(args...) }
func (a *ZapAdapter) Error(args ...interface{}) { a.log.Error(args...) }
func (a *ZapAdapter) Fatal(args ...interface{}) { a.log.Fatal(args...) }

var _ asynq.Logger = (*ZapAdapter)(nil)
