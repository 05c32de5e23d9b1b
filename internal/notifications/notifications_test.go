package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeh237/taskly/pkg/mail"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func sampleNotification() Notification {
	return Notification{Kind: KindVerification, Recipient: "amy@example.com", Subject: "Verify your email", Body: "code 123456"}
}

func TestNotificationValidate(t *testing.T) {
	require.NoError(t, sampleNotification().Validate())
	require.Error(t, Notification{Subject: "x"}.Validate())
	require.Error(t, Notification{Recipient: "a@b.c"}.Validate())
}

func TestMailNotifierSendsThroughMailer(t *testing.T) {
	rec := &mail.Recorder{}
	n, err := NewMailNotifier(rec, "noreply@taskly.dev")
	require.NoError(t, err)

	require.NoError(t, n.Send(context.Background(), sampleNotification()))

	msg, ok := rec.Last()
	require.True(t, ok)
	require.Equal(t, []string{"amy@example.com"}, msg.To)
	require.Equal(t, "noreply@taskly.dev", msg.From)
	require.Equal(t, "Verify your email", msg.Subject)
	require.Equal(t, "verification", msg.Headers["X-Taskly-Kind"])
}

func TestMailNotifierPropagatesFailure(t *testing.T) {
	rec := &mail.Recorder{Err: errors.New("smtp down")}
	n, err := NewMailNotifier(rec, "")
	require.NoError(t, err)

	require.EqualError(t, n.Send(context.Background(), sampleNotification()), "smtp down")

	_, err = NewMailNotifier(nil, "")
	require.Error(t, err)
}

func TestLogNotifierLogsBody(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Send(context.Background(), sampleNotification()))
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "code 123456", logs.All()[0].ContextMap()["body"])
}

func TestInstrumentedPassesThroughErrors(t *testing.T) {
	rec := &Recorder{}
	n := Instrumented(rec)
	require.NoError(t, n.Send(context.Background(), sampleNotification()))

	rec.SetErr(errors.New("boom"))
	require.EqualError(t, n.Send(context.Background(), sampleNotification()), "boom")
	require.Equal(t, 2, rec.Calls())
	require.Len(t, rec.Sent(), 1)

	require.Nil(t, Instrumented(nil))
}

func TestQueueNotifierEnqueuesDeliveryTask(t *testing.T) {
	enq := &fakeEnqueuer{}
	n, err := NewQueueNotifier(enq, QueueOptions{})
	require.NoError(t, err)

	require.NoError(t, n.Send(context.Background(), sampleNotification()))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TypeEmailDelivery, enq.tasks[0].Type())

	var payload EmailDeliveryPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, sampleNotification(), payload.Notification())
}

func TestQueueNotifierEnqueueFailureIsDispatchFailure(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("redis unavailable")}
	n, err := NewQueueNotifier(enq, QueueOptions{})
	require.NoError(t, err)

	err = n.Send(context.Background(), sampleNotification())
	require.Error(t, err)
	require.Contains(t, err.Error(), "redis unavailable")

	_, err = NewQueueNotifier(nil, QueueOptions{})
	require.Error(t, err)
}

func TestNewEmailDeliveryTaskRejectsInvalidNotification(t *testing.T) {
	_, err := NewEmailDeliveryTask(Notification{})
	require.Error(t, err)
}

func TestHandleEmailDelivery(t *testing.T) {
	rec := &mail.Recorder{}
	h := NewHandler(rec, "noreply@taskly.dev", nil)

	task, err := NewEmailDeliveryTask(sampleNotification())
	require.NoError(t, err)
	require.NoError(t, h.HandleEmailDelivery(context.Background(), task))

	msg, ok := rec.Last()
	require.True(t, ok)
	require.Equal(t, "code 123456", msg.Body)
}

func TestHandleEmailDeliveryInvalidPayloadSkipsRetry(t *testing.T) {
	h := NewHandler(&mail.Recorder{}, "", nil)

	err := h.HandleEmailDelivery(context.Background(), asynq.NewTask(TypeEmailDelivery, []byte("invalid json")))
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleEmailDeliveryRetriesMailerFailure(t *testing.T) {
	h := NewHandler(&mail.Recorder{Err: errors.New("temporary")}, "", nil)

	task, err := NewEmailDeliveryTask(sampleNotification())
	require.NoError(t, err)

	err = h.HandleEmailDelivery(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleEmailDeliverySMTPDisabledSkipsRetry(t *testing.T) {
	h := NewHandler(&mail.Recorder{Err: mail.ErrSMTPDisabled}, "", nil)

	task, err := NewEmailDeliveryTask(sampleNotification())
	require.NoError(t, err)
	require.ErrorIs(t, h.HandleEmailDelivery(context.Background(), task), asynq.SkipRetry)
}

func TestRegisterHandlers(t *testing.T) {
	mux := asynq.NewServeMux()
	NewHandler(&mail.Recorder{}, "", nil).RegisterHandlers(mux)

	task, err := NewEmailDeliveryTask(sampleNotification())
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(context.Background(), task))
}

func TestTemplates(t *testing.T) {
	v := VerificationMessage("amy@example.com", "Amy", "654321", time.Hour)
	require.Equal(t, KindVerification, v.Kind)
	require.Equal(t, "Verify your email", v.Subject)
	require.Contains(t, v.Body, "654321")
	require.Contains(t, v.Body, "1 hour")

	r := PasswordResetMessage("amy@example.com", "", "111222", 0)
	require.Equal(t, KindPasswordReset, r.Kind)
	require.Contains(t, r.Body, "Hello there")
	require.Contains(t, r.Body, "111222")

	inv := InvitationMessage(InvitationDetails{
		Recipient:          "bob@example.com",
		ProjectName:        "Apollo",
		ProjectDescription: "Moon landing",
		InviterName:        "Amy Adams",
		AcceptURL:          "https://app.example.com/invitations/",
		Token:              "tok-123",
		Expiry:             7 * 24 * time.Hour,
	})
	require.Equal(t, "Invitation to join project: Apollo", inv.Subject)
	require.Contains(t, inv.Body, "Amy Adams")
	require.Contains(t, inv.Body, "Moon landing")
	require.Contains(t, inv.Body, "https://app.example.com/invitations/tok-123")
	require.Contains(t, inv.Body, "7 days")
	require.True(t, strings.HasPrefix(inv.Body, "Amy Adams invited you"))
}

func TestAcceptLink(t *testing.T) {
	require.Equal(t, "http://x/accept/abc", AcceptLink("http://x/accept", "abc"))
	require.Equal(t, "http://x/accept/abc", AcceptLink("http://x/accept/", "abc"))
}

func TestHumanDuration(t *testing.T) {
	require.Equal(t, "1 hour", humanDuration(time.Hour))
	require.Equal(t, "2 hours", humanDuration(2*time.Hour))
	require.Equal(t, "30 minutes", humanDuration(30*time.Minute))
	require.Equal(t, "1.5s", humanDuration(1500*time.Millisecond))
}
