package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubClient struct {
	from    string
	rcpts   []string
	data    bytes.Buffer
	authed  bool
	quit    bool
	closed  bool
	rcptErr error
}

func (c *stubClient) Mail(from string) error { c.from = from; return nil }
func (c *stubClient) Rcpt(to string) error {
	if c.rcptErr != nil {
		return c.rcptErr
	}
	c.rcpts = append(c.rcpts, to)
	return nil
}
func (c *stubClient) Data() (io.WriteCloser, error) { return nopWriteCloser{&c.data}, nil }
func (c *stubClient) Quit() error                   { c.quit = true; return nil }
func (c *stubClient) Close() error                  { c.closed = true; return nil }
func (c *stubClient) Auth(smtp.Auth) error          { c.authed = true; return nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newStubMailer(t *testing.T, cfg SMTPSettings, client *stubClient) *smtpMailer {
	t.Helper()

	mailer, err := NewSMTPMailer(cfg)
	require.NoError(t, err)
	sm := mailer.(*smtpMailer)
	sm.dial = func(context.Context, SMTPSettings) (smtpClient, error) { return client, nil }
	sm.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }
	return sm
}

func enabledSettings() SMTPSettings {
	return SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587, From: "no-reply@taskly.dev"}
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.ErrorContains(t, err, "port is required")

	mailer, err := NewSMTPMailer(SMTPSettings{})
	require.NoError(t, err)
	require.Equal(t, defaultSMTPTimeout, mailer.(*smtpMailer).cfg.Timeout)
}

func TestSMTPMailerSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{To: []string{"test@example.com"}, Subject: "Test"})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestSMTPMailerSendWritesMessage(t *testing.T) {
	client := &stubClient{}
	mailer := newStubMailer(t, enabledSettings(), client)

	err := mailer.Send(context.Background(), Message{
		To:      []string{"amy@example.com", "AMY@example.com", " bob@example.com "},
		Subject: "Invitation\r\nto join",
		Body:    "line one\nline two",
		Headers: map[string]string{"X-Taskly-Kind": "invitation"},
	})
	require.NoError(t, err)

	require.Equal(t, "no-reply@taskly.dev", client.from)
	require.Equal(t, []string{"amy@example.com", "bob@example.com"}, client.rcpts)
	require.False(t, client.authed)
	require.True(t, client.quit)
	require.True(t, client.closed)

	raw := client.data.String()
	require.Contains(t, raw, "Date: Wed, 01 May 2024 09:30:00 +0000\r\n")
	require.Contains(t, raw, "Subject: Invitation  to join\r\n")
	require.Contains(t, raw, "X-Taskly-Kind: invitation\r\n")
	require.Contains(t, raw, "@taskly.dev>\r\n")
	require.True(t, strings.HasSuffix(raw, "\r\n\r\nline one\r\nline two"))
}

func TestSMTPMailerAuthenticatesWhenUsernameSet(t *testing.T) {
	cfg := enabledSettings()
	cfg.Username = "mailer"
	cfg.Password = "secret"
	client := &stubClient{}

	require.NoError(t, newStubMailer(t, cfg, client).Send(context.Background(), Message{To: []string{"amy@example.com"}}))
	require.True(t, client.authed)
}

func TestSMTPMailerSendValidation(t *testing.T) {
	cfg := enabledSettings()
	cfg.From = ""
	mailer := newStubMailer(t, cfg, &stubClient{})

	err := mailer.Send(context.Background(), Message{To: []string{"  ", "\t"}})
	require.ErrorContains(t, err, "at least one recipient")

	err = mailer.Send(context.Background(), Message{To: []string{"amy@example.com"}})
	require.ErrorContains(t, err, "sender address is required")

	err = mailer.Send(context.Background(), Message{From: "invalid-from", To: []string{"amy@example.com"}})
	require.ErrorContains(t, err, "invalid from address")

	err = mailer.Send(context.Background(), Message{From: "ops@taskly.dev", To: []string{"amy@example.com", "bad-address"}})
	require.ErrorContains(t, err, "invalid recipient address")
}

func TestSMTPMailerWrapsRecipientRejection(t *testing.T) {
	client := &stubClient{rcptErr: errors.New("550 mailbox unavailable")}
	mailer := newStubMailer(t, enabledSettings(), client)

	err := mailer.Send(context.Background(), Message{To: []string{"amy@example.com"}})
	require.ErrorContains(t, err, "rcpt to amy@example.com")
	require.True(t, client.closed)
	require.False(t, client.quit)
}

func TestSenderDomain(t *testing.T) {
	require.Equal(t, "taskly.dev", senderDomain("Taskly <no-reply@taskly.dev>"))
	require.Equal(t, "localhost", senderDomain("nobody"))
}

func TestRecorderCapturesMessages(t *testing.T) {
	rec := &Recorder{}
	require.NoError(t, rec.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "one"}))
	require.NoError(t, rec.Send(context.Background(), Message{To: []string{"b@example.com"}, Subject: "two"}))

	require.Len(t, rec.Messages(), 2)
	last, ok := rec.Last()
	require.True(t, ok)
	require.Equal(t, "two", last.Subject)

	rec.Err = ErrSMTPDisabled
	require.ErrorIs(t, rec.Send(context.Background(), Message{To: []string{"c@example.com"}}), ErrSMTPDisabled)
	require.Len(t, rec.Messages(), 2, "failed send must not be recorded")
}
