package notifications

import (
	"fmt"
	"strings"
	"time"
)

// VerificationMessage carries the account's first verification code.
func VerificationMessage(recipient, firstName, code string, ttl time.Duration) Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", greetingName(firstName))
	fmt.Fprintf(&b, "Your verification code is: %s\n\n", code)
	fmt.Fprintf(&b, "The code is valid for %s. If you did not create an account, ignore this email.\n", humanDuration(ttl))

	return Notification{
		Kind:      KindVerification,
		Recipient: recipient,
		Subject:   "Verify your email",
		Body:      b.String(),
	}
}

// PasswordResetMessage carries a password reset code.
func PasswordResetMessage(recipient, firstName, code string, ttl time.Duration) Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", greetingName(firstName))
	fmt.Fprintf(&b, "Use this code to reset your password: %s\n\n", code)
	if ttl > 0 {
		fmt.Fprintf(&b, "The code is valid for %s. ", humanDuration(ttl))
	}
	b.WriteString("If you did not request a reset, you can ignore this email.\n")

	return Notification{
		Kind:      KindPasswordReset,
		Recipient: recipient,
		Subject:   "Reset your password",
		Body:      b.String(),
	}
}

// InvitationDetails describes an invitation email.
type InvitationDetails struct {
	Recipient          string
	ProjectName        string
	ProjectDescription string
	InviterName        string
	AcceptURL          string
	Token              string
	Expiry             time.Duration
}

// AcceptLink joins the configured accept URL with the invitation token.
func AcceptLink(acceptURL, token string) string {
	return strings.TrimRight(acceptURL, "/") + "/" + token
}

// InvitationMessage builds the invitation email with its acceptance link.
func InvitationMessage(d InvitationDetails) Notification {
	inviter := strings.TrimSpace(d.InviterName)
	if inviter == "" {
		inviter = "A project member"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s invited you to join the project %q.\n\n", inviter, d.ProjectName)
	if desc := strings.TrimSpace(d.ProjectDescription); desc != "" {
		fmt.Fprintf(&b, "%s\n\n", desc)
	}
	fmt.Fprintf(&b, "Accept the invitation: %s\n", AcceptLink(d.AcceptURL, d.Token))
	if d.Expiry > 0 {
		fmt.Fprintf(&b, "\nThe invitation expires in %s.\n", humanDuration(d.Expiry))
	}

	return Notification{
		Kind:      KindInvitation,
		Recipient: d.Recipient,
		Subject:   "Invitation to join project: " + d.ProjectName,
		Body:      b.String(),
	}
}

func greetingName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "there"
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
