package host

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

// Notifier tells the owner of an entry that its credentials were rejected.
type Notifier interface {
	NotifyAuthFailure(ctx context.Context, entry Entry, cause error) error
}

// LogNotifier only logs, it is used when no smtp server is configured.
type LogNotifier struct{}

func (LogNotifier) NotifyAuthFailure(ctx context.Context, entry Entry, cause error) error {
	slog.WarnContext(
		ctx, "credentials rejected, update the entry's username and password",
		"entry", entry.Title,
		"err", cause,
	)
	return nil
}

// EmailNotifier mails the entry's notify_email, entries without one fall back
// to logging.
type EmailNotifier struct {
	Smtp SmtpConfig
}

func (n EmailNotifier) NotifyAuthFailure(ctx context.Context, entry Entry, cause error) error {
	if entry.NotifyEmail == "" {
		return LogNotifier{}.NotifyAuthFailure(ctx, entry, cause)
	}

	ctx, span := tracer.Start(ctx, "NotifyAuthFailure")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Rakuraku Calendar <%s>", n.Smtp.EmailAddress)
	mail.To = []string{entry.NotifyEmail}
	mail.Subject = fmt.Sprintf("Login failed for %s", entry.Title)
	mail.Text = []byte(authFailureBody(entry, cause))

	addr := fmt.Sprintf("%s:%d", n.Smtp.Server, n.Smtp.Port)
	err := mail.Send(addr, smtp.PlainAuth("", n.Smtp.EmailAddress, n.Smtp.Password, n.Smtp.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}

	slog.InfoContext(ctx, "sent auth failure notification", "entry", entry.Title)
	return nil
}

func authFailureBody(entry Entry, cause error) string {
	return fmt.Sprintf(`The delivery portal rejected the login for "%s" (user %s).

Menu deliveries will not be refreshed until the username and password in the
configuration are updated.

Error: %v`, entry.Title, entry.Username, cause)
}
