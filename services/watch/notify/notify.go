// Package notify delivers match notifications. Delivery is best-effort:
// every message is logged before any transport attempt, and transport
// failures never propagate past the dispatcher.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("dropwatch.services.watch.notify")

// SMS gateways cut messages hard, long-form email much later.
const (
	SmsBodyLimit   = 450
	BatchBodyLimit = 4000
)

type Message struct {
	Subject string
	Body    string
}

// Transport is the opaque send capability. Implementations raise on
// failure; the dispatcher catches.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

// SmtpTransport sends through an authenticated outbound relay. The
// recipients may be plain mailboxes or SMS-gateway addresses.
type SmtpTransport struct {
	Config     SmtpConfig
	Recipients []string
}

func (t SmtpTransport) Send(ctx context.Context, msg Message) error {
	ctx, span := tracer.Start(ctx, "transport:Send")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("dropwatch <%s>", t.Config.EmailAddress)
	mail.To = t.Recipients
	mail.Subject = msg.Subject
	mail.Text = []byte(msg.Body)

	addr := fmt.Sprintf("%s:%d", t.Config.Server, t.Config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", t.Config.EmailAddress, t.Config.Password, t.Config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}

// Dispatcher wraps a transport with the always-log, never-fail-the-run
// policy. SmsMode truncates per-event bodies to the gateway limit.
type Dispatcher struct {
	Transport Transport
	SmsMode   bool
}

// Notify sends one message for a single event summary. The returned
// error is for recording only; callers must not treat it as fatal.
func (d Dispatcher) Notify(ctx context.Context, summary, url string) error {
	body := fmt.Sprintf("%s\n%s", summary, url)
	limit := 0
	if d.SmsMode {
		limit = SmsBodyLimit
	}
	return d.send(ctx, Message{
		Subject: "New drop-in session",
		Body:    Truncate(body, limit),
	})
}

// NotifyBatch composes every summary into a single message.
func (d Dispatcher) NotifyBatch(ctx context.Context, lines []string) error {
	body := strings.Join(lines, "\n\n")
	return d.send(ctx, Message{
		Subject: fmt.Sprintf("%d new drop-in sessions", len(lines)),
		Body:    Truncate(body, BatchBodyLimit),
	})
}

func (d Dispatcher) send(ctx context.Context, msg Message) error {
	ctx, span := tracer.Start(ctx, "dispatcher:send")
	defer span.End()

	slog.InfoContext(ctx, "notify", "subject", msg.Subject, "body", msg.Body)
	if d.Transport == nil {
		return nil
	}

	err := d.Transport.Send(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport rejected message")
		slog.WarnContext(ctx, "notification transport failed", "err", err)
		return err
	}
	return nil
}

// Truncate cuts s to at most max runes, appending an ellipsis when it
// had to cut. max <= 0 means no limit.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
