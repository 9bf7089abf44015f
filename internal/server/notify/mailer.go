// Package notify sends transactional mail in response to account events.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/dmitrijs2005/modernapi/internal/logging"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
	mail "github.com/go-mail/mail"
)

// Message is a plain-text mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

func NewSMTPSender(host string, port int, user, pass, from string) *SMTPSender {
	return &SMTPSender{Host: host, Port: port, User: user, Pass: pass, From: from}
}

func (s *SMTPSender) message(msg Message) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	return m
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}
	if err := d.DialAndSend(s.message(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// Handler turns account events into notices. Events without a notice are
// ignored.
type Handler struct {
	sender Sender
	logger logging.Logger
}

func NewHandler(sender Sender, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{sender: sender, logger: logger.With("module", "notify")}
}

func (h *Handler) Handle(ctx context.Context, e models.Event) error {
	msg, ok := noticeFor(e)
	if !ok {
		return nil
	}
	if err := h.sender.Send(ctx, msg); err != nil {
		return err
	}
	h.logger.Debug(ctx, "notice sent", "event", e.EventName(), "user_id", e.AggregateID())
	return nil
}

func noticeFor(e models.Event) (Message, bool) {
	switch ev := e.(type) {
	case models.UserRegistered:
		return Message{
			To:      ev.Email,
			Subject: "Welcome to ModernAPI",
			Body:    fmt.Sprintf("Hi %s,\n\nyour account has been created.\n", ev.DisplayName),
		}, true
	case models.PasswordChanged:
		return Message{
			To:      ev.Email,
			Subject: "Your password was changed",
			Body:    "The password of your ModernAPI account was changed. If this was not you, contact support.\n",
		}, true
	case models.EmailChanged:
		// sent to the old address so the owner notices a takeover
		return Message{
			To:      ev.OldEmail,
			Subject: "Your email address was changed",
			Body:    fmt.Sprintf("The sign-in address of your ModernAPI account was changed to %s.\n", ev.NewEmail),
		}, true
	default:
		return Message{}, false
	}
}
