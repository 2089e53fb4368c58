package notification

import (
	"context"
	"fmt"

	"github.com/go-gomail/gomail"
)

// Dialer sends composed messages. *gomail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Contact resolves a user id to a deliverable address.
type Contact struct {
	Name  string
	Email string
}

type ContactLookup interface {
	Contact(ctx context.Context, userID string) (Contact, error)
}

// EmailSink mails the message to the user's registered address. Users
// without an address are skipped without error.
type EmailSink struct {
	dialer  Dialer
	from    string
	subject string
	lookup  ContactLookup
}

func NewEmailSink(dialer Dialer, from, subject string, lookup ContactLookup) *EmailSink {
	return &EmailSink{dialer: dialer, from: from, subject: subject, lookup: lookup}
}

// NewSMTPDialer builds the gomail dialer for the configured relay.
func NewSMTPDialer(host string, port int, user, password string) *gomail.Dialer {
	return gomail.NewDialer(host, port, user, password)
}

func (s *EmailSink) Notify(ctx context.Context, userID, message string) error {
	contact, err := s.lookup.Contact(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: resolve contact %s: %w", ErrNotificationFailed, userID, err)
	}
	if contact.Email == "" {
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetAddressHeader("To", contact.Email, contact.Name)
	m.SetHeader("Subject", s.subject)
	m.SetBody("text/plain", message)

	// gomail has no context support; WithTimeout bounds the wait.
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("%w: smtp: %w", ErrNotificationFailed, err)
	}
	return nil
}
