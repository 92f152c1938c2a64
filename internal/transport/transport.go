package transport

import (
	"context"
	"errors"
)

var ErrNoRecipient = errors.New("message has no recipient")
var ErrNoSender = errors.New("message has no sender")

// Message is one e-mail to exactly one recipient
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string // derived from HTML when empty
}

func (m Message) Validate() error {
	if m.To == "" {
		return ErrNoRecipient
	}
	if m.From == "" {
		return ErrNoSender
	}
	return nil
}

// Sender hands a message over to a mail transport and returns the message id it was sent with
type Sender interface {
	Send(ctx context.Context, msg Message) (messageId string, err error)
}

// Verifier is implemented by transports that can check that they are able to send, eg. that the relay
// is reachable and accepts our credentials.
type Verifier interface {
	Verify(ctx context.Context) error
}

type SenderFunc func(ctx context.Context, msg Message) (string, error)

func (f SenderFunc) Send(ctx context.Context, msg Message) (string, error) {
	return f(ctx, msg)
}
