// Package notification delivers user-facing email and SMS messages through
// a work queue. Producers never block on delivery: a message is published
// and a worker delivers it at least once, deduplicating by message id.
package notification

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is the unit placed on the queue.
type Message struct {
	ID        string    `json:"id"`
	Channel   Channel   `json:"channel"`
	To        string    `json:"to"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	Attempt   int       `json:"attempt,omitempty"`
}

// Notifier accepts messages for asynchronous delivery.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

func newID() string {
	return ulid.Make().String()
}

// Email builds an email message with a fresh id.
func Email(kind, to, subject, body string) Message {
	return Message{
		ID:        newID(),
		Channel:   ChannelEmail,
		To:        to,
		Subject:   subject,
		Body:      body,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// SMS builds a text message with a fresh id.
func SMS(kind, to, body string) Message {
	return Message{
		ID:        newID(),
		Channel:   ChannelSMS,
		To:        to,
		Body:      body,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// Message kinds
const (
	KindOTP               = "otp"
	KindPasswordReset     = "password_reset"
	KindEmailVerification = "email_verification"
	KindTransferSent      = "transfer_sent"
	KindTransferReceived  = "transfer_received"
	KindPurchase          = "purchase"
	KindWalletFunded      = "wallet_funded"
	KindRefund            = "refund"
)
