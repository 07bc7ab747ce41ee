// Package delivery defines the outbound message channel boundary. The
// engine owns templating and consent; transport is opaque behind Sender.
package delivery

import (
	"context"

	"github.com/google/uuid"
)

// Channel identifies the transport for an outbound message.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelVoice    Channel = "voice"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// Message is one rendered outbound message. To holds a phone number for
// sms/voice/whatsapp and an email address for email. Subject only applies
// to email.
type Message struct {
	ContactID uuid.UUID
	To        string
	Channel   Channel
	Subject   string
	Body      string
}

// Result reports the outcome of a single delivery attempt.
type Result struct {
	Success    bool   `json:"success"`
	ProviderID string `json:"provider_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Sender delivers a rendered message to a contact. A timeout on ctx bounds
// the attempt; expiry is a delivery failure, never a hang. Implementations
// do not retry; retry policy belongs to callers (or the provider).
type Sender interface {
	Send(ctx context.Context, msg Message) Result
}

// Router dispatches messages to the right transport per channel.
type Router struct {
	phone Sender // sms, voice, whatsapp
	email Sender // may be nil when email delivery is not configured
}

// NewRouter creates a channel router. email may be nil.
func NewRouter(phone, email Sender) *Router {
	return &Router{phone: phone, email: email}
}

// Send routes the message by channel.
func (r *Router) Send(ctx context.Context, msg Message) Result {
	if msg.Channel == ChannelEmail {
		if r.email == nil {
			return Result{Success: false, Error: "email delivery not configured"}
		}
		return r.email.Send(ctx, msg)
	}
	return r.phone.Send(ctx, msg)
}
