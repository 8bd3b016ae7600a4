package channels

import (
	"context"
	"errors"
	"strings"
)

// Channel is an alternate contact channel used by escalation steps.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

var (
	ErrUnknownChannel     = errors.New("channels: unknown channel")
	ErrUnknownResult      = errors.New("channels: unknown result")
	ErrUnsupportedChannel = errors.New("channels: no dispatcher for channel")
	ErrMissingContact     = errors.New("channels: missing contact for channel")
)

// ParseChannel accepts the CRM spellings ("SMS", "Email", "WhatsApp").
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelSMS:
		return ChannelSMS, nil
	case ChannelEmail:
		return ChannelEmail, nil
	case ChannelWhatsApp:
		return ChannelWhatsApp, nil
	}
	return "", ErrUnknownChannel
}

// Result is the delivery report for a dispatched step.
type Result string

const (
	ResultDelivered Result = "delivered"
	ResultFailed    Result = "failed"
	ResultResponded Result = "responded"
)

func ParseResult(s string) (Result, error) {
	switch Result(strings.ToLower(strings.TrimSpace(s))) {
	case ResultDelivered:
		return ResultDelivered, nil
	case ResultFailed:
		return ResultFailed, nil
	case ResultResponded:
		return ResultResponded, nil
	}
	return "", ErrUnknownResult
}

// Contact is the debtor's reachable addresses. Phone numbers are E.164.
type Contact struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	WhatsApp string `json:"whatsapp,omitempty"`
}

// SendRequest asks a gateway to deliver one templated message.
type SendRequest struct {
	Channel    Channel `json:"channel"`
	TemplateID string  `json:"template_id"`
	AccountID  string  `json:"account_id"`
	StepIndex  int     `json:"step_index"`
	Contact    Contact `json:"contact"`
}

// Address returns the contact address used for the request's channel.
func (r SendRequest) Address() string {
	switch r.Channel {
	case ChannelSMS:
		return r.Contact.Phone
	case ChannelEmail:
		return r.Contact.Email
	case ChannelWhatsApp:
		if r.Contact.WhatsApp != "" {
			return r.Contact.WhatsApp
		}
		return r.Contact.Phone
	}
	return ""
}

// Dispatcher issues a send request to an external gateway. A returned error means
// the request was not accepted; delivery and replies are reported asynchronously.
type Dispatcher interface {
	Send(ctx context.Context, req SendRequest) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req SendRequest) error

func (f DispatcherFunc) Send(ctx context.Context, req SendRequest) error { return f(ctx, req) }
