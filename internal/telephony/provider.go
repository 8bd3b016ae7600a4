package telephony

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// Dialer places outbound voice calls that bridge a debtor to an agent.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Dial only issues the request; call progress and the final outcome arrive later
//   through the status callback (see TwilioWebhookHandler).
// - Keep request/response types provider-agnostic.
type Dialer interface {
	Name() string
	Dial(ctx context.Context, req DialRequest) (DialResult, error)
}

// DialRequest asks the provider to call PhoneNumber and connect AgentID on answer.
type DialRequest struct {
	AgentID   string `json:"agent_id"`
	AccountID string `json:"account_id"`

	// PhoneNumber is E.164.
	PhoneNumber string `json:"phone_number"`

	// MachineDetection enables the provider's answering machine detection.
	MachineDetection bool `json:"machine_detection"`
}

type DialResult struct {
	// ProviderCallID is the provider's identifier for the placed call.
	ProviderCallID string `json:"provider_call_id"`
}

var ErrInvalidDialRequest = errors.New("telephony: invalid dial request")

func (r DialRequest) validate() error {
	if r.AgentID == "" || r.AccountID == "" || r.PhoneNumber == "" {
		return ErrInvalidDialRequest
	}
	return nil
}

// LogDialer records dial requests without contacting a provider. It is used for
// local runs where no telephony credentials are configured; outcomes are then
// reported manually through the call-outcome endpoint.
type LogDialer struct {
	Log *slog.Logger
}

func (LogDialer) Name() string { return "log" }

func (d LogDialer) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	if err := req.validate(); err != nil {
		return DialResult{}, err
	}
	id := "local-" + uuid.NewString()
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "dial request", "account_id", req.AccountID, "agent_id", req.AgentID, "provider_call_id", id, "amd", req.MachineDetection)
	return DialResult{ProviderCallID: id}, nil
}
