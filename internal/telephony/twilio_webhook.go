package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"collections-orchestrator/internal/calls"
)

// Webhook paths registered by cmd/api and referenced in outbound dial requests.
const (
	BridgePath         = "/webhooks/twilio/voice-bridge"
	StatusCallbackPath = "/webhooks/twilio/voice-status"
)

// TwilioStatusForm captures the subset of status callback fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
//
// Keep it minimal and provider-adapter-only.
type TwilioStatusForm struct {
	CallSid      string
	CallStatus   string
	AnsweredBy   string
	CallDuration int
	To           string

	// AccountID and AgentID come from the callback URL query set by TwilioDialer.
	AccountID string
	AgentID   string
}

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	dur, _ := strconv.Atoi(r.PostFormValue("CallDuration"))
	return TwilioStatusForm{
		CallSid:      r.PostFormValue("CallSid"),
		CallStatus:   strings.TrimSpace(r.PostFormValue("CallStatus")),
		AnsweredBy:   strings.TrimSpace(r.PostFormValue("AnsweredBy")),
		CallDuration: dur,
		To:           strings.TrimSpace(r.PostFormValue("To")),
		AccountID:    r.URL.Query().Get("account_id"),
		AgentID:      r.URL.Query().Get("agent_id"),
	}, nil
}

// Status maps Twilio's CallStatus to the provider-agnostic call status.
// Twilio reports "answered" as a StatusCallbackEvent name on some accounts; it is
// treated as in-progress.
func (f TwilioStatusForm) Status() calls.CallStatus {
	switch strings.ToLower(f.CallStatus) {
	case "queued", "initiated":
		return calls.CallStatusQueued
	case "ringing":
		return calls.CallStatusRinging
	case "in-progress", "answered":
		return calls.CallStatusInProgress
	case "completed":
		return calls.CallStatusCompleted
	case "busy":
		return calls.CallStatusBusy
	case "no-answer":
		return calls.CallStatusNoAnswer
	case "canceled":
		return calls.CallStatusCanceled
	default:
		return calls.CallStatusFailed
	}
}

// ValidateTwilioSignature checks X-Twilio-Signature: base64(HMAC-SHA1(authToken,
// fullURL + each POST param name and value, sorted by name)).
func ValidateTwilioSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
