package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioClient is a minimal Twilio REST client (form-encoded POST, basic auth).
// It intentionally avoids any provider SDK dependency.
type TwilioClient struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTP       *http.Client
}

func NewTwilioClient(accountSID, authToken string) *TwilioClient {
	return &TwilioClient{
		AccountSID: accountSID,
		AuthToken:  authToken,
		BaseURL:    defaultTwilioBaseURL,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
	}
}

// twilioResource is the subset of Twilio's Call/Message resource we read back.
type twilioResource struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Create POSTs form to /Accounts/{sid}/{resource}.json and returns the created SID.
func (c *TwilioClient) Create(ctx context.Context, resource string, form url.Values) (string, error) {
	if c.AccountSID == "" || c.AuthToken == "" {
		return "", errors.New("telephony: twilio credentials not configured")
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/%s.json", strings.TrimRight(c.BaseURL, "/"), url.PathEscape(c.AccountSID), resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var res twilioResource
	_ = json.Unmarshal(data, &res)
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("twilio returned %d: code=%d %s", resp.StatusCode, res.Code, strings.TrimSpace(res.Message))
	}
	if res.SID == "" {
		return "", errors.New("telephony: twilio response missing sid")
	}
	return res.SID, nil
}

// TwilioDialer places calls through the Calls resource. When the debtor answers,
// Twilio fetches BridgeURL, which returns TwiML dialing the agent's SIP endpoint.
type TwilioDialer struct {
	Client     *TwilioClient
	FromNumber string

	// PublicBaseURL is where Twilio reaches this service, e.g. https://dialer.example.com.
	PublicBaseURL string
}

func NewTwilioDialer(client *TwilioClient, fromNumber, publicBaseURL string) *TwilioDialer {
	return &TwilioDialer{Client: client, FromNumber: fromNumber, PublicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

func (d *TwilioDialer) Name() string { return "twilio" }

func (d *TwilioDialer) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	if err := req.validate(); err != nil {
		return DialResult{}, err
	}
	q := url.Values{}
	q.Set("account_id", req.AccountID)
	q.Set("agent_id", req.AgentID)

	form := url.Values{}
	form.Set("To", req.PhoneNumber)
	form.Set("From", d.FromNumber)
	form.Set("Url", d.PublicBaseURL+BridgePath+"?"+q.Encode())
	form.Set("StatusCallback", d.PublicBaseURL+StatusCallbackPath+"?"+q.Encode())
	form.Set("StatusCallbackMethod", http.MethodPost)
	for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
		form.Add("StatusCallbackEvent", ev)
	}
	if req.MachineDetection {
		form.Set("MachineDetection", "Enable")
	}

	sid, err := d.Client.Create(ctx, "Calls", form)
	if err != nil {
		return DialResult{}, err
	}
	return DialResult{ProviderCallID: sid}, nil
}
