package channels

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WhatsAppClient sends messages through an HTTP WhatsApp gateway
// (POST {baseURL}/send/message with {"phone","message"}).
type WhatsAppClient struct {
	baseURL   string
	apiKey    string
	deviceID  string
	http      *http.Client
	templates *Templates
}

type whatsappRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func NewWhatsAppClient(baseURL, apiKey, deviceID string, templates *Templates) *WhatsAppClient {
	return &WhatsAppClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		deviceID:  deviceID,
		http:      &http.Client{Timeout: 10 * time.Second},
		templates: templates,
	}
}

func (c *WhatsAppClient) Send(ctx context.Context, req SendRequest) error {
	_, text, err := c.templates.Render(req)
	if err != nil {
		return err
	}
	body, err := json.Marshal(whatsappRequest{
		Phone:   strings.TrimPrefix(req.Address(), "+"),
		Message: text,
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send/message", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", formatAuthHeader(c.apiKey))
	}
	if c.deviceID != "" {
		httpReq.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(apiKey))
}
