package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"collections-orchestrator/internal/telephony"
)

func mustTemplates(t *testing.T) *Templates {
	t.Helper()
	tpl, err := LoadTemplates()
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	return tpl
}

func TestParseChannelAndResult(t *testing.T) {
	if ch, err := ParseChannel("WhatsApp"); err != nil || ch != ChannelWhatsApp {
		t.Fatalf("unexpected %q %v", ch, err)
	}
	if _, err := ParseChannel("fax"); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
	if r, err := ParseResult("Responded"); err != nil || r != ResultResponded {
		t.Fatalf("unexpected %q %v", r, err)
	}
}

func TestSendRequestAddress(t *testing.T) {
	c := Contact{Phone: "+15551234567", Email: "d@example.com"}
	if (SendRequest{Channel: ChannelWhatsApp, Contact: c}).Address() != "+15551234567" {
		t.Fatalf("whatsapp must fall back to phone")
	}
	if (SendRequest{Channel: ChannelEmail, Contact: c}).Address() != "d@example.com" {
		t.Fatalf("email address expected")
	}
}

func TestTemplates_Render(t *testing.T) {
	tpl := mustTemplates(t)
	subject, body, err := tpl.Render(SendRequest{TemplateID: "payment-reminder-email", AccountID: "ACC-9", Contact: Contact{Name: "Dana"}})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject != "Your account ACC-9 needs attention" || !strings.Contains(body, "Dear Dana") {
		t.Fatalf("unexpected render %q / %q", subject, body)
	}
	_, body, _ = tpl.Render(SendRequest{TemplateID: "payment-reminder-sms", AccountID: "ACC-9"})
	if !strings.HasPrefix(body, "Hi customer,") {
		t.Fatalf("expected default name, got %q", body)
	}
	if _, _, err := tpl.Render(SendRequest{TemplateID: "missing"}); err == nil {
		t.Fatalf("expected unknown template error")
	}
}

func TestMux_RoutesByChannel(t *testing.T) {
	var got []Channel
	rec := DispatcherFunc(func(ctx context.Context, req SendRequest) error {
		got = append(got, req.Channel)
		return nil
	})
	m := NewMux(0, nil)
	m.Handle(ChannelSMS, rec)
	m.Handle(ChannelEmail, rec)

	c := Contact{Phone: "+15551234567"}
	if err := m.Send(context.Background(), SendRequest{Channel: ChannelSMS, Contact: c}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := m.Send(context.Background(), SendRequest{Channel: ChannelWhatsApp, Contact: c}); !errors.Is(err, ErrUnsupportedChannel) {
		t.Fatalf("expected ErrUnsupportedChannel, got %v", err)
	}
	if err := m.Send(context.Background(), SendRequest{Channel: ChannelEmail, Contact: c}); !errors.Is(err, ErrMissingContact) {
		t.Fatalf("expected ErrMissingContact, got %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one dispatch, got %v", got)
	}
}

func TestTwilioSMS_Send(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/Messages.json") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		form = r.PostForm
		_, _ = w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer srv.Close()

	client := telephony.NewTwilioClient("AC1", "tok")
	client.BaseURL = srv.URL
	sms := &TwilioSMS{Client: client, FromNumber: "+15550001111", Templates: mustTemplates(t)}
	err := sms.Send(context.Background(), SendRequest{Channel: ChannelSMS, TemplateID: "payment-reminder-sms", AccountID: "ACC-1", Contact: Contact{Phone: "+15551234567"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if form.Get("To") != "+15551234567" || !strings.Contains(form.Get("Body"), "ACC-1") {
		t.Fatalf("unexpected form %v", form)
	}
}

func TestWhatsAppClient_Send(t *testing.T) {
	var payload whatsappRequest
	var auth, device string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		device = r.Header.Get("X-Device-Id")
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewWhatsAppClient(srv.URL+"/", "user:pass", "dev-1", mustTemplates(t))
	err := c.Send(context.Background(), SendRequest{Channel: ChannelWhatsApp, TemplateID: "payment-reminder-whatsapp", AccountID: "ACC-1", Contact: Contact{Phone: "+15551234567"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if payload.Phone != "15551234567" || auth != "Basic dXNlcjpwYXNz" || device != "dev-1" {
		t.Fatalf("unexpected request phone=%q auth=%q device=%q", payload.Phone, auth, device)
	}
}

func TestWhatsAppClient_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device offline", http.StatusBadGateway)
	}))
	defer srv.Close()
	c := NewWhatsAppClient(srv.URL, "", "", mustTemplates(t))
	err := c.Send(context.Background(), SendRequest{Channel: ChannelWhatsApp, TemplateID: "payment-reminder-whatsapp", Contact: Contact{Phone: "+1"}})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestSMTPSender_BuildsMessage(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{FromEmail: "collections@example.com", FromName: "Collections"}, mustTemplates(t))
	msg, err := s.message(SendRequest{Channel: ChannelEmail, TemplateID: "payment-reminder-email", AccountID: "ACC-7", Contact: Contact{Email: "debtor@example.com", Name: "Lee"}})
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "debtor@example.com") || !strings.Contains(out, "ACC-7") {
		t.Fatalf("unexpected message:\n%s", out)
	}
	if _, err := s.message(SendRequest{Channel: ChannelEmail, TemplateID: "payment-reminder-email", Contact: Contact{Email: "not an address"}}); err == nil {
		t.Fatalf("expected invalid recipient error")
	}
}
