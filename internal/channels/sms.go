package channels

import (
	"context"
	"net/url"

	"collections-orchestrator/internal/telephony"
)

// TwilioSMS sends SMS through Twilio's Messages resource.
type TwilioSMS struct {
	Client     *telephony.TwilioClient
	FromNumber string
	Templates  *Templates

	// StatusCallbackURL, when set, receives Twilio delivery reports.
	StatusCallbackURL string
}

func (s *TwilioSMS) Send(ctx context.Context, req SendRequest) error {
	_, body, err := s.Templates.Render(req)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("To", req.Address())
	form.Set("From", s.FromNumber)
	form.Set("Body", body)
	if s.StatusCallbackURL != "" {
		form.Set("StatusCallback", s.StatusCallbackURL)
	}
	_, err = s.Client.Create(ctx, "Messages", form)
	return err
}
