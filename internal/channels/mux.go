package channels

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Mux routes send requests to the dispatcher registered for the channel.
type Mux struct {
	handlers map[Channel]Dispatcher
	timeout  time.Duration
	log      *slog.Logger
}

// NewMux returns an empty mux. timeout bounds each gateway call.
func NewMux(timeout time.Duration, log *slog.Logger) *Mux {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Mux{handlers: make(map[Channel]Dispatcher), timeout: timeout, log: log.With("component", "channel_mux")}
}

func (m *Mux) Handle(ch Channel, d Dispatcher) {
	if d == nil {
		return
	}
	m.handlers[ch] = d
}

func (m *Mux) Send(ctx context.Context, req SendRequest) error {
	d, ok := m.handlers[req.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedChannel, req.Channel)
	}
	if req.Address() == "" {
		return fmt.Errorf("%w: %s", ErrMissingContact, req.Channel)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := d.Send(ctx, req)
	attrs := []any{
		"channel", req.Channel,
		"account_id", req.AccountID,
		"step_index", req.StepIndex,
		"template_id", req.TemplateID,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		m.log.Warn("channel send failed", append(attrs, "err", err)...)
		return err
	}
	m.log.Info("channel send accepted", attrs...)
	return nil
}

// LogDispatcher accepts every request and only logs it. Used for channels without
// configured gateway credentials in local runs.
type LogDispatcher struct {
	Log *slog.Logger
}

func (d LogDispatcher) Send(ctx context.Context, req SendRequest) error {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "channel send (log only)", "channel", req.Channel, "account_id", req.AccountID, "template_id", req.TemplateID)
	return nil
}
