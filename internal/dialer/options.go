package dialer

import "time"

// Options tunes the scheduling loop. AMD and multi-channel escalation are passed in
// explicitly from config.
type Options struct {
	TickInterval          time.Duration
	MaxAssignmentsPerTick int
	// DialsPerSecond paces dial requests; 0 disables pacing.
	DialsPerSecond float64
	DialBurst      int

	AMDEnabled          bool
	MultiChannelEnabled bool

	// DecayFactor multiplies the recovery probability each time an exhausted
	// sequence sends the item back to the voice queue.
	DecayFactor float64
	// RequeueCooldown holds a requeued item out of the voice queue.
	RequeueCooldown time.Duration
	// DialFailureCooldown holds an item out after a dial request could not be issued.
	DialFailureCooldown time.Duration

	// PhoneRegion is the default region for numbers without a country prefix.
	PhoneRegion string
	// CollaboratorTimeout bounds a single dial request.
	CollaboratorTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		TickInterval:          500 * time.Millisecond,
		MaxAssignmentsPerTick: 1,
		DialBurst:             1,
		MultiChannelEnabled:   true,
		DecayFactor:           0.8,
		DialFailureCooldown:   time.Minute,
		PhoneRegion:           "US",
		CollaboratorTimeout:   10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	if o.MaxAssignmentsPerTick < 1 {
		o.MaxAssignmentsPerTick = d.MaxAssignmentsPerTick
	}
	if o.DialBurst < 1 {
		o.DialBurst = d.DialBurst
	}
	if o.DecayFactor <= 0 || o.DecayFactor > 1 {
		o.DecayFactor = d.DecayFactor
	}
	if o.RequeueCooldown < 0 {
		o.RequeueCooldown = 0
	}
	if o.DialFailureCooldown < 0 {
		o.DialFailureCooldown = 0
	}
	if o.PhoneRegion == "" {
		o.PhoneRegion = d.PhoneRegion
	}
	if o.CollaboratorTimeout <= 0 {
		o.CollaboratorTimeout = d.CollaboratorTimeout
	}
	return o
}
