package escalation

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"collections-orchestrator/internal/channels"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	ErrNoEnabledSteps  = errors.New("escalation: no enabled steps")
	ErrInvalidSequence = errors.New("escalation: invalid sequence")
)

type DelayUnit string

const (
	UnitMinutes DelayUnit = "minutes"
	UnitHours   DelayUnit = "hours"
	UnitDays    DelayUnit = "days"
)

// Step is one alternate-channel contact in the sequence.
type Step struct {
	Channel    channels.Channel `json:"channel" yaml:"channel" validate:"required,oneof=sms email whatsapp"`
	Delay      int              `json:"delay" yaml:"delay" validate:"gte=0,lte=1000"`
	DelayUnit  DelayUnit        `json:"delay_unit" yaml:"delay_unit" validate:"required,oneof=minutes hours days"`
	TemplateID string           `json:"template_id" yaml:"template_id" validate:"required,max=128"`
	Enabled    bool             `json:"enabled" yaml:"enabled"`
}

// Duration is the delay before this step fires, measured from the previous step.
func (s Step) Duration() time.Duration {
	d := time.Duration(s.Delay)
	switch s.DelayUnit {
	case UnitHours:
		return d * time.Hour
	case UnitDays:
		return d * 24 * time.Hour
	default:
		return d * time.Minute
	}
}

// Sequence is the ordered channel sequence. A bound copy is immutable.
type Sequence struct {
	Steps     []Step    `json:"steps" yaml:"steps" validate:"required,min=1,max=10,dive"`
	Version   int64     `json:"version" yaml:"-"`
	UpdatedBy string    `json:"updated_by,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// DefaultSequence mirrors the CRM defaults: SMS after 5 minutes, Email after 2 hours,
// WhatsApp after 1 day.
func DefaultSequence() Sequence {
	return Sequence{
		Version: 1,
		Steps: []Step{
			{Channel: channels.ChannelSMS, Delay: 5, DelayUnit: UnitMinutes, TemplateID: "payment-reminder-sms", Enabled: true},
			{Channel: channels.ChannelEmail, Delay: 2, DelayUnit: UnitHours, TemplateID: "payment-reminder-email", Enabled: true},
			{Channel: channels.ChannelWhatsApp, Delay: 1, DelayUnit: UnitDays, TemplateID: "payment-reminder-whatsapp", Enabled: true},
		},
	}
}

// NextEnabled returns the index of the first enabled step at or after from.
func (s Sequence) NextEnabled(from int) (int, bool) {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(s.Steps); i++ {
		if s.Steps[i].Enabled {
			return i, true
		}
	}
	return 0, false
}

func (s Sequence) clone() Sequence {
	out := s
	out.Steps = append([]Step(nil), s.Steps...)
	return out
}

var validate = validator.New()

// normalize lower-cases channel and unit so CRM spellings ("SMS", "Hours") validate.
func (s *Sequence) normalize() {
	for i := range s.Steps {
		st := &s.Steps[i]
		if ch, err := channels.ParseChannel(string(st.Channel)); err == nil {
			st.Channel = ch
		}
		st.DelayUnit = DelayUnit(strings.ToLower(strings.TrimSpace(string(st.DelayUnit))))
		st.TemplateID = strings.TrimSpace(st.TemplateID)
	}
}

// Validate normalizes s in place and checks it.
func (s *Sequence) Validate() error {
	s.normalize()
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSequence, err)
	}
	return nil
}

// LoadSequenceFile reads a YAML sequence:
//
//	steps:
//	  - {channel: sms, delay: 5, delay_unit: minutes, template_id: payment-reminder-sms, enabled: true}
func LoadSequenceFile(path string) (Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sequence{}, err
	}
	var seq Sequence
	if err := yaml.Unmarshal(data, &seq); err != nil {
		return Sequence{}, fmt.Errorf("%w: %v", ErrInvalidSequence, err)
	}
	if err := seq.Validate(); err != nil {
		return Sequence{}, err
	}
	return seq, nil
}

// Config holds the active sequence. Every successful Configure bumps Version;
// escalations already in flight keep the snapshot they were bound to.
type Config struct {
	mu  sync.RWMutex
	cur Sequence
	Now func() time.Time
}

func NewConfig(initial Sequence) (*Config, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	if initial.Version == 0 {
		initial.Version = 1
	}
	return &Config{cur: initial.clone(), Now: time.Now}, nil
}

func (c *Config) Current() Sequence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur.clone()
}

func (c *Config) Configure(seq Sequence, updatedBy string) (Sequence, error) {
	if err := seq.Validate(); err != nil {
		return Sequence{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	seq = seq.clone()
	seq.Version = c.cur.Version + 1
	seq.UpdatedBy = updatedBy
	seq.UpdatedAt = c.Now().UTC()
	c.cur = seq
	return seq.clone(), nil
}
