package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (or a .env file in local runs).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	WhatsApp WhatsAppConfig
	SMTP     SMTPConfig
	Kafka    KafkaConfig
	Dialer   DialerConfig
}

type AppConfig struct {
	Env  string
	Port int
	// PublicBaseURL is the externally reachable base URL used in provider callbacks.
	PublicBaseURL string
}

// DBConfig is optional outside staging/production: an empty Host disables persistence.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// Pool sizing. Zero leaves the pool defaults in place.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional outside staging/production: an empty Host disables the
// distributed claim guard and durable timers.
type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	TLS         bool
	TLSInsecure bool
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	FromNumber     string
	AgentSIPDomain string
	// StatusCallbackURL receives SMS delivery reports.
	StatusCallbackURL string
}

type WhatsAppConfig struct {
	URL      string
	Key      string
	DeviceID string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type DialerConfig struct {
	TickInterval          time.Duration
	MaxAssignmentsPerTick int
	DialsPerSecond        float64
	AMDEnabled            bool
	MultiChannelEnabled   bool
	MaxAttemptsPerStep    int
	RetryDelay            time.Duration
	DecayFactor           float64
	RequeueCooldown       time.Duration
	MinMatchScore         float64
	PhoneRegion           string
	SequenceFile          string
	// DurableTimers runs escalation timers on asynq instead of in process.
	DurableTimers    bool
	TimerQueue       string
	TimerConcurrency int
	DispatchTimeout  time.Duration
}

func Load() (Config, error) {
	// A missing .env is normal outside local runs.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = intVar(parseErrs, "APP_PORT", 0, true)
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = intVar(parseErrs, "DB_PORT", 5432, false)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.MaxOpenConns, parseErrs = intVar(parseErrs, "DB_MAX_OPEN_CONNS", 0, false)
	c.DB.MaxIdleConns, parseErrs = intVar(parseErrs, "DB_MAX_IDLE_CONNS", 0, false)
	c.DB.ConnMaxLifetime, parseErrs = durationVar(parseErrs, "DB_CONN_MAX_LIFETIME", 0)

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = intVar(parseErrs, "REDIS_PORT", 6379, false)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.TLS, parseErrs = boolVar(parseErrs, "REDIS_TLS", false)
	c.Redis.TLSInsecure, parseErrs = boolVar(parseErrs, "REDIS_TLS_INSECURE", false)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, parseErrs = durationVar(parseErrs, "JWT_ACCESS_TTL", 0)

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))
	c.Twilio.AgentSIPDomain = strings.TrimSpace(os.Getenv("TWILIO_AGENT_SIP_DOMAIN"))
	c.Twilio.StatusCallbackURL = strings.TrimSpace(os.Getenv("TWILIO_STATUS_CALLBACK_URL"))

	c.WhatsApp.URL = strings.TrimSpace(os.Getenv("WHATSAPP_URL"))
	c.WhatsApp.Key = os.Getenv("WHATSAPP_KEY")
	c.WhatsApp.DeviceID = strings.TrimSpace(os.Getenv("WHATSAPP_DEVICE_ID"))

	c.SMTP.Host = strings.TrimSpace(os.Getenv("SMTP_HOST"))
	c.SMTP.Port, parseErrs = intVar(parseErrs, "SMTP_PORT", 587, false)
	c.SMTP.Username = strings.TrimSpace(os.Getenv("SMTP_USERNAME"))
	c.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	c.SMTP.From = strings.TrimSpace(os.Getenv("SMTP_FROM"))

	c.Kafka.Brokers = splitCSV(os.Getenv("KAFKA_BROKERS"))
	c.Kafka.Topic = strings.TrimSpace(os.Getenv("KAFKA_TOPIC"))

	d := &c.Dialer
	d.TickInterval, parseErrs = durationVar(parseErrs, "DIALER_TICK_INTERVAL", 500*time.Millisecond)
	d.MaxAssignmentsPerTick, parseErrs = intVar(parseErrs, "DIALER_MAX_ASSIGNMENTS_PER_TICK", 1, false)
	d.DialsPerSecond, parseErrs = floatVar(parseErrs, "DIALER_DIALS_PER_SECOND", 0)
	d.AMDEnabled, parseErrs = boolVar(parseErrs, "DIALER_AMD_ENABLED", false)
	d.MultiChannelEnabled, parseErrs = boolVar(parseErrs, "DIALER_MULTI_CHANNEL_ENABLED", true)
	d.MaxAttemptsPerStep, parseErrs = intVar(parseErrs, "DIALER_MAX_ATTEMPTS_PER_STEP", 2, false)
	d.RetryDelay, parseErrs = durationVar(parseErrs, "DIALER_RETRY_DELAY", time.Minute)
	d.DecayFactor, parseErrs = floatVar(parseErrs, "DIALER_DECAY_FACTOR", 0.8)
	d.RequeueCooldown, parseErrs = durationVar(parseErrs, "DIALER_REQUEUE_COOLDOWN", 0)
	d.MinMatchScore, parseErrs = floatVar(parseErrs, "DIALER_MIN_MATCH_SCORE", 0.35)
	d.PhoneRegion = strings.ToUpper(strings.TrimSpace(os.Getenv("DIALER_PHONE_REGION")))
	d.SequenceFile = strings.TrimSpace(os.Getenv("DIALER_SEQUENCE_FILE"))
	d.DurableTimers, parseErrs = boolVar(parseErrs, "DIALER_DURABLE_TIMERS", false)
	d.TimerQueue = strings.TrimSpace(os.Getenv("DIALER_TIMER_QUEUE"))
	d.TimerConcurrency, parseErrs = intVar(parseErrs, "DIALER_TIMER_CONCURRENCY", 10, false)
	d.DispatchTimeout, parseErrs = durationVar(parseErrs, "DIALER_DISPATCH_TIMEOUT", 10*time.Second)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks c and fills env-aware defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL != "" {
		if u, err := url.Parse(c.App.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL, got %q", c.App.PublicBaseURL))
		}
	}

	if c.DB.Host == "" {
		if c.requiresInfra() {
			errs = append(errs, fmt.Errorf("DB_HOST is required in %s", c.App.Env))
		}
	} else {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
		if c.DB.MaxOpenConns < 0 || c.DB.MaxIdleConns < 0 || c.DB.ConnMaxLifetime < 0 {
			errs = append(errs, errors.New("DB_MAX_OPEN_CONNS, DB_MAX_IDLE_CONNS and DB_CONN_MAX_LIFETIME must not be negative"))
		}
		if c.DB.MaxOpenConns > 0 && c.DB.MaxIdleConns > c.DB.MaxOpenConns {
			errs = append(errs, fmt.Errorf("DB_MAX_IDLE_CONNS (%d) must not exceed DB_MAX_OPEN_CONNS (%d)", c.DB.MaxIdleConns, c.DB.MaxOpenConns))
		}
	}

	if c.Redis.Host == "" {
		if c.requiresInfra() {
			errs = append(errs, fmt.Errorf("REDIS_HOST is required in %s", c.App.Env))
		}
	} else if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.TwilioEnabled() {
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required with TWILIO_ACCOUNT_SID"))
		}
		if c.Twilio.FromNumber == "" {
			errs = append(errs, errors.New("TWILIO_FROM_NUMBER is required with TWILIO_ACCOUNT_SID"))
		}
		if c.App.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required with TWILIO_ACCOUNT_SID"))
		}
	}
	if c.WhatsApp.URL != "" && c.WhatsApp.DeviceID == "" {
		errs = append(errs, errors.New("WHATSAPP_DEVICE_ID is required with WHATSAPP_URL"))
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, errors.New("SMTP_FROM is required with SMTP_HOST"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		c.Kafka.Topic = "collections.workitem-events"
	}

	d := &c.Dialer
	if d.TickInterval <= 0 {
		d.TickInterval = 500 * time.Millisecond
	}
	if d.MaxAssignmentsPerTick < 1 {
		errs = append(errs, fmt.Errorf("DIALER_MAX_ASSIGNMENTS_PER_TICK must be >= 1, got %d", d.MaxAssignmentsPerTick))
	}
	if d.DialsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("DIALER_DIALS_PER_SECOND must be >= 0, got %v", d.DialsPerSecond))
	}
	if d.MaxAttemptsPerStep < 1 {
		errs = append(errs, fmt.Errorf("DIALER_MAX_ATTEMPTS_PER_STEP must be >= 1, got %d", d.MaxAttemptsPerStep))
	}
	if d.DecayFactor <= 0 || d.DecayFactor > 1 {
		errs = append(errs, fmt.Errorf("DIALER_DECAY_FACTOR must be in (0, 1], got %v", d.DecayFactor))
	}
	if d.RequeueCooldown < 0 {
		errs = append(errs, errors.New("DIALER_REQUEUE_COOLDOWN must not be negative"))
	}
	if d.MinMatchScore < 0 || d.MinMatchScore > 1 {
		errs = append(errs, fmt.Errorf("DIALER_MIN_MATCH_SCORE must be in [0, 1], got %v", d.MinMatchScore))
	}
	if d.PhoneRegion == "" {
		d.PhoneRegion = "US"
	}
	if d.DurableTimers && c.Redis.Host == "" {
		errs = append(errs, errors.New("DIALER_DURABLE_TIMERS requires REDIS_HOST"))
	}
	if d.TimerQueue == "" {
		d.TimerQueue = "escalations"
	}
	if d.TimerConcurrency < 1 {
		d.TimerConcurrency = 10
	}
	if d.DispatchTimeout <= 0 {
		d.DispatchTimeout = 10 * time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// requiresInfra reports whether Postgres and Redis are mandatory.
func (c Config) requiresInfra() bool {
	return c.App.Env == "staging" || c.App.Env == "production"
}

func (c Config) PersistenceEnabled() bool { return c.DB.Host != "" }

func (c Config) RedisEnabled() bool { return c.Redis.Host != "" }

func (c Config) TwilioEnabled() bool { return c.Twilio.AccountSID != "" }

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// RedisURL renders the redis:// (or rediss://) URL asynq is configured from.
func (c Config) RedisURL() string {
	u := url.URL{Scheme: "redis", Host: c.RedisAddr()}
	if c.Redis.TLS {
		u.Scheme = "rediss"
	}
	if c.Redis.Password != "" {
		u.User = url.UserPassword("", c.Redis.Password)
	}
	return u.String()
}

func intVar(errs []error, key string, fallback int, required bool) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		if required {
			return 0, append(errs, fmt.Errorf("%s is required", key))
		}
		return fallback, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func floatVar(errs []error, key string, fallback float64) (float64, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, errs
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a number, got %q", key, v))
	}
	return f, errs
}

func boolVar(errs []error, key string, fallback bool) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, append(errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	}
	return b, errs
}

func durationVar(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func splitCSV(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
