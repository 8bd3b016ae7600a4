package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"collections-orchestrator/internal/agents"
	"collections-orchestrator/internal/audit"
	"collections-orchestrator/internal/auth"
	"collections-orchestrator/internal/channels"
	"collections-orchestrator/internal/config"
	"collections-orchestrator/internal/dialer"
	"collections-orchestrator/internal/escalation"
	"collections-orchestrator/internal/events"
	"collections-orchestrator/internal/httpapi"
	"collections-orchestrator/internal/migrate"
	"collections-orchestrator/internal/ranking"
	"collections-orchestrator/internal/reporting"
	"collections-orchestrator/internal/routing"
	"collections-orchestrator/internal/telephony"
	"collections-orchestrator/internal/workitem"
	"collections-orchestrator/pkg/utils"

	"github.com/hibiken/asynq"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

const agentClaimTTL = 2 * time.Hour

// app holds the wired process. Fields are nil when the backing service is not configured.
type app struct {
	cfg      config.Config
	auth     *auth.Manager
	engine   *dialer.Engine
	dialer   telephony.Dialer
	handlers httpapi.Handlers
	webhooks telephony.TwilioWebhookHandler
	worker   *escalation.Worker

	closers []func() error
	log     *slog.Logger
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "err", err)
		}
	}
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth init: %w", err)
	}
	a.auth = authManager

	// Persistence: Postgres when configured, memory otherwise.
	var (
		attemptRepo interface {
			workitem.AttemptRepository
			reporting.Repository
		}
		auditRepo audit.Repository
	)
	if cfg.PersistenceEnabled() {
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
			ApplicationName: "collections-orchestrator",
		})
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := migrate.Up(ctx, db, log); err != nil {
			return nil, err
		}
		attemptRepo, auditRepo = workitem.NewPostgresAttemptRepo(db), audit.NewPostgresRepo(db)
	} else {
		log.Warn("DB_HOST not set, attempt history and audit are kept in memory")
		attemptRepo, auditRepo = workitem.NewMemoryAttemptRepo(), audit.NewMemoryRepo()
	}
	auditSvc := audit.NewService(auditRepo, log)

	store := workitem.NewStore(attemptRepo, log)
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	}
	a.closers = append(a.closers, publisher.Close)
	store.OnChange = events.TransitionHook(publisher, log)

	var (
		guard agents.ClaimGuard
		rdb   *redis.Client
	)
	if cfg.RedisEnabled() {
		rdb, err = utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:        cfg.RedisAddr(),
			Password:    cfg.Redis.Password,
			TLS:         cfg.Redis.TLS,
			TLSInsecure: cfg.Redis.TLSInsecure,
		})
		if err != nil {
			return nil, fmt.Errorf("redis init: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		guard = agents.NewRedisClaimGuard(rdb, "collections:agent-claim:", agentClaimTTL)
	}
	pool := agents.NewPool(guard, log)

	mux, err := buildChannels(cfg, log)
	if err != nil {
		return nil, err
	}

	seq := escalation.DefaultSequence()
	if cfg.Dialer.SequenceFile != "" {
		if seq, err = escalation.LoadSequenceFile(cfg.Dialer.SequenceFile); err != nil {
			return nil, fmt.Errorf("sequence file: %w", err)
		}
	}
	sequences, err := escalation.NewConfig(seq)
	if err != nil {
		return nil, err
	}

	var (
		timers    escalation.TimerQueue
		local     *escalation.LocalTimers
		asynqOpts asynq.RedisClientOpt
	)
	if cfg.Dialer.DurableTimers {
		asynqOpts, err = escalation.RedisClientOpt(cfg.RedisURL(), cfg.Redis.TLSInsecure)
		if err != nil {
			return nil, fmt.Errorf("asynq redis: %w", err)
		}
		at := escalation.NewAsynqTimers(asynqOpts, cfg.Dialer.TimerQueue)
		a.closers = append(a.closers, at.Close)
		timers = at
	} else {
		log.Info("escalation timers run in process; pending steps are lost on restart")
		local = escalation.NewLocalTimers()
		timers = local
	}
	sched := escalation.NewScheduler(store, mux, timers, escalation.Options{
		MaxAttemptsPerStep: cfg.Dialer.MaxAttemptsPerStep,
		RetryDelay:         cfg.Dialer.RetryDelay,
	}, log)
	if local != nil {
		local.Handle(sched.OnTimerFire)
	} else {
		a.worker = escalation.NewWorker(asynqOpts, cfg.Dialer.TimerQueue, cfg.Dialer.TimerConcurrency, sched.OnTimerFire, log)
	}

	pins := routing.NewPinEngine(routing.NewMemoryPinStore(), routing.AuditAdapter{Audit: auditSvc})
	router := routing.NewSkillRouter(routing.DefaultWeights(), cfg.Dialer.MinMatchScore, pins)

	a.dialer = buildDialer(cfg, log)
	a.engine = dialer.New(dialer.Deps{
		Store:     store,
		Ranker:    ranking.NewWeightedRanker(ranking.DefaultWeights()),
		Router:    router,
		Pool:      pool,
		Dialer:    a.dialer,
		Scheduler: sched,
		Sequences: sequences,
		Audit:     auditSvc,
		Pins:      pins,
		Log:       log,
	}, dialer.Options{
		TickInterval:          cfg.Dialer.TickInterval,
		MaxAssignmentsPerTick: cfg.Dialer.MaxAssignmentsPerTick,
		DialsPerSecond:        cfg.Dialer.DialsPerSecond,
		AMDEnabled:            cfg.Dialer.AMDEnabled,
		MultiChannelEnabled:   cfg.Dialer.MultiChannelEnabled,
		DecayFactor:           cfg.Dialer.DecayFactor,
		RequeueCooldown:       cfg.Dialer.RequeueCooldown,
		PhoneRegion:           cfg.Dialer.PhoneRegion,
	})

	a.handlers = httpapi.Handlers{
		Engine:  a.engine,
		Agents:  pool,
		Pins:    pins,
		Reports: reporting.NewService(attemptRepo, a.engine, pool),
		Audit:   auditSvc,
	}
	a.webhooks = telephony.TwilioWebhookHandler{
		Sink:           a.engine,
		AuthToken:      cfg.Twilio.AuthToken,
		PublicBaseURL:  cfg.App.PublicBaseURL,
		AgentSIPDomain: cfg.Twilio.AgentSIPDomain,
	}

	ok = true
	return a, nil
}

// buildChannels registers a gateway per channel. Channels without credentials fall
// back to LogDispatcher so local runs can walk a sequence end to end.
func buildChannels(cfg config.Config, log *slog.Logger) (*channels.Mux, error) {
	templates, err := channels.LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("channel templates: %w", err)
	}
	mux := channels.NewMux(cfg.Dialer.DispatchTimeout, log)
	fallback := channels.LogDispatcher{Log: log.With("component", "channel_log")}

	var sms channels.Dispatcher = fallback
	if cfg.TwilioEnabled() {
		sms = &channels.TwilioSMS{
			Client:            telephony.NewTwilioClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken),
			FromNumber:        cfg.Twilio.FromNumber,
			Templates:         templates,
			StatusCallbackURL: cfg.Twilio.StatusCallbackURL,
		}
	}
	mux.Handle(channels.ChannelSMS, sms)

	var email channels.Dispatcher = fallback
	if cfg.SMTP.Host != "" {
		email = channels.NewSMTPSender(channels.SMTPConfig{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			FromEmail: cfg.SMTP.From,
			FromName:  "Collections",
		}, templates)
	}
	mux.Handle(channels.ChannelEmail, email)

	var whatsapp channels.Dispatcher = fallback
	if cfg.WhatsApp.URL != "" {
		whatsapp = channels.NewWhatsAppClient(cfg.WhatsApp.URL, cfg.WhatsApp.Key, cfg.WhatsApp.DeviceID, templates)
	}
	mux.Handle(channels.ChannelWhatsApp, whatsapp)
	return mux, nil
}

func buildDialer(cfg config.Config, log *slog.Logger) telephony.Dialer {
	if !cfg.TwilioEnabled() {
		log.Warn("twilio not configured, dial requests are only logged")
		return telephony.LogDialer{Log: log}
	}
	client := telephony.NewTwilioClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
	return telephony.NewTwilioDialer(client, cfg.Twilio.FromNumber, cfg.App.PublicBaseURL)
}
