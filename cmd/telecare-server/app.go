package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/config"
	"github.com/telecare/telecare/internal/domain/account"
	"github.com/telecare/telecare/internal/domain/incentive"
	"github.com/telecare/telecare/internal/domain/reminder"
	"github.com/telecare/telecare/internal/domain/scheduling"
	"github.com/telecare/telecare/internal/platform/db"
	"github.com/telecare/telecare/internal/platform/events"
	"github.com/telecare/telecare/internal/platform/notification"
	"github.com/telecare/telecare/internal/platform/payment"
	"github.com/telecare/telecare/internal/platform/websocket"
)

// app holds the wired services shared by serve and the one-shot commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool

	accounts      *account.Service
	appointments  *scheduling.Service
	engine        *incentive.Engine
	sweeper       *reminder.Sweeper
	scheduler     *reminder.Scheduler
	notifications notification.Store
	hub           *websocket.Hub
	redis         *redis.Client

	checks  []db.Check
	closers []func() error
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	logger.Info().Msg("connected to database")

	loc, err := cfg.Location()
	if err != nil {
		a.Close()
		return nil, err
	}
	cal := scheduling.NewCalendar(loc)

	a.accounts = account.NewService(account.NewRepoPG(pool))
	a.notifications = notification.NewStorePG(pool)
	a.hub = websocket.NewHub(logger)

	pub, err := a.connectEvents()
	if err != nil {
		a.Close()
		return nil, err
	}
	live, reminders, err := a.connectSinks()
	if err != nil {
		a.Close()
		return nil, err
	}
	transfers, err := a.connectPayments()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.appointments = scheduling.NewService(scheduling.NewRepoPG(pool), a.accounts, cal, pub, logger)
	a.appointments.OnTransition(scheduling.PatientNotifier(live))

	amount, err := cfg.Incentive()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = incentive.NewEngine(incentive.NewStorePG(pool), a.accounts, transfers, live, pub,
		incentive.Config{Amount: amount, TransferTimeout: cfg.TransferTimeout}, logger)
	a.appointments.OnTransition(a.engine.Hook())

	a.sweeper = reminder.NewSweeper(reminder.NewStorePG(pool), cal, reminders, pub,
		reminder.Config{Lookahead: cfg.ReminderLookahead, Lease: cfg.ReminderLease}, logger)
	a.scheduler, err = reminder.NewScheduler(a.sweeper, cfg.ReminderSchedule, loc, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) connectEvents() (events.Publisher, error) {
	if a.cfg.AMQPURL == "" {
		a.checks = append(a.checks, db.Check{Name: "amqp"})
		return events.Nop, nil
	}
	p, err := events.NewAMQPPublisher(a.cfg.AMQPURL, a.cfg.AMQPExchange)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	a.closers = append(a.closers, p.Close)
	a.checks = append(a.checks, db.Check{Name: "amqp", Ping: p.Ping})
	a.logger.Info().Str("exchange", a.cfg.AMQPExchange).Msg("publishing domain events")
	return p, nil
}

// connectSinks returns the sink for in-app notifications and the one for
// reminders, which also go out by email when SMTP is configured.
func (a *app) connectSinks() (live, reminders notification.Sink, err error) {
	inbox := notification.NewInboxSink(a.notifications)

	// Without redis only connections on this instance see pushes.
	var push notification.Sink = a.hub
	if a.cfg.RedisURL == "" {
		a.checks = append(a.checks, db.Check{Name: "redis"})
	} else {
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		a.checks = append(a.checks, db.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
		a.redis = client
		push = notification.NewRedisSink(client)
	}

	var email notification.Sink
	if a.cfg.SMTPHost == "" {
		a.checks = append(a.checks, db.Check{Name: "smtp"})
	} else {
		dialer := notification.NewSMTPDialer(a.cfg.SMTPHost, a.cfg.SMTPPort, a.cfg.SMTPUser, a.cfg.SMTPPassword)
		email = notification.NewEmailSink(dialer, a.cfg.SMTPFrom, "Appointment reminder", a.accounts)
	}

	timeout := a.cfg.NotifyTimeout
	bounded := func(s notification.Sink) notification.Sink {
		if s == nil {
			return nil
		}
		return notification.WithTimeout(s, timeout)
	}
	live = bounded(notification.Fanout(inbox, push))
	// A sweep retries a reminder whose sink fails, so only the inbox write
	// may fail it; push and email are delivered at most once.
	reminders = notification.WithBestEffort(bounded(inbox), a.logger, bounded(push), bounded(email))
	return live, reminders, nil
}

// startPush relays redis notifications to this instance's open streams until
// ctx is done. It is a no-op without redis, where the hub is a direct sink.
func (a *app) startPush(ctx context.Context) {
	if a.redis == nil {
		return
	}
	ps := a.redis.PSubscribe(ctx, notification.Channel("*"))
	a.closers = append(a.closers, ps.Close)
	go a.hub.Relay(ctx, ps.Channel())
}

func (a *app) connectPayments() (payment.Transferer, error) {
	if a.cfg.SolanaPrivateKey == "" {
		a.logger.Warn().Msg("SOLANA_PRIVATE_KEY not set; incentive transfers will be recorded as failed")
		a.checks = append(a.checks, db.Check{Name: "solana"})
		return payment.Unconfigured, nil
	}
	key, err := payment.ParsePrivateKey(a.cfg.SolanaPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("SOLANA_PRIVATE_KEY: %w", err)
	}
	client := payment.NewSolanaClient(a.cfg.SolanaRPCURL, key)
	a.checks = append(a.checks, db.Check{Name: "solana", Ping: client.Ping})
	return payment.NewBreaker(client, payment.BreakerConfig{}, a.logger), nil
}

func (a *app) registerRoutes(e *echo.Echo) {
	e.GET("/health", db.HealthHandler(a.pool, a.checks...))

	api := e.Group("/api/v1", authMiddleware(a.cfg))
	account.NewHandler(a.accounts).RegisterRoutes(api)
	scheduling.NewHandler(a.appointments).RegisterRoutes(api)
	incentive.NewHandler(a.engine).RegisterRoutes(api)
	notification.NewHandler(a.notifications).RegisterRoutes(api)
	websocket.NewHandler(a.hub, a.cfg.CORSOrigins).RegisterRoutes(api)
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
