package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"wedding-invitations/internal/config"
	"wedding-invitations/internal/deliverylog"
	"wedding-invitations/internal/dispatch"
	"wedding-invitations/internal/guestfeed"
	"wedding-invitations/internal/handler"
	"wedding-invitations/internal/invitation"
	"wedding-invitations/internal/jobs"
	"wedding-invitations/internal/metrics"
	"wedding-invitations/internal/phone"
	"wedding-invitations/internal/provider"
	"wedding-invitations/internal/provider/messagebird"
	"wedding-invitations/internal/provider/smtp"
	"wedding-invitations/internal/provider/twilio"
	"wedding-invitations/internal/provider/webpush"
	"wedding-invitations/internal/provider/zoko"
	"wedding-invitations/internal/storage"
	"wedding-invitations/internal/whatsapp"
	"wedding-invitations/internal/worker"
)

// app holds everything the commands share. Fields that depend on optional
// infrastructure fall back to in-process implementations.
type app struct {
	cfg         *config.Config
	log         zerolog.Logger
	store       *storage.Storage
	redis       *redis.Client
	metrics     *metrics.Metrics
	normalizer  *phone.Normalizer
	providers   *provider.Registry
	wa          *whatsapp.Service
	tracker     jobs.Tracker
	idempotency jobs.Idempotency
	feed        guestfeed.Feed
	dispatcher  *dispatch.Dispatcher
	runner      *worker.Runner
	invitations *invitation.Service
	rsvp        *handler.RSVPHandler
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		log = zerolog.New(os.Stdout)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: newLogger(cfg.Log), metrics: metrics.New()}

	a.store, err = storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := a.store.Migrate(ctx); err != nil {
		a.store.Close()
		return nil, err
	}

	a.normalizer, err = phone.NewNormalizer(cfg.Phone.DefaultRegion, cfg.Phone.KnownRegions...)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.tracker = jobs.NewRedisTracker(a.redis, jobs.DefaultTTL)
		a.idempotency = jobs.NewRedisIdempotency(a.redis, jobs.DefaultTTL)
		a.feed = guestfeed.NewRedisFeed(a.redis, a.log)
	} else {
		a.log.Warn().Msg("redis not configured, job progress and guest events stay in this process")
		a.tracker = jobs.NewMemoryTracker()
		a.idempotency = jobs.NewMemoryIdempotency(jobs.DefaultTTL)
		a.feed = guestfeed.NewMemoryFeed()
	}

	if err := a.registerProviders(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.dispatcher = dispatch.New(dispatch.Deps{
		Providers:  a.providers,
		Normalizer: a.normalizer,
		Log:        deliverylog.NewWriter(a.store, a.log),
		Tracker:    a.tracker,
		Metrics:    a.metrics,
		Logger:     a.log,
	}, dispatch.OptionsFromConfig(cfg.Dispatch))
	a.runner = worker.NewRunner(a.store, a.dispatcher, a.tracker, cfg.Dispatch.InvitationLink, a.log)
	a.invitations = invitation.NewService(a.store, storage.ErrNotFound, a.feed, a.normalizer, a.metrics, cfg.Dispatch.InvitationLink, a.log)
	a.rsvp = handler.NewRSVPHandler(a.invitations, a.providers, a.normalizer, cfg.Wedding, a.log)

	if a.wa != nil {
		a.wa.OnInbound(func(ctx context.Context, from, text string) {
			if _, err := a.rsvp.HandleReply(ctx, whatsapp.Name, from, text); err != nil {
				a.log.Error().Err(err).Str("via", whatsapp.Name).Msg("failed to handle reply")
			}
		})
	}
	return a, nil
}

// registerProviders adds every adapter whose credentials are complete, each
// behind its own circuit breaker.
func (a *app) registerProviders(ctx context.Context) error {
	cfg := a.cfg
	a.providers = provider.NewRegistry()
	register := func(p provider.Provider) {
		a.providers.Register(provider.WithBreaker(p, provider.BreakerSettings(p.Name(), a.log)))
		a.log.Info().Str("provider", p.Name()).Msg("provider registered")
	}
	skip := func(name string, err error) {
		a.log.Warn().Err(err).Str("provider", name).Msg("provider not registered")
	}

	httpClient := provider.NewHTTPClient()
	statusCallback := strings.TrimRight(cfg.Server.PublicURL, "/") + "/webhooks/twilio/status"

	if cfg.Twilio.Enabled() {
		if p, err := twilio.NewSMS(cfg.Twilio, statusCallback); err == nil {
			register(p)
		} else {
			skip(twilio.NameSMS, err)
		}
		if p, err := twilio.NewWhatsApp(cfg.Twilio, statusCallback); err == nil {
			register(p)
		} else {
			skip(twilio.NameWhatsApp, err)
		}
	}
	if cfg.MessageBird.Enabled() {
		if p, err := messagebird.New(cfg.MessageBird, httpClient); err == nil {
			register(p)
		} else {
			skip(messagebird.Name, err)
		}
	}
	if cfg.Zoko.Enabled() {
		if p, err := zoko.New(cfg.Zoko, httpClient); err == nil {
			register(p)
		} else {
			skip(zoko.Name, err)
		}
	}
	if cfg.SMTP.Enabled() {
		if p, err := smtp.New(cfg.SMTP); err == nil {
			register(p)
		} else {
			skip(smtp.Name, err)
		}
	}
	if cfg.WebPush.Enabled() {
		if p, err := webpush.New(cfg.WebPush, httpClient); err == nil {
			register(p)
		} else {
			skip(webpush.Name, err)
		}
	}
	if cfg.WhatsApp.Enabled {
		wa, err := whatsapp.NewService(ctx, cfg.WhatsApp.DataDir, a.log)
		if err != nil {
			return err
		}
		a.wa = wa
		register(wa)
	}
	return nil
}

// connectWhatsApp logs in the linked device. An unpaired device is reported
// and left out of service until `pair` is run.
func (a *app) connectWhatsApp() {
	if a.wa == nil {
		return
	}
	err := a.wa.Connect()
	switch {
	case errors.Is(err, whatsapp.ErrNotPaired):
		a.log.Warn().Msg("whatsapp device is not paired, run the pair command")
	case err != nil:
		a.log.Error().Err(err).Msg("failed to connect to whatsapp")
	default:
		a.log.Info().Msg("connected to whatsapp")
	}
}

func (a *app) close() {
	if a.wa != nil {
		a.wa.Disconnect()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
