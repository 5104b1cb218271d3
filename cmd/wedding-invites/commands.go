package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"wedding-invitations/internal/api"
	"wedding-invitations/internal/config"
	"wedding-invitations/internal/models"
	"wedding-invitations/internal/queue"
	"wedding-invitations/internal/storage"
	"wedding-invitations/internal/whatsapp"
)

const shutdownTimeout = 10 * time.Second

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	a.connectWhatsApp()

	var publisher queue.Publisher
	if a.cfg.RabbitMQ.URL != "" {
		mq, err := queue.NewRabbitMqClient(a.cfg.RabbitMQ, a.log)
		if err != nil {
			return err
		}
		defer mq.Close()
		publisher = mq
	}

	srv := api.NewServer(api.Deps{
		Store:       a.store,
		Providers:   a.providers,
		Runner:      a.runner,
		Publisher:   publisher,
		Tracker:     a.tracker,
		Idempotency: a.idempotency,
		Invitations: a.invitations,
		RSVP:        a.rsvp,
		Feed:        a.feed,
		Metrics:     a.metrics,
		Logger:      a.log,
	}, api.Options{
		JWTSecret:       a.cfg.Auth.JWTSecret,
		PublicURL:       a.cfg.Server.PublicURL,
		TwilioAuthToken: a.cfg.Twilio.AuthToken,
		WebhookSecret:   a.cfg.Server.WebhookSecret,
	})

	httpServer := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      srv.Router(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", httpServer.Addr).Strs("providers", a.providers.Names()).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("graceful shutdown failed")
	}
	a.runner.Wait()
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if a.cfg.RabbitMQ.URL == "" {
		return errors.New("rabbitmq.url is required for the worker")
	}
	a.connectWhatsApp()

	mq, err := queue.NewRabbitMqClient(a.cfg.RabbitMQ, a.log)
	if err != nil {
		return err
	}
	defer mq.Close()

	a.log.Info().Str("queue", a.cfg.RabbitMQ.Queue).Msg("worker started")
	if err := mq.Consume(ctx, a.runner.Handle); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func send(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	a.connectWhatsApp()

	list, _ := cmd.Flags().GetString("list")
	templateID, _ := cmd.Flags().GetString("template")
	providerName, _ := cmd.Flags().GetString("provider")
	link, _ := cmd.Flags().GetString("link")
	contactIDs, _ := cmd.Flags().GetStringSlice("contact")

	res, err := a.runner.Run(ctx, queue.DispatchCommand{
		JobID:      uuid.NewString(),
		List:       models.ContactList(list),
		TemplateID: templateID,
		Provider:   providerName,
		ContactIDs: contactIDs,
		Link:       link,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTO\tSTATUS\tATTEMPTS\tERROR")
	for _, r := range res.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.Contact.Name, r.SentTo, r.Status, r.Attempts, r.Error)
	}
	w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d sent, %d failed (job %s)\n", res.Successful, res.Failed, res.JobID)
	if res.Cancelled {
		return context.Canceled
	}
	return nil
}

func pair(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)
	wa, err := whatsapp.NewService(ctx, cfg.WhatsApp.DataDir, log)
	if err != nil {
		return err
	}
	defer wa.Disconnect()
	if wa.Paired() {
		fmt.Fprintln(cmd.OutOrStdout(), "WhatsApp device is already paired.")
		return nil
	}
	return wa.Pair(ctx, cmd.OutOrStdout())
}

func migrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	log := newLogger(cfg.Log)
	log.Info().Str("driver", cfg.Database.Driver).Msg("schema up to date")
	return nil
}

func issueToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	subject, _ := cmd.Flags().GetString("subject")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	token, err := api.IssueToken(cfg.Auth.JWTSecret, subject, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
