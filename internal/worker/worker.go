// Package worker turns dispatch commands into bulk sends, either inline, on a
// background goroutine, or from the RabbitMQ queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wedding-invitations/internal/dispatch"
	"wedding-invitations/internal/jobs"
	"wedding-invitations/internal/models"
	"wedding-invitations/internal/queue"
)

var ErrInvalidList = errors.New("list must be admin or whatsapp")

// Store loads what a command refers to.
type Store interface {
	GetTemplate(ctx context.Context, id string) (*models.MessageTemplate, error)
	ListContacts(ctx context.Context, list models.ContactList, activeOnly bool) ([]models.Contact, error)
	GetContacts(ctx context.Context, list models.ContactList, ids []string) ([]models.Contact, error)
}

type Sender interface {
	SendBulk(ctx context.Context, req dispatch.BulkRequest, onProgress dispatch.ProgressFunc) (*dispatch.BulkResult, error)
}

type Runner struct {
	store       Store
	sender      Sender
	tracker     jobs.Tracker
	defaultLink string
	log         zerolog.Logger

	wg sync.WaitGroup
}

// NewRunner builds a Runner. tracker may be nil.
func NewRunner(store Store, sender Sender, tracker jobs.Tracker, defaultLink string, log zerolog.Logger) *Runner {
	return &Runner{
		store:       store,
		sender:      sender,
		tracker:     tracker,
		defaultLink: defaultLink,
		log:         log.With().Str("component", "worker").Logger(),
	}
}

// Run executes cmd and waits for the batch to finish. Without ContactIDs every
// active contact of the list is targeted. A command refused before the batch
// starts is recorded as a failed job.
func (r *Runner) Run(ctx context.Context, cmd queue.DispatchCommand) (*dispatch.BulkResult, error) {
	if cmd.JobID == "" {
		cmd.JobID = uuid.NewString()
	}
	res, err := r.run(ctx, cmd)
	if err != nil {
		r.fail(ctx, cmd.JobID, err)
		return nil, err
	}
	return res, nil
}

func (r *Runner) fail(ctx context.Context, jobID string, cause error) {
	if r.tracker == nil {
		return
	}
	if err := r.tracker.Finish(context.WithoutCancel(ctx), jobID, jobs.StatusFailed); err != nil {
		r.log.Warn().Err(err).Str("job_id", jobID).AnErr("cause", cause).Msg("failed to mark job as failed")
	}
}

func (r *Runner) run(ctx context.Context, cmd queue.DispatchCommand) (*dispatch.BulkResult, error) {
	if !cmd.List.Valid() {
		return nil, ErrInvalidList
	}

	tpl, err := r.store.GetTemplate(ctx, cmd.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", cmd.TemplateID, err)
	}

	var contacts []models.Contact
	if len(cmd.ContactIDs) > 0 {
		contacts, err = r.store.GetContacts(ctx, cmd.List, cmd.ContactIDs)
	} else {
		contacts, err = r.store.ListContacts(ctx, cmd.List, true)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}

	link := cmd.Link
	if link == "" {
		link = r.defaultLink
	}

	return r.sender.SendBulk(ctx, dispatch.BulkRequest{
		JobID:            cmd.JobID,
		List:             cmd.List,
		Contacts:         contacts,
		Template:         *tpl,
		Provider:         cmd.Provider,
		Link:             link,
		NotificationType: cmd.NotificationType,
	}, func(sent, total int) {
		r.log.Debug().Str("job_id", cmd.JobID).Int("sent", sent).Int("total", total).Msg("dispatch progress")
	})
}

// Go runs cmd on a background goroutine detached from the caller's context.
// Wait blocks until all of them have finished.
func (r *Runner) Go(ctx context.Context, cmd queue.DispatchCommand) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.Run(context.WithoutCancel(ctx), cmd); err != nil {
			r.log.Error().Err(err).Str("job_id", cmd.JobID).Msg("background dispatch failed")
		}
	}()
}

func (r *Runner) Wait() {
	r.wg.Wait()
}

// Handle adapts Run to the queue consumer.
func (r *Runner) Handle(ctx context.Context, cmd queue.DispatchCommand) error {
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return err
	}
	r.log.Info().
		Str("job_id", res.JobID).
		Int("successful", res.Successful).
		Int("failed", res.Failed).
		Msg("queued dispatch finished")
	return nil
}
