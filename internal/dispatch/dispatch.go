// Package dispatch sends a templated message to a list of contacts, one at a
// time, through a single provider.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"wedding-invitations/internal/config"
	"wedding-invitations/internal/deliverylog"
	"wedding-invitations/internal/jobs"
	"wedding-invitations/internal/message"
	"wedding-invitations/internal/metrics"
	"wedding-invitations/internal/models"
	"wedding-invitations/internal/phone"
	"wedding-invitations/internal/provider"
)

var (
	ErrProviderNotConfigured = errors.New("provider is not configured")
	ErrNoRecipients          = errors.New("no recipients to send to")
)

const (
	errNotAttempted = "not attempted: dispatch cancelled"

	DefaultNotificationType = "invitation"
)

// ProgressFunc is called after every contact with the number processed so far.
type ProgressFunc func(sent, total int)

type BulkRequest struct {
	JobID    string
	List     models.ContactList
	Contacts []models.Contact
	Template models.MessageTemplate
	Provider string
	// Link is substituted for {link}; an {id} inside it becomes the contact id.
	Link             string
	NotificationType string
}

type ContactResult struct {
	Contact           models.Contact        `json:"contact"`
	SentTo            string                `json:"sent_to"`
	Success           bool                  `json:"success"`
	Status            models.DeliveryStatus `json:"status"`
	ProviderMessageID string                `json:"provider_message_id,omitempty"`
	Error             string                `json:"error,omitempty"`
	Attempts          int                   `json:"attempts"`
	FellBack          bool                  `json:"fell_back,omitempty"`
	DeadLetter        bool                  `json:"dead_letter,omitempty"`
}

type BulkResult struct {
	JobID      string          `json:"job_id"`
	Provider   string          `json:"provider"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Cancelled  bool            `json:"cancelled,omitempty"`
	Results    []ContactResult `json:"results"`
}

// Options tune pacing and retries
type Options struct {
	// Interval is the minimum spacing between provider calls; zero disables pacing.
	Interval       time.Duration
	Burst          int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// OptionsFromConfig maps the dispatch config section.
func OptionsFromConfig(cfg config.DispatchConfig) Options {
	return Options{
		Interval:       cfg.Interval,
		Burst:          cfg.Burst,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

// Deps are the collaborators of a Dispatcher. Log, Tracker and Metrics are optional.
type Deps struct {
	Providers  *provider.Registry
	Normalizer *phone.Normalizer
	Log        *deliverylog.Writer
	Tracker    jobs.Tracker
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

type Dispatcher struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(deps Deps, opts Options) *Dispatcher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	return &Dispatcher{
		deps:     deps,
		opts:     opts,
		log:      deps.Logger.With().Str("component", "dispatch").Logger(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiter returns the shared pacing limiter for a provider, so concurrent jobs
// on the same vendor stay within its rate.
func (d *Dispatcher) limiter(name string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[name]
	if !ok {
		limit := rate.Inf
		if d.opts.Interval > 0 {
			limit = rate.Every(d.opts.Interval)
		}
		l = rate.NewLimiter(limit, d.opts.Burst)
		d.limiters[name] = l
	}
	return l
}

// Recipients pairs every contact with its formatted message body.
func Recipients(contacts []models.Contact, tpl models.MessageTemplate, link string) []models.Recipient {
	out := make([]models.Recipient, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, models.Recipient{
			Contact: c,
			Body:    message.Format(tpl.Body, message.Vars{Name: c.Name, Link: contactLink(link, c)}),
		})
	}
	return out
}

func contactLink(link string, c models.Contact) string {
	return strings.ReplaceAll(link, "{id}", c.ID)
}

// SendBulk sends req.Template to every contact in order. It refuses the whole
// batch up front for an unknown provider, an empty template or no contacts.
// Per-contact failures never stop the batch; cancelling ctx marks the
// remaining contacts as failed without calling the provider.
func (d *Dispatcher) SendBulk(ctx context.Context, req BulkRequest, onProgress ProgressFunc) (*BulkResult, error) {
	p, ok := d.deps.Providers.Get(req.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotConfigured, req.Provider)
	}
	if err := message.Validate(req.Template.Body); err != nil {
		return nil, err
	}
	if len(req.Contacts) == 0 {
		return nil, ErrNoRecipients
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	if req.NotificationType == "" {
		req.NotificationType = DefaultNotificationType
	}

	job := &models.DispatchJob{
		ID:         req.JobID,
		Recipients: Recipients(req.Contacts, req.Template, req.Link),
		Provider:   p.Name(),
	}
	total := job.Total()
	log := d.log.With().Str("job_id", job.ID).Str("provider", job.Provider).Logger()
	log.Info().Int("total", total).Msg("dispatch started")

	d.track(ctx, func(ctx context.Context, t jobs.Tracker) error { return t.Start(ctx, job.ID, job.Provider, total) })

	result := &BulkResult{JobID: job.ID, Provider: job.Provider, Results: make([]ContactResult, 0, total)}
	limiter := d.limiter(p.Name())

	for _, r := range job.Recipients {
		var cr ContactResult
		if ctx.Err() != nil {
			cr = ContactResult{Contact: r.Contact, SentTo: r.Contact.Address(), Status: models.DeliveryFailed, Error: errNotAttempted}
		} else {
			cr = d.sendOne(ctx, p, limiter, req, r)
		}

		result.Results = append(result.Results, cr)
		if cr.Success {
			result.Successful++
		} else {
			result.Failed++
		}
		job.Sent++

		d.record(ctx, req, p.Name(), cr)
		d.track(ctx, func(ctx context.Context, t jobs.Tracker) error { return t.Advance(ctx, job.ID, cr.Success) })
		if onProgress != nil {
			onProgress(job.Sent, total)
		}
	}

	status := jobs.StatusCompleted
	if ctx.Err() != nil {
		result.Cancelled = true
		status = jobs.StatusCancelled
	}
	d.track(ctx, func(ctx context.Context, t jobs.Tracker) error { return t.Finish(ctx, job.ID, status) })
	d.deps.Metrics.RecordJob(status)

	log.Info().
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Bool("cancelled", result.Cancelled).
		Msg("dispatch finished")
	return result, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, p provider.Provider, limiter *rate.Limiter, req BulkRequest, r models.Recipient) ContactResult {
	c := r.Contact
	cr := ContactResult{Contact: c, SentTo: c.Address(), Status: models.DeliveryFailed}

	to := c.Address()
	if c.Channel == "" || c.Channel.UsesPhone() {
		normalized, err := d.deps.Normalizer.Normalize(to, p.PhoneFormat())
		if err != nil {
			cr.Error = err.Error()
			return cr
		}
		to = normalized
	} else if strings.TrimSpace(to) == "" {
		cr.Error = fmt.Sprintf("contact has no %s address", c.Channel)
		return cr
	}
	cr.SentTo = to

	link := contactLink(req.Link, c)
	msg := provider.Message{
		To:        to,
		Name:      c.Name,
		Body:      r.Body,
		Subject:   req.Template.Subject,
		MediaURL:  req.Template.MediaURL,
		MediaType: req.Template.MediaType,
	}
	if req.Template.ProviderTemplate != "" {
		msg.TemplateName = req.Template.ProviderTemplate
		msg.TemplateArgs = []string{c.Name, link}
	}

	res, attempts, exhausted := d.deliver(ctx, p, limiter, msg)
	if !res.Success && res.TemplateRejected && msg.TemplateName != "" {
		d.log.Warn().Str("contact_id", c.ID).Str("error", res.Error).Msg("template rejected, falling back to free-form")
		var more int
		res, more, exhausted = d.deliver(ctx, p, limiter, msg.FreeForm())
		attempts += more
		cr.FellBack = true
	}

	cr.Attempts = attempts
	cr.Success = res.Success
	cr.ProviderMessageID = res.ProviderMessageID
	cr.Error = res.Error
	switch {
	case res.Success:
		cr.Status = models.DeliverySent
	case exhausted:
		cr.Status = models.DeliveryDeadLetter
		cr.DeadLetter = true
	}
	return cr
}

// deliver calls the provider until it succeeds, fails permanently or the
// attempt budget runs out, reporting the last result, the number of calls and
// whether the budget was exhausted. Every call waits on the limiter first.
func (d *Dispatcher) deliver(ctx context.Context, p provider.Provider, limiter *rate.Limiter, msg provider.Message) (provider.Result, int, bool) {
	var (
		res      provider.Result
		attempts int
	)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.opts.InitialBackoff
	eb.MaxInterval = d.opts.MaxBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.opts.MaxAttempts-1)), ctx)

	op := func() error {
		if err := limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		start := time.Now()
		res = p.Send(ctx, msg)
		d.deps.Metrics.ObserveSend(p.Name(), time.Since(start))
		if res.Success || !res.Retryable {
			return nil
		}
		return res.Err()
	}
	notify := func(err error, wait time.Duration) {
		d.log.Debug().Err(err).Int("attempt", attempts).Dur("backoff", wait).Msg("retrying send")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil && attempts == 0 {
		res = provider.Failed("%s", errNotAttempted)
	}
	exhausted := !res.Success && res.Retryable && attempts >= d.opts.MaxAttempts
	return res, attempts, exhausted
}

func (d *Dispatcher) record(ctx context.Context, req BulkRequest, providerName string, cr ContactResult) {
	d.deps.Metrics.RecordOutcome(providerName, string(cr.Status), cr.Attempts)

	entry := models.DeliveryLogEntry{
		GuestName:         cr.Contact.Name,
		GuestID:           cr.Contact.ID,
		NotificationType:  req.NotificationType,
		SentTo:            cr.SentTo,
		SentVia:           providerName,
		Status:            cr.Status,
		ProviderMessageID: cr.ProviderMessageID,
		Error:             cr.Error,
	}
	if req.List.Valid() && cr.Contact.ID != "" {
		d.deps.Log.LogDelivery(ctx, req.List, cr.Contact.ID, entry)
		return
	}
	d.deps.Log.Log(ctx, entry)
}

// track runs a tracker update, logging failures. Progress tracking never fails a job.
func (d *Dispatcher) track(ctx context.Context, fn func(context.Context, jobs.Tracker) error) {
	if d.deps.Tracker == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx), d.deps.Tracker); err != nil {
		d.log.Warn().Err(err).Msg("failed to update job progress")
	}
}
