// Package api exposes the admin console API, the public RSVP endpoints and the
// vendor webhooks over gin.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	twilioclient "github.com/twilio/twilio-go/client"

	"wedding-invitations/internal/guestfeed"
	"wedding-invitations/internal/handler"
	"wedding-invitations/internal/invitation"
	"wedding-invitations/internal/jobs"
	"wedding-invitations/internal/metrics"
	"wedding-invitations/internal/provider"
	"wedding-invitations/internal/queue"
	"wedding-invitations/internal/storage"
	"wedding-invitations/internal/worker"
)

// Deps are the services behind the HTTP API. Publisher is optional; without it
// asynchronous dispatches run in-process.
type Deps struct {
	Store       *storage.Storage
	Providers   *provider.Registry
	Runner      *worker.Runner
	Publisher   queue.Publisher
	Tracker     jobs.Tracker
	Idempotency jobs.Idempotency
	Invitations *invitation.Service
	RSVP        *handler.RSVPHandler
	Feed        guestfeed.Feed
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

type Options struct {
	JWTSecret string
	// PublicURL is the externally visible base URL, used to verify Twilio signatures.
	PublicURL       string
	TwilioAuthToken string
	// WebhookSecret guards the MessageBird and Zoko webhooks, which carry no
	// signature of their own.
	WebhookSecret string
}

type Server struct {
	Deps
	opts            Options
	log             zerolog.Logger
	twilioValidator *twilioclient.RequestValidator
}

func NewServer(deps Deps, opts Options) *Server {
	s := &Server{
		Deps: deps,
		opts: opts,
		log:  deps.Logger.With().Str("component", "api").Logger(),
	}
	if opts.TwilioAuthToken != "" {
		v := twilioclient.NewRequestValidator(opts.TwilioAuthToken)
		s.twilioValidator = &v
	}
	if opts.WebhookSecret == "" {
		s.log.Warn().Msg("webhook secret not set, messagebird and zoko webhooks are unauthenticated")
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), CorrelationID(), RequestLogger(s.log, s.Metrics))

	router.GET("/healthz", s.health)
	if s.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	public := router.Group("/api")
	{
		public.POST("/rsvp/confirm", s.confirmAttendance)
		public.POST("/rsvp/apologize", s.apologize)
		public.GET("/invitations/:id", s.getInvitation)
		public.GET("/invitations/:id/qr", s.invitationQR)
		public.GET("/guests/stream", s.streamGuests)
	}

	admin := router.Group("/api", Authentication(s.opts.JWTSecret))
	{
		admin.GET("/providers", s.listProviders)

		admin.GET("/contacts/:list", s.listContacts)
		admin.POST("/contacts/:list", s.createContact)
		admin.PATCH("/contacts/:list/:id/active", s.setContactActive)
		admin.DELETE("/contacts/:list/:id", s.deleteContact)

		admin.GET("/templates", s.listTemplates)
		admin.POST("/templates", s.createTemplate)
		admin.PUT("/templates/:id", s.updateTemplate)
		admin.POST("/templates/:id/media", s.addTemplateMedia)
		admin.POST("/templates/preview", s.previewTemplate)

		admin.POST("/dispatch", s.dispatch)
		admin.GET("/dispatch/jobs/:id", s.getJob)

		admin.GET("/logs", s.listLogs)
		admin.GET("/guests", s.listGuests)
		admin.POST("/guests", s.inviteGuest)
	}

	hooks := router.Group("/webhooks")
	{
		hooks.POST("/twilio/status", s.twilioStatus)
		hooks.POST("/twilio/inbound", s.twilioInbound)
		shared := WebhookToken(s.opts.WebhookSecret)
		hooks.POST("/messagebird/status", shared, s.messageBirdStatus)
		hooks.GET("/messagebird/status", shared, s.messageBirdStatus)
		hooks.POST("/zoko", shared, s.zokoWebhook)
	}

	return router
}
