package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wedding-invitations/internal/jobs"
	"wedding-invitations/internal/message"
	"wedding-invitations/internal/models"
	"wedding-invitations/internal/queue"
)

func (s *Server) health(c *gin.Context) {
	if err := s.Store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listProviders(c *gin.Context) {
	ok(c, http.StatusOK, s.Providers.Names())
}

func contactList(c *gin.Context) (models.ContactList, bool) {
	list := models.ContactList(c.Param("list"))
	if !list.Valid() {
		fail(c, http.StatusBadRequest, "Invalid request", errors.New("list must be admin or whatsapp"))
		return "", false
	}
	return list, true
}

func (s *Server) listContacts(c *gin.Context) {
	list, valid := contactList(c)
	if !valid {
		return
	}
	activeOnly := c.Query("active") == "true"
	contacts, err := s.Store.ListContacts(c.Request.Context(), list, activeOnly)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, contacts)
}

type createContactRequest struct {
	Name             string         `json:"name" binding:"required"`
	PhoneNumber      string         `json:"phone_number"`
	Email            string         `json:"email"`
	PushSubscription string         `json:"push_subscription"`
	Channel          models.Channel `json:"channel" binding:"required"`
	IsActive         *bool          `json:"is_active"`
}

func (s *Server) createContact(c *gin.Context) {
	list, valid := contactList(c)
	if !valid {
		return
	}
	var req createContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if !req.Channel.Valid() {
		fail(c, http.StatusBadRequest, "Invalid request", errors.New("channel must be sms, whatsapp, email or push"))
		return
	}
	contact := &models.Contact{
		List:             list,
		Name:             strings.TrimSpace(req.Name),
		PhoneNumber:      strings.TrimSpace(req.PhoneNumber),
		Email:            strings.TrimSpace(req.Email),
		PushSubscription: req.PushSubscription,
		Channel:          req.Channel,
		IsActive:         req.IsActive == nil || *req.IsActive,
	}
	if contact.Address() == "" {
		fail(c, http.StatusBadRequest, "Invalid request", errors.New("contact has no address for its channel"))
		return
	}
	if err := s.Store.CreateContact(c.Request.Context(), contact); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, contact)
}

func (s *Server) setContactActive(c *gin.Context) {
	list, valid := contactList(c)
	if !valid {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if err := s.Store.SetContactActive(c.Request.Context(), list, c.Param("id"), *req.IsActive); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": c.Param("id"), "is_active": *req.IsActive})
}

func (s *Server) deleteContact(c *gin.Context) {
	list, valid := contactList(c)
	if !valid {
		return
	}
	if err := s.Store.DeleteContact(c.Request.Context(), list, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type templateRequest struct {
	Name             string `json:"name" binding:"required"`
	Body             string `json:"body" binding:"required"`
	Subject          string `json:"subject"`
	MediaURL         string `json:"media_url"`
	MediaType        string `json:"media_type"`
	ProviderTemplate string `json:"provider_template"`
}

func (r templateRequest) model() *models.MessageTemplate {
	return &models.MessageTemplate{
		Name:             r.Name,
		Body:             r.Body,
		Subject:          r.Subject,
		MediaURL:         r.MediaURL,
		MediaType:        r.MediaType,
		ProviderTemplate: r.ProviderTemplate,
	}
}

func (s *Server) listTemplates(c *gin.Context) {
	templates, err := s.Store.ListTemplates(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, templates)
}

func (s *Server) createTemplate(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if err := message.Validate(req.Body); err != nil {
		failErr(c, err)
		return
	}
	tpl := req.model()
	if err := s.Store.CreateTemplate(c.Request.Context(), tpl); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, tpl)
}

func (s *Server) updateTemplate(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if err := message.Validate(req.Body); err != nil {
		failErr(c, err)
		return
	}
	tpl := req.model()
	tpl.ID = c.Param("id")
	if err := s.Store.UpdateTemplate(c.Request.Context(), tpl); err != nil {
		failErr(c, err)
		return
	}
	updated, err := s.Store.GetTemplate(c.Request.Context(), tpl.ID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, updated)
}

func (s *Server) addTemplateMedia(c *gin.Context) {
	var req struct {
		MediaURL  string `json:"media_url" binding:"required"`
		MediaType string `json:"media_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	media := &models.TemplateMedia{TemplateID: c.Param("id"), MediaURL: req.MediaURL, MediaType: req.MediaType}
	if err := s.Store.AddTemplateMedia(c.Request.Context(), media); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, media)
}

// previewTemplate renders a template for one name and reports its SMS segment count.
func (s *Server) previewTemplate(c *gin.Context) {
	var req struct {
		Body string `json:"body"`
		Name string `json:"name"`
		Link string `json:"link"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if err := message.Validate(req.Body); err != nil {
		failErr(c, err)
		return
	}
	body := message.Format(req.Body, message.Vars{Name: req.Name, Link: req.Link})
	ok(c, http.StatusOK, gin.H{"message": body, "segments": message.Segments(body)})
}

type dispatchRequest struct {
	List             models.ContactList `json:"list" binding:"required"`
	TemplateID       string             `json:"template_id" binding:"required"`
	Provider         string             `json:"provider" binding:"required"`
	ContactIDs       []string           `json:"contact_ids"`
	Link             string             `json:"link"`
	NotificationType string             `json:"notification_type"`
	Async            bool               `json:"async"`
}

// dispatch starts a bulk send. Synchronous requests return the full result;
// asynchronous ones return the job id to poll. An Idempotency-Key header maps
// repeated requests onto the first job.
func (s *Server) dispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if _, found := s.Providers.Get(req.Provider); !found {
		fail(c, http.StatusUnprocessableEntity, "Provider not configured", errors.New(req.Provider))
		return
	}

	cmd := queue.DispatchCommand{
		JobID:            uuid.NewString(),
		List:             req.List,
		TemplateID:       req.TemplateID,
		Provider:         req.Provider,
		ContactIDs:       req.ContactIDs,
		Link:             req.Link,
		NotificationType: req.NotificationType,
	}

	key := c.GetHeader("Idempotency-Key")
	if key != "" && s.Idempotency != nil {
		jobID, claimed, err := s.Idempotency.Claim(c.Request.Context(), key, cmd.JobID)
		if err != nil {
			failErr(c, err)
			return
		}
		if !claimed {
			c.JSON(http.StatusConflict, ApiResponse{Success: false, Message: "Duplicate request", Data: gin.H{"job_id": jobID}})
			return
		}
	}

	if !req.Async {
		res, err := s.Runner.Run(c.Request.Context(), cmd)
		if err != nil {
			s.release(c, key, cmd.JobID)
			failErr(c, err)
			return
		}
		ok(c, http.StatusOK, res)
		return
	}

	if s.Tracker != nil {
		if err := s.Tracker.Queue(c.Request.Context(), cmd.JobID, req.Provider); err != nil {
			s.log.Warn().Err(err).Str("job_id", cmd.JobID).Msg("failed to record queued job")
		}
	}
	if s.Publisher != nil {
		if err := s.Publisher.PublishDispatch(c.Request.Context(), cmd); err != nil {
			s.release(c, key, cmd.JobID)
			if s.Tracker != nil {
				_ = s.Tracker.Finish(context.WithoutCancel(c.Request.Context()), cmd.JobID, jobs.StatusFailed)
			}
			failErr(c, err)
			return
		}
	} else {
		s.Runner.Go(c.Request.Context(), cmd)
	}
	ok(c, http.StatusAccepted, gin.H{"job_id": cmd.JobID})
}

// release frees an idempotency key whose job never started so the request can
// be corrected and retried.
func (s *Server) release(c *gin.Context, key, jobID string) {
	if key == "" || s.Idempotency == nil {
		return
	}
	if err := s.Idempotency.Release(context.WithoutCancel(c.Request.Context()), key, jobID); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to release idempotency key")
	}
}

func (s *Server) getJob(c *gin.Context) {
	if s.Tracker == nil {
		fail(c, http.StatusNotFound, "Not found", errors.New("job tracking is disabled"))
		return
	}
	p, err := s.Tracker.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (s *Server) listLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := s.Store.ListLogs(c.Request.Context(), limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, logs)
}

func (s *Server) listGuests(c *gin.Context) {
	status := models.GuestStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		fail(c, http.StatusBadRequest, "Invalid request", errors.New("unknown guest status"))
		return
	}
	guests, err := s.Store.ListGuests(c.Request.Context(), status)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, guests)
}

func (s *Server) inviteGuest(c *gin.Context) {
	var req models.AttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	g, err := s.Invitations.Invite(c.Request.Context(), req.FullName, req.PhoneNumber)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"guest": g, "link": s.Invitations.Link(g.InvitationID)})
}
