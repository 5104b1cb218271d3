package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-invitations/internal/config"
	"wedding-invitations/internal/deliverylog"
	"wedding-invitations/internal/dispatch"
	"wedding-invitations/internal/guestfeed"
	"wedding-invitations/internal/handler"
	"wedding-invitations/internal/invitation"
	"wedding-invitations/internal/jobs"
	"wedding-invitations/internal/metrics"
	"wedding-invitations/internal/models"
	"wedding-invitations/internal/phone"
	"wedding-invitations/internal/provider"
	"wedding-invitations/internal/queue"
	"wedding-invitations/internal/storage"
	"wedding-invitations/internal/worker"
)

const testSecret = "test-secret"

type recordingProvider struct {
	mu    sync.Mutex
	calls []provider.Message
}

func (p *recordingProvider) Name() string              { return "twilio-whatsapp" }
func (p *recordingProvider) PhoneFormat() phone.Format { return phone.Plus }

func (p *recordingProvider) Send(_ context.Context, msg provider.Message) provider.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, msg)
	return provider.Succeeded(fmt.Sprintf("SM%d", len(p.calls)))
}

func (p *recordingProvider) sent() []provider.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Message(nil), p.calls...)
}

type testEnv struct {
	server   *Server
	router   *gin.Engine
	store    *storage.Storage
	provider *recordingProvider
	runner   *worker.Runner
	feed     *guestfeed.MemoryFeed
	token    string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	store, err := storage.Open(ctx, storage.DriverSQLite, "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	norm, err := phone.NewNormalizer("AE", "SA")
	require.NoError(t, err)

	rec := &recordingProvider{}
	registry := provider.NewRegistry(rec)
	m := metrics.New()
	tracker := jobs.NewMemoryTracker()
	feed := guestfeed.NewMemoryFeed()

	dispatcher := dispatch.New(dispatch.Deps{
		Providers:  registry,
		Normalizer: norm,
		Log:        deliverylog.NewWriter(store, zerolog.Nop()),
		Tracker:    tracker,
		Metrics:    m,
		Logger:     zerolog.Nop(),
	}, dispatch.Options{MaxAttempts: 1})
	runner := worker.NewRunner(store, dispatcher, tracker, "https://wedding.test/rsvp", zerolog.Nop())
	invitations := invitation.NewService(store, storage.ErrNotFound, feed, norm, m, "https://wedding.test/invitation/{id}", zerolog.Nop())
	rsvp := handler.NewRSVPHandler(invitations, registry, norm, config.WeddingConfig{BrideName: "Layla", GroomName: "Omar"}, zerolog.Nop())

	if opts.JWTSecret == "" {
		opts.JWTSecret = testSecret
	}
	srv := NewServer(Deps{
		Store:       store,
		Providers:   registry,
		Runner:      runner,
		Tracker:     tracker,
		Idempotency: jobs.NewMemoryIdempotency(jobs.DefaultTTL),
		Invitations: invitations,
		RSVP:        rsvp,
		Feed:        feed,
		Metrics:     m,
		Logger:      zerolog.Nop(),
	}, opts)

	token, err := IssueToken(opts.JWTSecret, "admin", time.Hour)
	require.NoError(t, err)

	return &testEnv{
		server:   srv,
		router:   srv.Router(),
		store:    store,
		provider: rec,
		runner:   runner,
		feed:     feed,
		token:    token,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	return e.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + e.token})
}

func (e *testEnv) form(t *testing.T, path string, values url.Values, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Success bool `json:"success"`
		Data    T    `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Data
}

func (e *testEnv) seed(t *testing.T) string {
	t.Helper()
	w := e.admin(t, http.MethodPost, "/api/templates", gin.H{"name": "invite", "body": "Dear {name}, join us: {link}"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tpl := decode[models.MessageTemplate](t, w)

	for _, c := range []gin.H{
		{"name": "Aisha", "phone_number": "0501234567", "channel": "whatsapp"},
		{"name": "Khalid", "phone_number": "+966 55 123 4567", "channel": "whatsapp"},
	} {
		w := e.admin(t, http.MethodPost, "/api/contacts/whatsapp", c)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	return tpl.ID
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wedding_invites_http_requests_total")
}

func TestAdminRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, http.MethodGet, "/api/contacts/admin", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/contacts/admin", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := IssueToken("other-secret", "admin", time.Hour)
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/api/contacts/admin", nil, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.admin(t, http.MethodGet, "/api/contacts/admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestContacts(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.admin(t, http.MethodPost, "/api/contacts/guests", gin.H{"name": "x", "channel": "sms", "phone_number": "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.admin(t, http.MethodPost, "/api/contacts/admin", gin.H{"name": "Mona", "channel": "email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.admin(t, http.MethodPost, "/api/contacts/admin", gin.H{"name": "Mona", "channel": "email", "email": "mona@example.com"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.Contact](t, w)
	assert.True(t, created.IsActive)

	w = env.admin(t, http.MethodPatch, "/api/contacts/admin/"+created.ID+"/active", gin.H{"is_active": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.admin(t, http.MethodGet, "/api/contacts/admin?active=true", nil)
	assert.Empty(t, decode[[]models.Contact](t, w))

	w = env.admin(t, http.MethodDelete, "/api/contacts/admin/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.admin(t, http.MethodDelete, "/api/contacts/admin/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemplates(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.admin(t, http.MethodPost, "/api/templates", gin.H{"name": "blank", "body": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.admin(t, http.MethodPost, "/api/templates", gin.H{"name": "invite", "body": "Hi {name}"})
	require.Equal(t, http.StatusCreated, w.Code)
	tpl := decode[models.MessageTemplate](t, w)

	w = env.admin(t, http.MethodPut, "/api/templates/"+tpl.ID, gin.H{
		"name": "invite", "body": "Hello {name}", "media_url": "https://cdn.test/card.jpg", "media_type": "image",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[models.MessageTemplate](t, w)
	assert.Equal(t, "Hello {name}", updated.Body)
	assert.Equal(t, "https://cdn.test/card.jpg", updated.MediaURL)

	w = env.admin(t, http.MethodPut, "/api/templates/missing", gin.H{"name": "x", "body": "y"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.admin(t, http.MethodPost, "/api/templates/preview", gin.H{"body": "Dear {name}, see {link}", "name": "Aisha", "link": "https://w.test"})
	require.Equal(t, http.StatusOK, w.Code)
	preview := decode[struct {
		Message  string `json:"message"`
		Segments int    `json:"segments"`
	}](t, w)
	assert.Equal(t, "Dear Aisha, see https://w.test", preview.Message)
	assert.Equal(t, 1, preview.Segments)
}

func TestDispatch_Sync(t *testing.T) {
	env := newTestEnv(t, Options{})
	tplID := env.seed(t)

	w := env.admin(t, http.MethodPost, "/api/dispatch", gin.H{"list": "whatsapp", "template_id": tplID, "provider": "twilio-whatsapp"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[dispatch.BulkResult](t, w)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 0, res.Failed)

	calls := env.provider.sent()
	require.Len(t, calls, 2)
	assert.Equal(t, "+971501234567", calls[0].To)
	assert.Equal(t, "Dear Aisha, join us: https://wedding.test/rsvp", calls[0].Body)
	assert.Equal(t, "+966551234567", calls[1].To)

	w = env.admin(t, http.MethodGet, "/api/logs?limit=10", nil)
	logs := decode[[]models.DeliveryLogEntry](t, w)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, models.DeliverySent, l.Status)
		assert.Equal(t, "twilio-whatsapp", l.SentVia)
	}

	w = env.admin(t, http.MethodGet, "/api/dispatch/jobs/"+res.JobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	progress := decode[jobs.Progress](t, w)
	assert.Equal(t, jobs.StatusCompleted, progress.Status)
	assert.Equal(t, 2, progress.Sent)
}

func TestDispatch_Refusals(t *testing.T) {
	env := newTestEnv(t, Options{})
	tplID := env.seed(t)

	w := env.admin(t, http.MethodPost, "/api/dispatch", gin.H{"list": "whatsapp", "template_id": tplID, "provider": "zoko"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.admin(t, http.MethodPost, "/api/dispatch", gin.H{"list": "everyone", "template_id": tplID, "provider": "twilio-whatsapp"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.admin(t, http.MethodPost, "/api/dispatch", gin.H{"list": "admin", "template_id": tplID, "provider": "twilio-whatsapp"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.admin(t, http.MethodPost, "/api/dispatch", gin.H{"list": "whatsapp", "template_id": "missing", "provider": "twilio-whatsapp"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, env.provider.sent())
}

func TestDispatch_AsyncIdempotent(t *testing.T) {
	env := newTestEnv(t, Options{})
	tplID := env.seed(t)
	body := gin.H{"list": "whatsapp", "template_id": tplID, "provider": "twilio-whatsapp", "async": true}
	headers := map[string]string{"Authorization": "Bearer " + env.token, "Idempotency-Key": "batch-1"}

	w := env.do(t, http.MethodPost, "/api/dispatch", body, headers)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	first := decode[struct {
		JobID string `json:"job_id"`
	}](t, w)

	w = env.do(t, http.MethodPost, "/api/dispatch", body, headers)
	require.Equal(t, http.StatusConflict, w.Code)
	second := decode[struct {
		JobID string `json:"job_id"`
	}](t, w)
	assert.Equal(t, first.JobID, second.JobID)

	env.runner.Wait()
	assert.Len(t, env.provider.sent(), 2)

	w = env.admin(t, http.MethodGet, "/api/dispatch/jobs/"+first.JobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, jobs.StatusCompleted, decode[jobs.Progress](t, w).Status)

	w = env.admin(t, http.MethodGet, "/api/dispatch/jobs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type stubPublisher struct {
	err  error
	cmds []queue.DispatchCommand
}

func (p *stubPublisher) PublishDispatch(_ context.Context, cmd queue.DispatchCommand) error {
	if p.err != nil {
		return p.err
	}
	p.cmds = append(p.cmds, cmd)
	return nil
}

func TestDispatch_FailedRequestReleasesIdempotencyKey(t *testing.T) {
	env := newTestEnv(t, Options{})
	tplID := env.seed(t)
	headers := map[string]string{"Authorization": "Bearer " + env.token, "Idempotency-Key": "batch-2"}

	w := env.do(t, http.MethodPost, "/api/dispatch", gin.H{"list": "whatsapp", "template_id": "missing", "provider": "twilio-whatsapp"}, headers)
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/dispatch", gin.H{"list": "whatsapp", "template_id": tplID, "provider": "twilio-whatsapp"}, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, env.provider.sent(), 2)

	w = env.do(t, http.MethodPost, "/api/dispatch", gin.H{"list": "whatsapp", "template_id": tplID, "provider": "twilio-whatsapp"}, headers)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDispatch_AsyncFailureIsVisible(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seed(t)

	w := env.admin(t, http.MethodPost, "/api/dispatch", gin.H{"list": "whatsapp", "template_id": "missing", "provider": "twilio-whatsapp", "async": true})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	jobID := decode[struct {
		JobID string `json:"job_id"`
	}](t, w).JobID

	env.runner.Wait()
	w = env.admin(t, http.MethodGet, "/api/dispatch/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, jobs.StatusFailed, decode[jobs.Progress](t, w).Status)
	assert.Empty(t, env.provider.sent())
}

func TestDispatch_PublishedJobIsQueued(t *testing.T) {
	env := newTestEnv(t, Options{})
	tplID := env.seed(t)
	pub := &stubPublisher{}
	env.server.Publisher = pub
	body := gin.H{"list": "whatsapp", "template_id": tplID, "provider": "twilio-whatsapp", "async": true}
	headers := map[string]string{"Authorization": "Bearer " + env.token, "Idempotency-Key": "batch-3"}

	w := env.do(t, http.MethodPost, "/api/dispatch", body, headers)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	jobID := decode[struct {
		JobID string `json:"job_id"`
	}](t, w).JobID
	require.Len(t, pub.cmds, 1)
	assert.Equal(t, jobID, pub.cmds[0].JobID)

	w = env.admin(t, http.MethodGet, "/api/dispatch/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[jobs.Progress](t, w)
	assert.Equal(t, jobs.StatusQueued, p.Status)
	assert.Equal(t, "twilio-whatsapp", p.Provider)

	// A broker outage fails the job and frees the key for a retry.
	pub.err = errors.New("channel closed")
	headers["Idempotency-Key"] = "batch-4"
	w = env.do(t, http.MethodPost, "/api/dispatch", body, headers)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	pub.err = nil
	w = env.do(t, http.MethodPost, "/api/dispatch", body, headers)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Len(t, pub.cmds, 2)
}

func TestRSVPFlow(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.admin(t, http.MethodPost, "/api/guests", gin.H{"full_name": "Sara Ahmed", "phone_number": "0509876543"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	invited := decode[struct {
		Guest models.Guest `json:"guest"`
		Link  string       `json:"link"`
	}](t, w)
	id := invited.Guest.InvitationID
	assert.Equal(t, "https://wedding.test/invitation/"+id, invited.Link)

	w = env.do(t, http.MethodGet, "/api/invitations/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Sara Ahmed")

	w = env.do(t, http.MethodGet, "/api/invitations/"+id+"/qr", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = env.do(t, http.MethodPost, "/api/rsvp/confirm", gin.H{"invitation_id": id}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	g := decode[models.Guest](t, w)
	assert.Equal(t, models.GuestConfirmed, g.Status)
	assert.NotNil(t, g.ConfirmationTimestamp)

	w = env.do(t, http.MethodPost, "/api/rsvp/apologize", gin.H{"invitation_id": id}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	g = decode[models.Guest](t, w)
	assert.Equal(t, models.GuestApologized, g.Status)
	assert.Nil(t, g.ConfirmationTimestamp)

	w = env.do(t, http.MethodPost, "/api/rsvp/confirm", gin.H{"full_name": "Walk In"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.GuestConfirmed, decode[models.Guest](t, w).Status)

	w = env.do(t, http.MethodPost, "/api/rsvp/confirm", gin.H{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/invitations/zzzzzzzzzz", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.admin(t, http.MethodGet, "/api/guests?status=confirmed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Guest](t, w), 1)

	w = env.admin(t, http.MethodGet, "/api/guests?status=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTwilioStatusWebhook(t *testing.T) {
	env := newTestEnv(t, Options{})
	tplID := env.seed(t)
	w := env.admin(t, http.MethodPost, "/api/dispatch", gin.H{"list": "whatsapp", "template_id": tplID, "provider": "twilio-whatsapp"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.form(t, "/webhooks/twilio/status", url.Values{
		"MessageSid":    {"SM2"},
		"MessageStatus": {"undelivered"},
		"ErrorCode":     {"63016"},
	}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Intermediate and unknown statuses are acknowledged without changes.
	w = env.form(t, "/webhooks/twilio/status", url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"queued"}}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.form(t, "/webhooks/twilio/status", url.Values{"MessageSid": {"SM99"}, "MessageStatus": {"failed"}}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	logs, err := env.store.ListLogs(context.Background(), 10)
	require.NoError(t, err)
	byID := make(map[string]models.DeliveryLogEntry)
	for _, l := range logs {
		byID[l.ProviderMessageID] = l
	}
	assert.Equal(t, models.DeliverySent, byID["SM1"].Status)
	assert.Equal(t, models.DeliveryFailed, byID["SM2"].Status)
	assert.Equal(t, "twilio error 63016", byID["SM2"].Error)
}

func TestTwilioWebhook_Signature(t *testing.T) {
	env := newTestEnv(t, Options{TwilioAuthToken: "token", PublicURL: "https://wedding.test"})

	w := env.form(t, "/webhooks/twilio/status", url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"sent"}}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.form(t, "/webhooks/twilio/status", url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"sent"}},
		map[string]string{"X-Twilio-Signature": "bogus"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTwilioInbound_ConfirmsGuest(t *testing.T) {
	env := newTestEnv(t, Options{})
	g, err := env.server.Invitations.Invite(context.Background(), "Sara Ahmed", "0509876543")
	require.NoError(t, err)

	w := env.form(t, "/webhooks/twilio/inbound", url.Values{"From": {"whatsapp:+971509876543"}, "Body": {"Yes, we'll be there!"}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Response></Response>")

	got, err := env.server.Invitations.Get(context.Background(), g.InvitationID)
	require.NoError(t, err)
	assert.Equal(t, models.GuestConfirmed, got.Status)

	calls := env.provider.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, "+971509876543", calls[0].To)
	assert.Contains(t, calls[0].Body, "Layla & Omar")

	// Unknown senders are ignored.
	w = env.form(t, "/webhooks/twilio/inbound", url.Values{"From": {"whatsapp:+971500000000"}, "Body": {"yes"}}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, env.provider.sent(), 1)
}

func TestZokoAndMessageBirdStatus(t *testing.T) {
	env := newTestEnv(t, Options{})
	tplID := env.seed(t)
	w := env.admin(t, http.MethodPost, "/api/dispatch", gin.H{"list": "whatsapp", "template_id": tplID, "provider": "twilio-whatsapp"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/webhooks/zoko", gin.H{"direction": "FROM_STORE", "messageId": "SM1", "deliveryStatus": "failed"}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/webhooks/messagebird/status?id=SM2&status=delivery_failed&statusErrorCode=104", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	logs, err := env.store.ListLogs(context.Background(), 10)
	require.NoError(t, err)
	for _, l := range logs {
		assert.Equal(t, models.DeliveryFailed, l.Status, l.ProviderMessageID)
		if l.ProviderMessageID == "SM2" {
			assert.Equal(t, "messagebird error 104", l.Error)
		}
	}

	w = env.do(t, http.MethodPost, "/webhooks/zoko", "not an object", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhooks_RequireSharedToken(t *testing.T) {
	env := newTestEnv(t, Options{WebhookSecret: "hook-secret"})
	zoko := gin.H{"direction": "FROM_STORE", "messageId": "SM1", "deliveryStatus": "delivered"}

	w := env.do(t, http.MethodPost, "/webhooks/zoko", zoko, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/webhooks/zoko", zoko, map[string]string{"X-Webhook-Token": "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/webhooks/zoko", zoko, map[string]string{"X-Webhook-Token": "hook-secret"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/webhooks/messagebird/status?id=SM2&status=delivered", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/webhooks/messagebird/status?id=SM2&status=delivered&token=hook-secret", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.form(t, "/webhooks/messagebird/status?token=nope", url.Values{"id": {"SM2"}, "status": {"delivered"}}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.form(t, "/webhooks/messagebird/status?token=hook-secret", url.Values{"id": {"SM2"}, "status": {"delivered"}}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestGuestStream(t *testing.T) {
	env := newTestEnv(t, Options{})
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/guests/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), "event:") {
				return strings.TrimPrefix(lines.Text(), "event:")
			}
		}
		return ""
	}
	require.Equal(t, "ready", next())

	_, err = env.server.Invitations.Invite(ctx, "Sara Ahmed", "")
	require.NoError(t, err)
	assert.Equal(t, guestfeed.EventAdded, next())
}
