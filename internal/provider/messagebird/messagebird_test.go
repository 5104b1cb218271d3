package messagebird

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-invitations/internal/config"
	"wedding-invitations/internal/provider"
)

func newTestSender(t *testing.T, h http.HandlerFunc) *Sender {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s, err := New(config.MessageBirdConfig{AccessKey: "live_key", Originator: "Wedding", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)
	return s
}

func TestSend_Success(t *testing.T) {
	var got messageRequest
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "AccessKey live_key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"mb-1","recipients":{"totalCount":1}}`))
	})

	res := s.Send(context.Background(), provider.Message{To: "971501234567", Body: "Hello Ahmed"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "mb-1", res.ProviderMessageID)
	assert.Equal(t, "Wedding", got.Originator)
	assert.Equal(t, []string{"971501234567"}, got.Recipients)
	assert.Equal(t, "Hello Ahmed", got.Body)
}

func TestSend_VendorError(t *testing.T) {
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"code":9,"description":"no (correct) recipients found","parameter":"recipient"}]}`))
	})

	res := s.Send(context.Background(), provider.Message{To: "1", Body: "x"})

	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
	assert.Equal(t, "messagebird returned 422: no (correct) recipients found", res.Error)
}

func TestSend_ServerErrorIsRetryable(t *testing.T) {
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	res := s.Send(context.Background(), provider.Message{To: "971501234567", Body: "x"})
	assert.False(t, res.Success)
	assert.True(t, res.Retryable)
}

func TestSend_MalformedResponse(t *testing.T) {
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`not json`))
	})

	res := s.Send(context.Background(), provider.Message{To: "971501234567", Body: "x"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "malformed response")
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(config.MessageBirdConfig{Originator: "Wedding"}, nil)
	assert.Error(t, err)
}
