package provider

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-invitations/internal/phone"
)

type scriptedProvider struct {
	name    string
	results []Result
	calls   int
}

func (s *scriptedProvider) Name() string              { return s.name }
func (s *scriptedProvider) PhoneFormat() phone.Format { return phone.Bare }
func (s *scriptedProvider) Send(ctx context.Context, msg Message) Result {
	r := s.results[s.calls%len(s.results)]
	s.calls++
	return r
}

func TestRegistry(t *testing.T) {
	a := &scriptedProvider{name: "Twilio"}
	b := &scriptedProvider{name: "zoko"}
	r := NewRegistry(a, b)

	p, ok := r.Get(" twilio ")
	require.True(t, ok)
	assert.Same(t, a, p)

	_, ok = r.Get("messagebird")
	assert.False(t, ok)
	assert.Equal(t, []string{"twilio", "zoko"}, r.Names())
}

func TestResultErr(t *testing.T) {
	assert.NoError(t, Succeeded("id").Err())
	assert.EqualError(t, Failed("bad %s", "number").Err(), "bad number")

	rejected := Result{Error: "template missing", TemplateRejected: true}
	assert.ErrorIs(t, rejected.Err(), ErrTemplateRejected)
}

func TestMessageFreeForm(t *testing.T) {
	m := Message{To: "971501234567", Body: "hi", TemplateName: "wedding_invite", TemplateArgs: []string{"a"}}
	f := m.FreeForm()
	assert.Empty(t, f.TemplateName)
	assert.Nil(t, f.TemplateArgs)
	assert.Equal(t, "hi", f.Body)
	assert.Equal(t, "wedding_invite", m.TemplateName)
}

func TestWithBreaker_OpensAfterTransientFailures(t *testing.T) {
	inner := &scriptedProvider{name: "flaky", results: []Result{TransientFailure("503")}}
	p := WithBreaker(inner, BreakerSettings("flaky", zerolog.Nop()))

	for i := 0; i < 5; i++ {
		res := p.Send(context.Background(), Message{})
		assert.True(t, res.Retryable)
	}
	res := p.Send(context.Background(), Message{})
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
	assert.Contains(t, res.Error, "unavailable")
	assert.Equal(t, 5, inner.calls)
}

func TestWithBreaker_PermanentFailuresDoNotTrip(t *testing.T) {
	inner := &scriptedProvider{name: "strict", results: []Result{Failed("invalid recipient")}}
	p := WithBreaker(inner, BreakerSettings("strict", zerolog.Nop()))

	for i := 0; i < 10; i++ {
		res := p.Send(context.Background(), Message{})
		assert.Equal(t, "invalid recipient", res.Error)
	}
	assert.Equal(t, 10, inner.calls)
	assert.Equal(t, "strict", p.Name())
}

func TestFromHTTPStatus(t *testing.T) {
	r := FromHTTPStatus("zoko", http.StatusBadGateway, "", nil)
	assert.True(t, r.Retryable)
	assert.Contains(t, r.Error, "Bad Gateway")

	r = FromHTTPStatus("zoko", http.StatusUnauthorized, "invalid api key", []byte(`{}`))
	assert.False(t, r.Retryable)
	assert.Equal(t, "zoko returned 401: invalid api key", r.Error)
}
