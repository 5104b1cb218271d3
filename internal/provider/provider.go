// Package provider defines the uniform "send one message" contract every vendor
// integration implements, plus the decorators shared by all of them.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"wedding-invitations/internal/phone"
)

var ErrTemplateRejected = errors.New("vendor rejected the message template")

// Message is one outbound message to one recipient.
type Message struct {
	// To is the recipient address: a normalized phone number, an email address,
	// or a JSON push subscription, depending on the provider.
	To      string
	Name    string
	Body    string
	Subject string

	// TemplateName selects a vendor-side approved template. Empty means free-form.
	TemplateName string
	TemplateArgs []string

	MediaURL  string
	MediaType string
}

// FreeForm returns a copy of m without the vendor template, used for fallback sends.
func (m Message) FreeForm() Message {
	m.TemplateName = ""
	m.TemplateArgs = nil
	return m
}

// Result is the normalized outcome of a send.
type Result struct {
	Success           bool
	ProviderMessageID string
	Error             string

	// Retryable marks transport failures, throttling and vendor 5xx responses.
	Retryable bool
	// TemplateRejected marks vendor errors caused by the template itself.
	TemplateRejected bool
}

// Succeeded builds a successful result.
func Succeeded(id string) Result {
	return Result{Success: true, ProviderMessageID: id}
}

// Failed builds a permanent failure.
func Failed(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// TransientFailure builds a failure worth retrying.
func TransientFailure(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...), Retryable: true}
}

// Err converts a failed result into an error, nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if r.TemplateRejected {
		return fmt.Errorf("%w: %s", ErrTemplateRejected, r.Error)
	}
	return errors.New(r.Error)
}

// Provider sends one message through one vendor.
type Provider interface {
	Name() string
	// PhoneFormat is the number format the vendor expects in Message.To.
	PhoneFormat() phone.Format
	Send(ctx context.Context, msg Message) Result
}

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.providers[strings.ToLower(p.Name())] = p
}

// Get looks a provider up by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
