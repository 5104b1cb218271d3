package models

import "time"

// MessageTemplate is an invitation or notification body with {name} and {link} placeholders
type MessageTemplate struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Body             string    `json:"body"`
	Subject          string    `json:"subject,omitempty"`
	MediaURL         string    `json:"media_url,omitempty"`
	MediaType        string    `json:"media_type,omitempty"`
	ProviderTemplate string    `json:"provider_template,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TemplateMedia is an attachment stored alongside a template
type TemplateMedia struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"template_id"`
	MediaURL   string    `json:"media_url"`
	MediaType  string    `json:"media_type"`
	CreatedAt  time.Time `json:"created_at"`
}
