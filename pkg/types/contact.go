package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Location is a free-form place as reported by a contact or a profile provider.
type Location struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

// IsZero reports whether no part of the location is set.
func (l Location) IsZero() bool {
	return strings.TrimSpace(l.City) == "" &&
		strings.TrimSpace(l.State) == "" &&
		strings.TrimSpace(l.Country) == ""
}

// String joins the non-empty parts with ", ".
func (l Location) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.City, l.State, l.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Contact is one remote conversational identity tracked through the
// onboarding flow.
type Contact struct {
	// Identity
	ID          string `json:"id"`                     // Messaging identity, e.g. "whatsapp:+15551234567"
	PhoneHandle string `json:"phone_handle,omitempty"` // Identity with the channel prefix stripped

	// Profile
	DisplayName   string           `json:"display_name,omitempty"`
	Name          string           `json:"name,omitempty"`
	FirstName     string           `json:"first_name,omitempty"`
	LastName      string           `json:"last_name,omitempty"`
	Location      Location         `json:"location"`
	JobTitle      string           `json:"job_title,omitempty"`
	Headline      string           `json:"headline,omitempty"`
	Company       string           `json:"company,omitempty"`
	ProfileURL    string           `json:"profile_url,omitempty"` // Professional-network profile URL
	AvatarURL     string           `json:"avatar_url,omitempty"`
	RawEnrichment json.RawMessage  `json:"raw_enrichment,omitempty"` // Last raw provider response
	JobHistory    []JobEntry       `json:"job_history,omitempty"`
	Education     []EducationEntry `json:"education,omitempty"`
	Email         string           `json:"email,omitempty"`

	// Process
	Status         Status     `json:"status"`
	CallPermission bool       `json:"call_permission"`
	CallScheduled  bool       `json:"call_scheduled"`
	CallID         string     `json:"call_id,omitempty"`
	EmailAttempts  int        `json:"email_attempts"`
	LastEnrichedAt *time.Time `json:"last_enriched_at,omitempty"`
	Embedding      []float64  `json:"embedding,omitempty"`
	EmbeddingModel string     `json:"embedding_model,omitempty"`
	TopMatchID     string     `json:"top_match_id,omitempty"`
	TopMatchScore  float64    `json:"top_match_score,omitempty"`

	// Bookkeeping
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate the result without
// touching the original.
func (c *Contact) Clone() *Contact {
	if c == nil {
		return nil
	}
	out := *c
	if c.RawEnrichment != nil {
		out.RawEnrichment = append(json.RawMessage(nil), c.RawEnrichment...)
	}
	if c.JobHistory != nil {
		out.JobHistory = make([]JobEntry, len(c.JobHistory))
		for i, j := range c.JobHistory {
			out.JobHistory[i] = j.clone()
		}
	}
	if c.Education != nil {
		out.Education = append([]EducationEntry(nil), c.Education...)
	}
	if c.Embedding != nil {
		out.Embedding = append([]float64(nil), c.Embedding...)
	}
	if c.LastEnrichedAt != nil {
		t := *c.LastEnrichedAt
		out.LastEnrichedAt = &t
	}
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		out.LastMessageAt = &t
	}
	return &out
}

// PhoneHandleFromIdentity strips a channel prefix ("whatsapp:", "sms:")
// from a messaging identity.
func PhoneHandleFromIdentity(identity string) string {
	if i := strings.LastIndex(identity, ":"); i >= 0 {
		return identity[i+1:]
	}
	return identity
}

// EmailDomain returns the lower-cased part of the email after "@", or ""
// when there is none.
func (c *Contact) EmailDomain() string {
	at := strings.LastIndex(c.Email, "@")
	if at < 0 || at == len(c.Email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(c.Email[at+1:]))
}
