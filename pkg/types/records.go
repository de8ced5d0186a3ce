package types

import (
	"encoding/json"
	"time"
)

// EnrichmentRecord is an append-only log entry written for every
// enrichment attempt. It doubles as a cache keyed by ProfileURL.
type EnrichmentRecord struct {
	ID          string          `json:"id"`
	ContactID   string          `json:"contact_id"`
	ProfileURL  string          `json:"profile_url"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
	Enriched    *Contact        `json:"enriched,omitempty"` // nil when the attempt found nothing
	CreatedAt   time.Time       `json:"created_at"`
}

// IsReusable reports whether the record carries both a raw response and an
// enriched snapshot.
func (r *EnrichmentRecord) IsReusable() bool {
	return r != nil && len(r.RawResponse) > 0 && r.Enriched != nil
}

// VectorizedContact is the embedding projection of a contact.
// It is always replaced wholesale.
type VectorizedContact struct {
	ContactID   string    `json:"contact_id"`
	Vector      []float64 `json:"vector"`
	Text        string    `json:"text"`      // Exact input used for the embedding
	Model       string    `json:"model"`     // Vectors of different models are never compared
	Dimension   int       `json:"dimension"`
	GeneratedAt time.Time `json:"generated_at"`
}
