// Package storage defines the document-store contracts used by the
// introducer: contacts, the append-only enrichment log, contact vectors and
// the organization registry.
//
// The interfaces are small and can be implemented independently; the sqlite
// and postgres packages implement all of them on one connection.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/introducer/pkg/types"
)

// ContactStore persists contacts as whole documents.
type ContactStore interface {
	// GetContact returns ErrNotFound if no contact has the given id.
	GetContact(ctx context.Context, id string) (*types.Contact, error)

	// SaveContact creates or replaces the contact (upsert semantics).
	// CreatedAt is preserved for existing records; UpdatedAt is stamped.
	SaveContact(ctx context.Context, contact *types.Contact) error

	// PatchContact loads the contact, applies fn and writes it back in one
	// transaction. This is the merge-update used for partial changes.
	// Returns ErrNotFound if the contact does not exist.
	PatchContact(ctx context.Context, id string, fn func(*types.Contact) error) (*types.Contact, error)

	// ListContacts returns contacts matching filter, most recently updated first.
	ListContacts(ctx context.Context, filter ContactFilter) ([]*types.Contact, error)
}

// EnrichmentLog is the append-only enrichment audit trail.
type EnrichmentLog interface {
	// AppendEnrichment writes a new record. Records are never updated.
	AppendEnrichment(ctx context.Context, record *types.EnrichmentRecord) error

	// LatestEnrichment returns the newest record for profileURL created at or
	// after since. Returns ErrNotFound if there is none.
	LatestEnrichment(ctx context.Context, profileURL string, since time.Time) (*types.EnrichmentRecord, error)

	// ListEnrichments returns a contact's records, newest first.
	ListEnrichments(ctx context.Context, contactID string, limit int) ([]*types.EnrichmentRecord, error)
}

// VectorStore persists VectorizedContact projections.
type VectorStore interface {
	// UpsertVector replaces the contact's vector wholesale.
	UpsertVector(ctx context.Context, v *types.VectorizedContact) error

	// GetVector returns ErrNotFound if the contact has not been vectorized.
	GetVector(ctx context.Context, contactID string) (*types.VectorizedContact, error)

	// ListVectors returns every vector produced by model in a stable order
	// (contact id ascending).
	ListVectors(ctx context.Context, model string) ([]*types.VectorizedContact, error)
}

// VectorSearcher is implemented by stores that can order candidates by
// cosine distance natively.
type VectorSearcher interface {
	NearestVectors(ctx context.Context, model string, query []float64, limit int) ([]*types.VectorizedContact, error)
}

// OrganizationStore is the organization registry.
type OrganizationStore interface {
	// UpsertOrganization returns the organization keyed by (name, type),
	// creating it if needed. A non-empty profileURL is recorded on create.
	UpsertOrganization(ctx context.Context, name string, orgType types.OrganizationType, profileURL string) (*types.Organization, error)

	// UpdateOrganizationLogo sets the organization's logo URL.
	UpdateOrganizationLogo(ctx context.Context, id, logoURL string) error
}

// Store is the full persistence surface.
type Store interface {
	ContactStore
	EnrichmentLog
	VectorStore
	OrganizationStore
	Close() error
}
