package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/pkg/types"
)

// AppendEnrichment writes a new enrichment record.
func (s *Store) AppendEnrichment(ctx context.Context, r *types.EnrichmentRecord) error {
	if r == nil || r.ContactID == "" || r.ProfileURL == "" {
		return fmt.Errorf("%w: contact ID and profile URL are required", storage.ErrInvalidInput)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}

	// JSONB parameters are sent as text; lib/pq would encode []byte as bytea.
	raw := nullableString(string(r.RawResponse))
	var enriched sql.NullString
	if r.Enriched != nil {
		data, err := json.Marshal(r.Enriched)
		if err != nil {
			return fmt.Errorf("postgres: failed to encode enriched snapshot: %w", err)
		}
		enriched = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment_records (id, contact_id, profile_url, raw_response, enriched, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.ContactID, r.ProfileURL, raw, enriched, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to append enrichment record: %w", err)
	}
	return nil
}

// LatestEnrichment returns the newest record for profileURL created at or after since.
func (s *Store) LatestEnrichment(ctx context.Context, profileURL string, since time.Time) (*types.EnrichmentRecord, error) {
	if profileURL == "" {
		return nil, fmt.Errorf("%w: profile URL is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, contact_id, profile_url, raw_response, enriched, created_at
		FROM enrichment_records
		WHERE profile_url = $1 AND created_at >= $2
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`, profileURL, since)

	r, err := scanEnrichment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get latest enrichment: %w", err)
	}
	return r, nil
}

// ListEnrichments returns a contact's records, newest first.
func (s *Store) ListEnrichments(ctx context.Context, contactID string, limit int) ([]*types.EnrichmentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contact_id, profile_url, raw_response, enriched, created_at
		FROM enrichment_records
		WHERE contact_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list enrichments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.EnrichmentRecord
	for rows.Next() {
		r, err := scanEnrichment(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan enrichment: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanEnrichment(row scanner) (*types.EnrichmentRecord, error) {
	var (
		r             types.EnrichmentRecord
		raw, enriched []byte
	)
	if err := row.Scan(&r.ID, &r.ContactID, &r.ProfileURL, &raw, &enriched, &r.CreatedAt); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		r.RawResponse = json.RawMessage(raw)
	}
	if len(enriched) > 0 {
		var c types.Contact
		if err := json.Unmarshal(enriched, &c); err != nil {
			return nil, fmt.Errorf("decode enriched snapshot: %w", err)
		}
		r.Enriched = &c
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}
