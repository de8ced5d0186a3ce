package sqlite

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

	var enriched sql.NullString
	if r.Enriched != nil {
		data, err := json.Marshal(r.Enriched)
		if err != nil {
			return fmt.Errorf("failed to encode enriched snapshot: %w", err)
		}
		enriched = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment_records (id, contact_id, profile_url, raw_response, enriched, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ContactID, r.ProfileURL, nullableString(string(r.RawResponse)), enriched, toNanos(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append enrichment record: %w", err)
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
		WHERE profile_url = ? AND created_at >= ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, profileURL, toNanos(since))

	r, err := scanEnrichment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest enrichment: %w", err)
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
		WHERE contact_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrichments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.EnrichmentRecord
	for rows.Next() {
		r, err := scanEnrichment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrichment: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnrichment(row scanner) (*types.EnrichmentRecord, error) {
	var (
		r        types.EnrichmentRecord
		raw      sql.NullString
		enriched sql.NullString
		created  int64
	)
	if err := row.Scan(&r.ID, &r.ContactID, &r.ProfileURL, &raw, &enriched, &created); err != nil {
		return nil, err
	}
	if raw.Valid {
		r.RawResponse = json.RawMessage(raw.String)
	}
	if enriched.Valid {
		var c types.Contact
		if err := json.Unmarshal([]byte(enriched.String), &c); err != nil {
			return nil, fmt.Errorf("decode enriched snapshot: %w", err)
		}
		r.Enriched = &c
	}
	r.CreatedAt = fromNanos(created)
	return &r, nil
}
