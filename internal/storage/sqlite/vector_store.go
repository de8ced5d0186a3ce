package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/pkg/types"
)

// UpsertVector replaces the contact's vector wholesale.
// The vector is serialized as a little-endian float64 BLOB.
func (s *Store) UpsertVector(ctx context.Context, v *types.VectorizedContact) error {
	if err := storage.ValidateVector(v); err != nil {
		return err
	}
	v.Dimension = len(v.Vector)
	if v.GeneratedAt.IsZero() {
		v.GeneratedAt = s.now().UTC()
	}

	query := `
		INSERT INTO contact_vectors (contact_id, model, dimension, text, embedding, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			model = excluded.model,
			dimension = excluded.dimension,
			text = excluded.text,
			embedding = excluded.embedding,
			generated_at = excluded.generated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		v.ContactID, v.Model, v.Dimension, v.Text, serializeEmbedding(v.Vector), toNanos(v.GeneratedAt))
	if err != nil {
		return fmt.Errorf("failed to store vector: %w", err)
	}
	return nil
}

// GetVector returns the contact's vector.
func (s *Store) GetVector(ctx context.Context, contactID string) (*types.VectorizedContact, error) {
	if contactID == "" {
		return nil, fmt.Errorf("%w: contact ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT contact_id, model, dimension, text, embedding, generated_at
		FROM contact_vectors WHERE contact_id = ?`, contactID)

	v, err := scanVector(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get vector: %w", err)
	}
	return v, nil
}

// ListVectors returns every vector produced by model, ordered by contact id.
func (s *Store) ListVectors(ctx context.Context, model string) ([]*types.VectorizedContact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contact_id, model, dimension, text, embedding, generated_at
		FROM contact_vectors WHERE model = ?
		ORDER BY contact_id ASC`, model)
	if err != nil {
		return nil, fmt.Errorf("failed to list vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.VectorizedContact
	for rows.Next() {
		v, err := scanVector(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVector(row scanner) (*types.VectorizedContact, error) {
	var (
		v         types.VectorizedContact
		blob      []byte
		generated int64
	)
	if err := row.Scan(&v.ContactID, &v.Model, &v.Dimension, &v.Text, &blob, &generated); err != nil {
		return nil, err
	}
	vec, err := deserializeEmbedding(blob, v.Dimension)
	if err != nil {
		return nil, err
	}
	v.Vector = vec
	v.GeneratedAt = fromNanos(generated)
	return &v, nil
}

// serializeEmbedding encodes a vector as little-endian float64 values.
func serializeEmbedding(embedding []float64) []byte {
	buf := make([]byte, len(embedding)*8)
	for i, v := range embedding {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// deserializeEmbedding decodes a vector; dimension validates the buffer size.
func deserializeEmbedding(buf []byte, dimension int) ([]float64, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}
	if len(buf) != dimension*8 {
		return nil, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", dimension*8, len(buf))
	}

	embedding := make([]float64, dimension)
	for i := range embedding {
		embedding[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return embedding, nil
}
