package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/similarity"
	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/pkg/types"
)

// UpsertVector replaces the contact's vector wholesale.
// The vector is always stored in the BYTEA column. When pgvector is
// available it is also stored in embedding_vec for cosine-distance ordering.
func (s *Store) UpsertVector(ctx context.Context, v *types.VectorizedContact) error {
	if err := storage.ValidateVector(v); err != nil {
		return err
	}
	v.Dimension = len(v.Vector)
	if v.GeneratedAt.IsZero() {
		v.GeneratedAt = s.now().UTC()
	}
	blob := serializeEmbedding(v.Vector)

	if s.pgvectorAvailable {
		f32 := make([]float32, len(v.Vector))
		for i, x := range v.Vector {
			f32[i] = float32(x)
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO contact_vectors (contact_id, model, dimension, text, embedding, embedding_vec, generated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (contact_id) DO UPDATE SET
				model = EXCLUDED.model,
				dimension = EXCLUDED.dimension,
				text = EXCLUDED.text,
				embedding = EXCLUDED.embedding,
				embedding_vec = EXCLUDED.embedding_vec,
				generated_at = EXCLUDED.generated_at`,
			v.ContactID, v.Model, v.Dimension, v.Text, blob, pgvector.NewVector(f32), v.GeneratedAt)
		if err == nil {
			return nil
		}
		s.logger.Warn("postgres: failed to store embedding_vec, falling back to BYTEA only",
			zap.String("contact_id", v.ContactID), zap.Error(err))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contact_vectors (contact_id, model, dimension, text, embedding, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (contact_id) DO UPDATE SET
			model = EXCLUDED.model,
			dimension = EXCLUDED.dimension,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding,
			embedding_vec = NULL,
			generated_at = EXCLUDED.generated_at`,
		v.ContactID, v.Model, v.Dimension, v.Text, blob, v.GeneratedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to store vector: %w", err)
	}
	return nil
}

// GetVector returns the contact's vector.
func (s *Store) GetVector(ctx context.Context, contactID string) (*types.VectorizedContact, error) {
	if contactID == "" {
		return nil, fmt.Errorf("%w: contact ID is required", storage.ErrInvalidInput)
	}

	v, err := scanVector(s.db.QueryRowContext(ctx, `
		SELECT contact_id, model, dimension, text, embedding, generated_at
		FROM contact_vectors WHERE contact_id = $1`, contactID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get vector: %w", err)
	}
	return v, nil
}

// ListVectors returns every vector produced by model, ordered by contact id.
func (s *Store) ListVectors(ctx context.Context, model string) ([]*types.VectorizedContact, error) {
	return s.queryVectors(ctx, `
		SELECT contact_id, model, dimension, text, embedding, generated_at
		FROM contact_vectors WHERE model = $1
		ORDER BY contact_id ASC`, model)
}

// NearestVectors returns up to limit vectors of model ordered by cosine
// distance to query. Without pgvector it ranks a full scan in Go.
func (s *Store) NearestVectors(ctx context.Context, model string, query []float64, limit int) ([]*types.VectorizedContact, error) {
	if limit <= 0 {
		limit = 10
	}

	if !s.pgvectorAvailable {
		all, err := s.ListVectors(ctx, model)
		if err != nil {
			return nil, err
		}
		return rankInGo(all, query, limit)
	}

	f32 := make([]float32, len(query))
	for i, x := range query {
		f32[i] = float32(x)
	}
	return s.queryVectors(ctx, `
		SELECT contact_id, model, dimension, text, embedding, generated_at
		FROM contact_vectors
		WHERE model = $1 AND embedding_vec IS NOT NULL AND dimension = $4
		ORDER BY embedding_vec <=> $2::vector, contact_id ASC
		LIMIT $3`, model, pgvector.NewVector(f32), limit, len(query))
}

func rankInGo(all []*types.VectorizedContact, query []float64, limit int) ([]*types.VectorizedContact, error) {
	byID := make(map[string]*types.VectorizedContact, len(all))
	candidates := make([]similarity.Candidate, 0, len(all))
	for _, v := range all {
		if len(v.Vector) != len(query) {
			continue
		}
		byID[v.ContactID] = v
		candidates = append(candidates, similarity.Candidate{ID: v.ContactID, Vector: v.Vector})
	}

	ranked, err := similarity.RankMatches(similarity.Query{Vector: query, Threshold: -1}, candidates, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*types.VectorizedContact, 0, len(ranked))
	for _, m := range ranked {
		out = append(out, byID[m.ID])
	}
	return out, nil
}

func (s *Store) queryVectors(ctx context.Context, query string, args ...any) ([]*types.VectorizedContact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.VectorizedContact
	for rows.Next() {
		v, err := scanVector(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan vector: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVector(row scanner) (*types.VectorizedContact, error) {
	var (
		v    types.VectorizedContact
		blob []byte
	)
	if err := row.Scan(&v.ContactID, &v.Model, &v.Dimension, &v.Text, &blob, &v.GeneratedAt); err != nil {
		return nil, err
	}
	vec, err := deserializeEmbedding(blob, v.Dimension)
	if err != nil {
		return nil, err
	}
	v.Vector = vec
	v.GeneratedAt = v.GeneratedAt.UTC()
	return &v, nil
}

// serializeEmbedding encodes a vector as little-endian float64 values.
// The BYTEA copy keeps full precision; pgvector stores float32.
func serializeEmbedding(embedding []float64) []byte {
	buf := make([]byte, len(embedding)*8)
	for i, v := range embedding {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

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
