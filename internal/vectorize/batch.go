package vectorize

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/embedding"
	"github.com/scrypster/introducer/internal/enrichment"
	"github.com/scrypster/introducer/internal/logging"
	"github.com/scrypster/introducer/internal/storage"
)

// BatchResult summarizes a batch run.
type BatchResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

func (r *BatchResult) fail(id string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", id, err))
}

// VectorizeBatch vectorizes and matches up to limit contacts, one at a time,
// spaced by the batch delay. Contacts whose vectors are current are skipped
// unless force is set.
func (s *Service) VectorizeBatch(ctx context.Context, limit int, force bool) (*BatchResult, error) {
	if s.Model() == "" {
		return nil, &embedding.ConfigurationError{Reason: "no embedding backend"}
	}
	contacts, err := s.contacts.ListContacts(ctx, storage.ContactFilter{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	res := &BatchResult{}
	for _, c := range contacts {
		if err := s.limiter.Wait(ctx); err != nil {
			return res, err
		}
		res.Processed++

		out, err := s.VectorizeAndMatch(ctx, c, Options{Force: force})
		switch {
		case errors.Is(err, embedding.ErrEmptyInput):
			res.Skipped++
		case err != nil:
			s.logger.Warn("batch vectorization failed", logging.Contact(c.ID), zap.Error(err))
			res.fail(c.ID, err)
		case !out.Vectorized:
			res.Skipped++
		default:
			res.Succeeded++
		}
	}

	s.logger.Info("vectorize batch complete",
		zap.Int("processed", res.Processed), zap.Int("succeeded", res.Succeeded),
		zap.Int("skipped", res.Skipped), zap.Int("failed", res.Failed))
	return res, nil
}

// EnrichBatch enriches up to limit contacts that have a profile URL, one at
// a time, spaced by the batch delay. Contacts that gained profile data are
// vectorized and matched afterwards when an embedding backend is configured.
func (s *Service) EnrichBatch(ctx context.Context, limit int) (*BatchResult, error) {
	if s.enricher == nil {
		return nil, errors.New("vectorize: no enrichment engine configured")
	}
	contacts, err := s.contacts.ListContacts(ctx, storage.ContactFilter{RequireProfileURL: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	res := &BatchResult{}
	for _, c := range contacts {
		if err := s.limiter.Wait(ctx); err != nil {
			return res, err
		}
		res.Processed++

		enriched, outcome := s.enricher.EnrichWithOutcome(ctx, c)
		switch outcome {
		case enrichment.OutcomeFresh:
			res.Skipped++
			continue
		case enrichment.OutcomeNotFound, enrichment.OutcomeFailed:
			res.fail(c.ID, fmt.Errorf("enrichment %s", outcome))
			continue
		}
		res.Succeeded++

		if s.Model() == "" {
			continue
		}
		if _, err := s.VectorizeAndMatch(ctx, enriched, Options{}); err != nil && !errors.Is(err, embedding.ErrEmptyInput) {
			s.logger.Warn("vectorization after enrichment failed", logging.Contact(c.ID), zap.Error(err))
		}
	}

	s.logger.Info("enrich batch complete",
		zap.Int("processed", res.Processed), zap.Int("succeeded", res.Succeeded),
		zap.Int("skipped", res.Skipped), zap.Int("failed", res.Failed))
	return res, nil
}
