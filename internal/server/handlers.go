package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/embedding"
	"github.com/scrypster/introducer/internal/logging"
	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/internal/vectorize"
	"github.com/scrypster/introducer/pkg/types"
)

const (
	defaultMatchLimit      = 10
	defaultBatchLimit      = 50
	defaultEnrichmentLimit = 20
	maxBodyBytes           = 1 << 20
)

type inboundRequest struct {
	From        string `json:"from"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.From) == "" {
		respondError(w, http.StatusBadRequest, "from is required")
		return
	}

	handled := s.conversation.ProcessInboundMessage(r.Context(), req.From, req.DisplayName, req.Text)
	respondJSON(w, http.StatusOK, map[string]bool{"handled": handled})
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContact(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContact(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.conversation.EnrichProfile(r.Context(), c))
}

func (s *Server) handleVectorize(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContact(w, r)
	if !ok {
		return
	}
	res, err := s.matcher.VectorizeAndMatch(r.Context(), c, vectorize.Options{Force: queryBool(r, "force")})
	if err != nil {
		s.respondServiceError(w, "vectorize failed", c.ID, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	id, ok := contactID(w, r)
	if !ok {
		return
	}
	matches, err := s.matcher.RankedMatches(r.Context(), id, queryInt(r, "limit", defaultMatchLimit))
	if err != nil {
		s.respondServiceError(w, "ranking matches failed", id, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"contact_id": id, "matches": matches})
}

func (s *Server) handleEnrichments(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContact(w, r)
	if !ok {
		return
	}
	records, err := s.enrichments.ListEnrichments(r.Context(), c.ID, queryInt(r, "limit", defaultEnrichmentLimit))
	if err != nil {
		s.respondServiceError(w, "listing enrichments failed", c.ID, err)
		return
	}
	if records == nil {
		records = []*types.EnrichmentRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"contact_id": c.ID, "enrichments": records})
}

func (s *Server) handleBatchVectorize(w http.ResponseWriter, r *http.Request) {
	res, err := s.matcher.VectorizeBatch(r.Context(), queryInt(r, "limit", defaultBatchLimit), queryBool(r, "force"))
	if err != nil {
		s.respondServiceError(w, "batch vectorize failed", "", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleBatchEnrich(w http.ResponseWriter, r *http.Request) {
	res, err := s.matcher.EnrichBatch(r.Context(), queryInt(r, "limit", defaultBatchLimit))
	if err != nil {
		s.respondServiceError(w, "batch enrich failed", "", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) loadContact(w http.ResponseWriter, r *http.Request) (*types.Contact, bool) {
	id, ok := contactID(w, r)
	if !ok {
		return nil, false
	}
	c, err := s.contacts.GetContact(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, "failed to load contact", id, err)
		return nil, false
	}
	return c, true
}

func contactID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid contact id")
		return "", false
	}
	return id, true
}

// respondServiceError maps core errors onto status codes.
func (s *Server) respondServiceError(w http.ResponseWriter, msg, id string, err error) {
	var cfgErr *embedding.ConfigurationError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "contact not found")
	case errors.Is(err, storage.ErrInvalidInput), errors.Is(err, embedding.ErrEmptyInput):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &cfgErr):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error(msg, logging.Contact(id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, msg)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
