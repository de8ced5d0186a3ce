// Package enrichment reconciles profile data fetched from an external
// provider with the stored contact without destroying existing values.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/logging"
	"github.com/scrypster/introducer/internal/media"
	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/pkg/types"
)

// DefaultFreshness is how long an enrichment result is reused.
const DefaultFreshness = 30 * 24 * time.Hour

// Outcome describes what an enrichment run did.
type Outcome string

const (
	OutcomeFresh    Outcome = "fresh"     // enriched recently, nothing done
	OutcomeCacheHit Outcome = "cache_hit" // filled from a recent record
	OutcomeEnriched Outcome = "enriched"  // fetched and merged
	OutcomeNotFound Outcome = "not_found" // provider does not know the profile
	OutcomeFailed   Outcome = "failed"    // contact returned unchanged
)

// Changed reports whether the outcome produced new profile data.
func (o Outcome) Changed() bool {
	return o == OutcomeCacheHit || o == OutcomeEnriched
}

// Engine enriches contacts.
type Engine struct {
	provider  ProfileProvider
	records   storage.EnrichmentLog
	contacts  storage.ContactStore
	orgs      OrganizationRegistry
	relay     media.Relay
	freshness time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithContacts persists enriched fields onto the stored contact.
func WithContacts(contacts storage.ContactStore) Option {
	return func(e *Engine) { e.contacts = contacts }
}

// WithOrganizations sets the organization registry.
func WithOrganizations(orgs OrganizationRegistry) Option {
	return func(e *Engine) { e.orgs = orgs }
}

// WithRelay sets the image relay used for logos and avatars.
func WithRelay(relay media.Relay) Option {
	return func(e *Engine) { e.relay = relay }
}

// WithFreshness overrides DefaultFreshness.
func WithFreshness(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.freshness = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(logger) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine. provider may be nil, in which case only
// cached records are used.
func NewEngine(provider ProfileProvider, records storage.EnrichmentLog, opts ...Option) *Engine {
	e := &Engine{
		provider:  provider,
		records:   records,
		relay:     media.NopRelay{},
		freshness: DefaultFreshness,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich returns the enriched contact. It never fails: on any error the
// input is returned unchanged.
func (e *Engine) Enrich(ctx context.Context, c *types.Contact) *types.Contact {
	out, _ := e.EnrichWithOutcome(ctx, c)
	return out
}

// EnrichWithOutcome is Enrich that also reports what happened.
func (e *Engine) EnrichWithOutcome(ctx context.Context, c *types.Contact) (out *types.Contact, outcome Outcome) {
	if c == nil {
		return nil, OutcomeFailed
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("enrichment panicked", logging.Contact(c.ID), zap.Any("panic", r))
			out, outcome = c, OutcomeFailed
		}
	}()

	now := e.now().UTC()
	if c.LastEnrichedAt != nil && now.Sub(*c.LastEnrichedAt) < e.freshness {
		return c, OutcomeFresh
	}

	profileURL := strings.TrimSpace(c.ProfileURL)
	if profileURL == "" {
		e.logger.Warn("enrichment skipped: no profile URL", logging.Contact(c.ID))
		return c, OutcomeFailed
	}

	if merged, ok := e.fromCache(ctx, c, profileURL, now); ok {
		e.persist(ctx, merged)
		return merged, OutcomeCacheHit
	}

	if e.provider == nil {
		e.logger.Warn("enrichment skipped: no provider configured", logging.Contact(c.ID))
		return c, OutcomeFailed
	}

	res, err := e.provider.FetchProfile(ctx, profileURL)
	if err != nil {
		e.logger.Warn("profile fetch failed", logging.Contact(c.ID), zap.String("profile_url", profileURL), zap.Error(err))
		return c, OutcomeFailed
	}

	e.appendRecord(ctx, &types.EnrichmentRecord{ContactID: c.ID, ProfileURL: profileURL, RawResponse: res.Raw, CreatedAt: now})

	if !res.Found || res.Profile == nil {
		e.logger.Info("profile not found",
			logging.Contact(c.ID), zap.String("profile_url", profileURL), zap.Int("status", res.StatusCode))
		return c, OutcomeNotFound
	}

	merged := e.merge(ctx, c.Clone(), res, profileURL)
	merged.LastEnrichedAt = &now

	e.appendRecord(ctx, &types.EnrichmentRecord{
		ContactID: c.ID, ProfileURL: profileURL, RawResponse: res.Raw, Enriched: merged.Clone(), CreatedAt: now,
	})
	e.persist(ctx, merged)

	e.logger.Info("contact enriched",
		logging.Contact(c.ID),
		zap.Int("jobs", len(merged.JobHistory)),
		zap.Int("education", len(merged.Education)))
	return merged, OutcomeEnriched
}

func (e *Engine) fromCache(ctx context.Context, c *types.Contact, profileURL string, now time.Time) (*types.Contact, bool) {
	if e.records == nil {
		return nil, false
	}
	rec, err := e.records.LatestEnrichment(ctx, profileURL, now.Add(-e.freshness))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("enrichment cache lookup failed", logging.Contact(c.ID), zap.Error(err))
		}
		return nil, false
	}
	if !rec.IsReusable() {
		return nil, false
	}

	merged := fillEmptyFields(c.Clone(), rec.Enriched)
	merged.LastEnrichedAt = &now
	e.logger.Debug("enrichment cache hit", logging.Contact(c.ID), zap.String("record_id", rec.ID))
	return merged, true
}

func (e *Engine) merge(ctx context.Context, c *types.Contact, res *FetchResult, profileURL string) *types.Contact {
	p := res.Profile
	orgs := newOrgResolver(e.orgs, e.relay, e.logger)

	c.JobHistory = mergeJobHistory(c.JobHistory, orgs.buildJobs(ctx, p.Experiences))
	c.Education = mergeEducationHistory(c.Education, orgs.buildEducation(ctx, p.Education))
	applyScalars(c, p, profileURL)
	c.RawEnrichment = res.Raw

	if c.AvatarURL == "" && p.ProfilePicURL != "" && e.relay != nil {
		dest := fmt.Sprintf("avatars/%s%s", objectName(c.ID), imageExt(p.ProfilePicURL))
		url, err := e.relay.DownloadAndStore(ctx, p.ProfilePicURL, dest)
		if err != nil {
			e.logger.Warn("avatar relay failed", logging.Contact(c.ID), zap.Error(err))
		} else {
			c.AvatarURL = url
		}
	}
	return c
}

func (e *Engine) appendRecord(ctx context.Context, rec *types.EnrichmentRecord) {
	if e.records == nil {
		return
	}
	if err := e.records.AppendEnrichment(ctx, rec); err != nil {
		e.logger.Warn("failed to append enrichment record", logging.Contact(rec.ContactID), zap.Error(err))
	}
}

// persist copies enrichment-owned fields onto the stored contact, leaving
// conversation state alone.
func (e *Engine) persist(ctx context.Context, merged *types.Contact) {
	if e.contacts == nil || merged.ID == "" {
		return
	}
	_, err := e.contacts.PatchContact(ctx, merged.ID, func(stored *types.Contact) error {
		CopyProfile(stored, merged)
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.logger.Warn("failed to persist enriched contact", logging.Contact(merged.ID), zap.Error(err))
	}
}

// CopyProfile copies the fields enrichment owns from src to dst.
func CopyProfile(dst, src *types.Contact) {
	s := src.Clone()
	dst.Name = s.Name
	dst.FirstName = s.FirstName
	dst.LastName = s.LastName
	dst.Location = s.Location
	dst.JobTitle = s.JobTitle
	dst.Headline = s.Headline
	dst.Company = s.Company
	dst.ProfileURL = s.ProfileURL
	dst.AvatarURL = s.AvatarURL
	dst.RawEnrichment = s.RawEnrichment
	dst.JobHistory = s.JobHistory
	dst.Education = s.Education
	dst.LastEnrichedAt = s.LastEnrichedAt
}

// objectName makes a contact id safe for use in an object key.
func objectName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
