package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/enrichment"
	"github.com/scrypster/introducer/internal/logging"
	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/internal/vectorize"
	"github.com/scrypster/introducer/pkg/types"
)

// lookupProfile derives the profile URL from the contact's email, enriches
// the contact and moves it to WAITING_CALL_PERMISSION, or to COMPLETED
// when nothing usable came back.
func (e *Engine) lookupProfile(ctx context.Context, id string) {
	found := false
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("profile lookup panicked", logging.Contact(id), zap.Any("panic", r))
			found = false
		}
		if !found {
			e.lookupFailed(ctx, id)
		}
	}()

	c, err := e.contacts.GetContact(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Error("failed to load contact for lookup", logging.Contact(id), zap.Error(err))
		}
		found = true // nothing to fail over to
		return
	}
	if c.Status != types.StatusEmailReceived {
		e.logger.Debug("contact moved on before lookup, skipping",
			logging.Contact(id), zap.String("status", c.Status.String()))
		found = true
		return
	}

	if c.ProfileURL == "" {
		c.ProfileURL = ProfileURLFromEmail(c.Email)
	}
	if c.ProfileURL == "" || e.enricher == nil {
		return
	}

	enriched, outcome := e.enricher.EnrichWithOutcome(ctx, c)
	if enriched == nil || !lookupSucceeded(enriched, outcome) {
		e.logger.Info("profile lookup found nothing",
			logging.Contact(id), zap.String("outcome", string(outcome)))
		return
	}

	updated, err := e.transition(ctx, id, func(dst *types.Contact) {
		enrichment.CopyProfile(dst, enriched)
		dst.Status = types.StatusWaitingCallPermission
	})
	if err != nil {
		return
	}
	found = true
	e.logger.Info("profile found", logging.Contact(id), zap.String("profile_url", updated.ProfileURL))
	e.send(ctx, updated, e.policy.Messages.ProfileFound)

	e.introduceMatch(ctx, updated)
}

func lookupSucceeded(c *types.Contact, outcome enrichment.Outcome) bool {
	if outcome.Changed() {
		return true
	}
	if outcome != enrichment.OutcomeFresh {
		return false
	}
	return c.Headline != "" || c.Company != "" || c.JobTitle != "" || len(c.JobHistory) > 0
}

func (e *Engine) lookupFailed(ctx context.Context, id string) {
	updated, err := e.transition(ctx, id, func(c *types.Contact) {
		if c.Status == types.StatusEmailReceived {
			c.Status = types.StatusCompleted
		}
	})
	if err != nil || updated.Status != types.StatusCompleted {
		return
	}
	e.send(ctx, updated, e.policy.Messages.ProfileNotFound)
}

// introduceMatch vectorizes c and, when another contact is similar enough,
// tells c about them. Failures are logged only.
func (e *Engine) introduceMatch(ctx context.Context, c *types.Contact) {
	if e.matcher == nil {
		return
	}
	res, err := e.matcher.VectorizeAndMatch(ctx, c, vectorize.Options{})
	if err != nil {
		e.logger.Warn("matching failed", logging.Contact(c.ID), zap.Error(err))
		return
	}
	if res == nil || res.TopMatch == nil {
		return
	}

	match, err := e.contacts.GetContact(ctx, res.TopMatch.ID)
	if err != nil {
		e.logger.Warn("failed to load matched contact", logging.Contact(res.TopMatch.ID), zap.Error(err))
		return
	}
	e.logger.Info("match found", logging.Contact(c.ID),
		zap.String("match_id", match.ID), zap.Float64("score", res.TopMatch.Score))
	e.sendTo(ctx, c.ID, render(e.policy.Messages.MatchIntroduction, match))
}

// EnrichProfile runs enrichment for c outside the conversation. It returns
// c unchanged when no enricher is configured.
func (e *Engine) EnrichProfile(ctx context.Context, c *types.Contact) *types.Contact {
	if e.enricher == nil || c == nil {
		return c
	}
	out, _ := e.enricher.EnrichWithOutcome(ctx, c)
	if out == nil {
		return c
	}
	return out
}

// VectorizeAndMatch vectorizes c and finds its best match.
func (e *Engine) VectorizeAndMatch(ctx context.Context, c *types.Contact) (*vectorize.Result, error) {
	if e.matcher == nil {
		return nil, errors.New("engine: no matcher configured")
	}
	return e.matcher.VectorizeAndMatch(ctx, c, vectorize.Options{})
}
