package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/calls"
	"github.com/scrypster/introducer/internal/config"
	"github.com/scrypster/introducer/internal/logging"
	"github.com/scrypster/introducer/internal/messaging"
	"github.com/scrypster/introducer/pkg/types"
)

// handleAwaitingEmail treats a valid email as a submission and otherwise
// asks for one.
func (e *Engine) handleAwaitingEmail(ctx context.Context, c *types.Contact, text string) bool {
	if email, err := e.ValidateEmail(text); err == nil {
		return e.acceptEmail(ctx, c, email)
	}

	updated, err := e.transition(ctx, c.ID, func(c *types.Contact) { c.Status = types.StatusWaitingEmail })
	if err != nil {
		return true
	}
	e.send(ctx, updated, e.policy.Messages.EmailRequest)
	return true
}

func (e *Engine) handleWaitingEmail(ctx context.Context, c *types.Contact, text string) bool {
	email, err := e.ValidateEmail(text)
	if err == nil {
		return e.acceptEmail(ctx, c, email)
	}

	var verr *EmailValidationError
	reason := ""
	if errors.As(err, &verr) {
		reason = verr.Reason
	}

	maxAttempts := e.policy.MaxEmailAttempts
	updated, uerr := e.transition(ctx, c.ID, func(c *types.Contact) {
		c.EmailAttempts++
		if maxAttempts > 0 && c.EmailAttempts >= maxAttempts {
			c.Status = types.StatusCompleted
		}
	})
	if uerr != nil {
		return true
	}

	if updated.Status == types.StatusCompleted {
		e.logger.Info("email attempts exhausted", logging.Contact(c.ID), zap.Int("attempts", updated.EmailAttempts))
		e.send(ctx, updated, e.policy.Messages.TooManyAttempts)
		return true
	}

	e.logger.Debug("invalid email", logging.Contact(c.ID), zap.String("reason", reason))
	e.send(ctx, updated, e.policy.Messages.InvalidEmail)
	return true
}

// acceptEmail records the email, confirms it and starts the profile lookup
// without waiting for it.
func (e *Engine) acceptEmail(ctx context.Context, c *types.Contact, email string) bool {
	updated, err := e.transition(ctx, c.ID, func(c *types.Contact) {
		c.Email = email
		c.Status = types.StatusEmailReceived
	})
	if err != nil {
		return true
	}

	e.logger.Info("email received", logging.Contact(c.ID), logging.Email(email))
	e.send(ctx, updated, e.policy.Messages.EmailConfirmed)

	id := c.ID
	e.runner.Submit("profile-lookup:"+id, func(ctx context.Context) {
		e.lookupProfile(ctx, id)
	})
	return true
}

func (e *Engine) handleCallPermission(ctx context.Context, c *types.Contact, text string) bool {
	switch ClassifyIntent(text) {
	case IntentAffirmative:
		updated, err := e.transition(ctx, c.ID, func(c *types.Contact) {
			c.CallPermission = true
			c.Status = types.StatusCallScheduled
		})
		if err != nil {
			return true
		}
		e.send(ctx, updated, e.policy.Messages.CallScheduled)

		res := e.scheduler.Schedule(ctx, calls.Request{
			Name:   displayName(updated),
			Number: updated.PhoneHandle,
			Email:  updated.Email,
		})
		if !res.Success {
			e.logger.Warn("call scheduling failed", logging.Contact(c.ID), zap.String("error", res.Error))
		}

		_, _ = e.transition(ctx, c.ID, func(c *types.Contact) {
			c.CallScheduled = res.Success
			c.CallID = res.CallID
			c.Status = types.StatusCompleted
		})

	case IntentNegative:
		updated, err := e.transition(ctx, c.ID, func(c *types.Contact) {
			c.CallPermission = false
			c.Status = types.StatusCompleted
		})
		if err != nil {
			return true
		}
		e.send(ctx, updated, e.policy.Messages.CallDeclined)

	default:
		e.touch(ctx, c.ID)
		e.send(ctx, c, e.policy.Messages.CallClarify)
	}
	return true
}

// transition applies fn to the stored contact, stamps LastMessageAt and
// emits a TransitionEvent when the status changed. Status changes outside
// the transition table are rejected and nothing is written.
func (e *Engine) transition(ctx context.Context, id string, fn func(*types.Contact)) (*types.Contact, error) {
	var from types.Status
	updated, err := e.contacts.PatchContact(ctx, id, func(c *types.Contact) error {
		from, _ = types.ParseStatus(string(c.Status))
		c.Status = from
		fn(c)
		if c.Status != from && !types.IsValidStatusTransition(from, c.Status) {
			return fmt.Errorf("%w: %s -> %s", errInvalidTransition, from, c.Status)
		}
		now := e.now().UTC()
		c.LastMessageAt = &now
		return nil
	})
	if err != nil {
		e.logger.Error("failed to update contact", logging.Contact(id), zap.Error(err))
		return nil, err
	}
	if updated.Status != from {
		e.emit(id, from, updated.Status)
	}
	return updated, nil
}

// touch stamps LastMessageAt.
func (e *Engine) touch(ctx context.Context, id string) {
	_, _ = e.transition(ctx, id, func(*types.Contact) {})
}

func (e *Engine) emit(id string, from, to types.Status) {
	e.logger.Info("status transition", logging.Contact(id), zap.String("from", from.String()), zap.String("to", to.String()))
	if e.onTransition != nil {
		e.onTransition(TransitionEvent{ContactID: id, From: from, To: to, At: e.now().UTC()})
	}
}

// send renders tmpl for c and delivers it. Failures are logged only.
func (e *Engine) send(ctx context.Context, c *types.Contact, tmpl string) {
	e.sendTo(ctx, c.ID, render(tmpl, c))
}

func (e *Engine) sendTo(ctx context.Context, to, text string) {
	if e.sender == nil || strings.TrimSpace(text) == "" {
		return
	}
	if err := e.sender.Send(ctx, messaging.Message{To: to, Text: text}); err != nil {
		e.logger.Warn("failed to send message", logging.Contact(to), zap.Error(err))
	}
}

func displayName(c *types.Contact) string {
	for _, n := range []string{c.Name, strings.TrimSpace(c.FirstName + " " + c.LastName), c.DisplayName} {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return ""
}

// render substitutes {name}, {headline} and {company}.
func render(tmpl string, c *types.Contact) string {
	name := displayName(c)
	if name == "" {
		name = "there"
	}
	headline := c.Headline
	if strings.TrimSpace(headline) == "" {
		headline = c.JobTitle
	}
	return strings.NewReplacer(
		"{name}", name,
		"{headline}", headline,
		"{company}", c.Company,
	).Replace(tmpl)
}

func withDefaults(m config.Messages) config.Messages {
	d := config.DefaultMessages()
	fill := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	fill(&m.Welcome, d.Welcome)
	fill(&m.EmailRequest, d.EmailRequest)
	fill(&m.InvalidEmail, d.InvalidEmail)
	fill(&m.EmailConfirmed, d.EmailConfirmed)
	fill(&m.ProfileFound, d.ProfileFound)
	fill(&m.ProfileNotFound, d.ProfileNotFound)
	fill(&m.CallScheduled, d.CallScheduled)
	fill(&m.CallDeclined, d.CallDeclined)
	fill(&m.CallClarify, d.CallClarify)
	fill(&m.TooManyAttempts, d.TooManyAttempts)
	fill(&m.MatchIntroduction, d.MatchIntroduction)
	return m
}
