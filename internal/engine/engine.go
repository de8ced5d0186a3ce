// Package engine runs the onboarding conversation: it decides, per inbound
// message and persisted contact status, what to ask next and which profile
// lookup, enrichment and matching work to trigger.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/calls"
	"github.com/scrypster/introducer/internal/config"
	"github.com/scrypster/introducer/internal/enrichment"
	"github.com/scrypster/introducer/internal/logging"
	"github.com/scrypster/introducer/internal/messaging"
	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/internal/vectorize"
	"github.com/scrypster/introducer/pkg/types"
)

// Enricher enriches a contact. *enrichment.Engine implements it.
type Enricher interface {
	EnrichWithOutcome(ctx context.Context, c *types.Contact) (*types.Contact, enrichment.Outcome)
}

// Matcher vectorizes a contact and finds its best match.
// *vectorize.Service implements it.
type Matcher interface {
	VectorizeAndMatch(ctx context.Context, c *types.Contact, opts vectorize.Options) (*vectorize.Result, error)
}

// TransitionEvent is emitted whenever a contact changes status.
type TransitionEvent struct {
	ContactID string       `json:"contact_id"`
	From      types.Status `json:"from"`
	To        types.Status `json:"to"`
	At        time.Time    `json:"at"`
}

var errInvalidTransition = errors.New("invalid status transition")

// Engine is the contact state machine.
type Engine struct {
	contacts     storage.ContactStore
	sender       messaging.Sender
	scheduler    calls.Scheduler
	enricher     Enricher
	matcher      Matcher
	runner       TaskRunner
	policy       config.ConversationConfig
	validator    *EmailValidator
	onTransition func(TransitionEvent)
	logger       *zap.Logger
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithScheduler sets the call scheduler.
func WithScheduler(s calls.Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// WithEnricher sets the enrichment engine used by the profile lookup.
func WithEnricher(en Enricher) Option {
	return func(e *Engine) { e.enricher = en }
}

// WithMatcher sets the matcher run after a successful lookup.
func WithMatcher(m Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithTaskRunner sets the runner for profile lookups.
func WithTaskRunner(r TaskRunner) Option {
	return func(e *Engine) { e.runner = r }
}

// OnTransition registers fn to receive status changes. fn must not block.
func OnTransition(fn func(TransitionEvent)) Option {
	return func(e *Engine) { e.onTransition = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates the state machine. Messages missing from policy fall back to
// config.DefaultMessages.
func New(contacts storage.ContactStore, sender messaging.Sender, policy config.ConversationConfig, opts ...Option) *Engine {
	policy.Messages = withDefaults(policy.Messages)
	e := &Engine{
		contacts:  contacts,
		sender:    sender,
		scheduler: calls.NopScheduler{},
		policy:    policy,
		validator: NewEmailValidator(policy.CheckBlockedDomains, policy.BlockedDomains),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runner == nil {
		e.runner = InlineRunner{Logger: e.logger}
	}
	return e
}

// ValidateEmail validates candidate against the configured policy.
func (e *Engine) ValidateEmail(candidate string) (string, error) {
	return e.validator.Validate(candidate)
}

// ProcessInboundMessage advances the conversation for identity. It returns
// true when the message was handled here and false when it should fall
// through to the general conversation handler. It never fails.
func (e *Engine) ProcessInboundMessage(ctx context.Context, identity, displayName, text string) (handled bool) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("inbound message handling panicked", logging.Contact(identity), zap.Any("panic", r))
			handled = false
		}
	}()

	c, err := e.contacts.GetContact(ctx, identity)
	if errors.Is(err, storage.ErrNotFound) {
		return e.handleNewContact(ctx, identity, displayName)
	}
	if err != nil {
		e.logger.Error("failed to load contact", logging.Contact(identity), zap.Error(err))
		return false
	}

	status, ok := types.ParseStatus(string(c.Status))
	if !ok {
		e.logger.Warn("unrecognized contact status, not intercepting",
			logging.Contact(identity), zap.String("status", string(c.Status)))
		return false
	}

	if status.IsTerminal() {
		e.touch(ctx, c.ID)
		return false
	}

	switch status {
	case types.StatusNew, types.StatusWelcomeSent:
		return e.handleAwaitingEmail(ctx, c, text)
	case types.StatusWaitingEmail:
		return e.handleWaitingEmail(ctx, c, text)
	case types.StatusEmailReceived:
		e.touch(ctx, c.ID)
		return true
	case types.StatusLinkedInFound, types.StatusWaitingCallPermission:
		return e.handleCallPermission(ctx, c, text)
	case types.StatusAuth0Sent:
		e.transition(ctx, c.ID, func(c *types.Contact) { c.Status = types.StatusCompleted })
		return false
	}
	return false
}

func (e *Engine) handleNewContact(ctx context.Context, identity, displayName string) bool {
	now := e.now().UTC()
	c := &types.Contact{
		ID:            identity,
		PhoneHandle:   types.PhoneHandleFromIdentity(identity),
		DisplayName:   strings.TrimSpace(displayName),
		Name:          strings.TrimSpace(displayName),
		Status:        types.StatusWelcomeSent,
		LastMessageAt: &now,
	}
	if e.policy.RequestEmailImmediately {
		c.Status = types.StatusWaitingEmail
	}
	if err := e.contacts.SaveContact(ctx, c); err != nil {
		e.logger.Error("failed to create contact", logging.Contact(identity), zap.Error(err))
		return false
	}
	e.logger.Info("new contact", logging.Contact(identity), zap.String("status", c.Status.String()))

	e.emit(identity, types.StatusNew, types.StatusWelcomeSent)
	e.send(ctx, c, e.policy.Messages.Welcome)
	if e.policy.RequestEmailImmediately {
		e.emit(identity, types.StatusWelcomeSent, types.StatusWaitingEmail)
		e.send(ctx, c, e.policy.Messages.EmailRequest)
	}
	return true
}
