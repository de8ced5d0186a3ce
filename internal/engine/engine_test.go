package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/introducer/internal/calls"
	"github.com/scrypster/introducer/internal/config"
	"github.com/scrypster/introducer/internal/enrichment"
	"github.com/scrypster/introducer/internal/messaging"
	"github.com/scrypster/introducer/internal/similarity"
	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/internal/storage/sqlite"
	"github.com/scrypster/introducer/internal/vectorize"
	"github.com/scrypster/introducer/pkg/types"
)

const satya = "whatsapp:+15551234567"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu   sync.Mutex
	sent []messaging.Message
}

func (s *recordingSender) Send(_ context.Context, m messaging.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return nil
}

func (s *recordingSender) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.Text
	}
	return out
}

type fakeScheduler struct {
	mu       sync.Mutex
	requests []calls.Request
	result   calls.Result
}

func (f *fakeScheduler) Schedule(_ context.Context, r calls.Request) calls.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
	return f.result
}

type fakeEnricher struct {
	mu      sync.Mutex
	urls    []string
	outcome enrichment.Outcome
	panics  bool
}

func (f *fakeEnricher) EnrichWithOutcome(_ context.Context, c *types.Contact) (*types.Contact, enrichment.Outcome) {
	f.mu.Lock()
	f.urls = append(f.urls, c.ProfileURL)
	f.mu.Unlock()
	if f.panics {
		panic("provider exploded")
	}
	if !f.outcome.Changed() {
		return c, f.outcome
	}
	out := c.Clone()
	out.Headline = "Chairman and CEO"
	out.Company = "Microsoft"
	out.JobTitle = "CEO"
	return out, f.outcome
}

func (f *fakeEnricher) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type fakeMatcher struct {
	match *similarity.Match
	err   error
}

func (f *fakeMatcher) VectorizeAndMatch(_ context.Context, c *types.Contact, _ vectorize.Options) (*vectorize.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &vectorize.Result{ContactID: c.ID, Vectorized: true, TopMatch: f.match}, nil
}

type harness struct {
	store     *sqlite.Store
	sender    *recordingSender
	scheduler *fakeScheduler
	enricher  *fakeEnricher
	engine    *Engine

	mu     sync.Mutex
	events []TransitionEvent
}

func newHarness(t *testing.T, policy config.ConversationConfig, opts ...Option) *harness {
	t.Helper()
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "engine.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:     store,
		sender:    &recordingSender{},
		scheduler: &fakeScheduler{result: calls.Result{Success: true, CallID: "call-42"}},
		enricher:  &fakeEnricher{outcome: enrichment.OutcomeEnriched},
	}
	base := []Option{
		WithScheduler(h.scheduler),
		WithEnricher(h.enricher),
		WithClock(func() time.Time { return t0 }),
		OnTransition(func(ev TransitionEvent) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		}),
	}
	h.engine = New(store, h.sender, policy, append(base, opts...)...)
	return h
}

func (h *harness) seed(t *testing.T, c *types.Contact) {
	t.Helper()
	require.NoError(t, h.store.SaveContact(context.Background(), c))
}

func (h *harness) contact(t *testing.T, id string) *types.Contact {
	t.Helper()
	c, err := h.store.GetContact(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (h *harness) statuses() []types.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.Status, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.To
	}
	return out
}

var msgs = config.DefaultMessages()

func TestProcessInboundMessage_NewContactGetsWelcomeOnce(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	ctx := context.Background()

	assert.True(t, h.engine.ProcessInboundMessage(ctx, satya, "Satya", "hi"))

	c := h.contact(t, satya)
	assert.Equal(t, types.StatusWelcomeSent, c.Status)
	assert.Equal(t, "+15551234567", c.PhoneHandle)
	assert.Equal(t, "Satya", c.DisplayName)
	require.NotNil(t, c.LastMessageAt)

	assert.True(t, h.engine.ProcessInboundMessage(ctx, satya, "Satya", "hello?"))
	assert.Equal(t, types.StatusWaitingEmail, h.contact(t, satya).Status)

	texts := h.sender.Texts()
	require.Len(t, texts, 2)
	assert.Equal(t, render(msgs.Welcome, c), texts[0])
	assert.Contains(t, texts[0], "Hi Satya!")
	assert.Equal(t, msgs.EmailRequest, texts[1])
	assert.Equal(t, []types.Status{types.StatusWelcomeSent, types.StatusWaitingEmail}, h.statuses())
}

func TestProcessInboundMessage_RequestEmailImmediately(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{RequestEmailImmediately: true})

	assert.True(t, h.engine.ProcessInboundMessage(context.Background(), satya, "Satya", "hi"))

	assert.Equal(t, types.StatusWaitingEmail, h.contact(t, satya).Status)
	texts := h.sender.Texts()
	require.Len(t, texts, 2)
	assert.Equal(t, msgs.EmailRequest, texts[1])
}

func TestProcessInboundMessage_EmailInFirstReply(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	h.seed(t, &types.Contact{ID: satya, Name: "Satya", Status: types.StatusWelcomeSent})

	assert.True(t, h.engine.ProcessInboundMessage(context.Background(), satya, "", "satya.nadella@microsoft.com"))

	c := h.contact(t, satya)
	assert.Equal(t, "satya.nadella@microsoft.com", c.Email)
	assert.Equal(t, types.StatusWaitingCallPermission, c.Status)
}

func TestProcessInboundMessage_InvalidEmail(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	h.seed(t, &types.Contact{ID: satya, Status: types.StatusWaitingEmail})

	assert.True(t, h.engine.ProcessInboundMessage(context.Background(), satya, "", "patrick@@gomry"))

	c := h.contact(t, satya)
	assert.Equal(t, types.StatusWaitingEmail, c.Status)
	assert.Equal(t, 1, c.EmailAttempts)
	assert.Empty(t, c.Email)
	assert.Equal(t, []string{msgs.InvalidEmail}, h.sender.Texts())
	assert.Empty(t, h.enricher.URLs())
}

func TestProcessInboundMessage_MaxEmailAttempts(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{MaxEmailAttempts: 2})
	h.seed(t, &types.Contact{ID: satya, Status: types.StatusWaitingEmail})
	ctx := context.Background()

	assert.True(t, h.engine.ProcessInboundMessage(ctx, satya, "", "nope, no email"))
	assert.Equal(t, types.StatusWaitingEmail, h.contact(t, satya).Status)

	assert.True(t, h.engine.ProcessInboundMessage(ctx, satya, "", "still no"))
	c := h.contact(t, satya)
	assert.Equal(t, types.StatusCompleted, c.Status)
	assert.Equal(t, 2, c.EmailAttempts)
	assert.Equal(t, []string{msgs.InvalidEmail, msgs.TooManyAttempts}, h.sender.Texts())
}

func TestProcessInboundMessage_BlockedDomain(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{CheckBlockedDomains: true, BlockedDomains: []string{"mailinator.com"}})
	h.seed(t, &types.Contact{ID: satya, Status: types.StatusWaitingEmail})

	assert.True(t, h.engine.ProcessInboundMessage(context.Background(), satya, "", "pat@Mailinator.com"))
	assert.Equal(t, types.StatusWaitingEmail, h.contact(t, satya).Status)
	assert.Equal(t, []string{msgs.InvalidEmail}, h.sender.Texts())
}

func TestProcessInboundMessage_ValidEmailTriggersLookup(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{NumWorkers: 2, QueueSize: 4}, nil)
	h := newHarness(t, config.ConversationConfig{}, WithTaskRunner(pool))
	h.seed(t, &types.Contact{ID: satya, Name: "Satya Nadella", Status: types.StatusWaitingEmail})

	assert.True(t, h.engine.ProcessInboundMessage(context.Background(), satya, "", "  Satya.Nadella@microsoft.com "))
	pool.Wait()
	require.NoError(t, pool.Shutdown(context.Background()))

	c := h.contact(t, satya)
	assert.Equal(t, "Satya.Nadella@microsoft.com", c.Email)
	assert.Equal(t, types.StatusWaitingCallPermission, c.Status)
	assert.Equal(t, "Chairman and CEO", c.Headline)
	assert.Equal(t, "https://www.linkedin.com/in/satya-nadella", c.ProfileURL)
	assert.Equal(t, []string{"https://www.linkedin.com/in/satya-nadella"}, h.enricher.URLs())

	texts := h.sender.Texts()
	require.Len(t, texts, 2)
	assert.Equal(t, msgs.EmailConfirmed, texts[0])
	assert.Equal(t, render(msgs.ProfileFound, c), texts[1])
	assert.Equal(t, []types.Status{types.StatusEmailReceived, types.StatusWaitingCallPermission}, h.statuses())
}

func TestLookup_NotFoundCompletes(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	h.enricher.outcome = enrichment.OutcomeNotFound
	h.seed(t, &types.Contact{ID: satya, Status: types.StatusWaitingEmail})

	assert.True(t, h.engine.ProcessInboundMessage(context.Background(), satya, "", "ghost@example.com"))

	assert.Equal(t, types.StatusCompleted, h.contact(t, satya).Status)
	assert.Equal(t, []string{msgs.EmailConfirmed, msgs.ProfileNotFound}, h.sender.Texts())
}

func TestLookup_PanicCompletes(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	h.enricher.panics = true
	h.seed(t, &types.Contact{ID: satya, Status: types.StatusWaitingEmail})

	assert.True(t, h.engine.ProcessInboundMessage(context.Background(), satya, "", "ghost@example.com"))

	assert.Equal(t, types.StatusCompleted, h.contact(t, satya).Status)
}

// flakyPatchStore fails the failOn-th PatchContact call.
type flakyPatchStore struct {
	*sqlite.Store
	mu      sync.Mutex
	patches int
	failOn  int
}

func (s *flakyPatchStore) PatchContact(ctx context.Context, id string, fn func(*types.Contact) error) (*types.Contact, error) {
	s.mu.Lock()
	s.patches++
	n := s.patches
	s.mu.Unlock()
	if n == s.failOn {
		return nil, errors.New("database is locked")
	}
	return s.Store.PatchContact(ctx, id, fn)
}

func TestLookup_FailedProfileWriteCompletes(t *testing.T) {
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "engine.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.SaveContact(context.Background(), &types.Contact{ID: satya, Status: types.StatusWaitingEmail}))

	// 1st patch records the email, 2nd stores the found profile.
	flaky := &flakyPatchStore{Store: store, failOn: 2}
	sender := &recordingSender{}
	e := New(flaky, sender, config.ConversationConfig{},
		WithEnricher(&fakeEnricher{outcome: enrichment.OutcomeEnriched}),
		WithClock(func() time.Time { return t0 }))
	ctx := context.Background()

	assert.True(t, e.ProcessInboundMessage(ctx, satya, "", "satya@microsoft.com"))

	c, err := store.GetContact(ctx, satya)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, c.Status)
	assert.Equal(t, []string{msgs.EmailConfirmed, msgs.ProfileNotFound}, sender.Texts())

	assert.False(t, e.ProcessInboundMessage(ctx, satya, "", "hello?"))
}

func TestLookup_FreshContactWithProfileSucceeds(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	h.enricher.outcome = enrichment.OutcomeFresh
	h.seed(t, &types.Contact{ID: satya, Company: "Microsoft", Status: types.StatusEmailReceived, Email: "s@microsoft.com"})

	h.engine.lookupProfile(context.Background(), satya)
	assert.Equal(t, types.StatusWaitingCallPermission, h.contact(t, satya).Status)
}

func TestLookup_SkipsWhenContactMovedOn(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	h.seed(t, &types.Contact{ID: satya, Status: types.StatusWaitingCallPermission, Email: "s@microsoft.com"})

	h.engine.lookupProfile(context.Background(), satya)

	assert.Empty(t, h.enricher.URLs())
	assert.Equal(t, types.StatusWaitingCallPermission, h.contact(t, satya).Status)
	assert.Empty(t, h.sender.Texts())
}

func TestLookup_IntroducesMatch(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{},
		WithMatcher(&fakeMatcher{match: &similarity.Match{ID: "whatsapp:+15550000002", Score: 0.91}}))
	h.seed(t, &types.Contact{ID: "whatsapp:+15550000002", Name: "Sundar Pichai", Headline: "CEO", Company: "Google", Status: types.StatusCompleted})
	h.seed(t, &types.Contact{ID: satya, Status: types.StatusEmailReceived, Email: "satya@microsoft.com"})

	h.engine.lookupProfile(context.Background(), satya)

	texts := h.sender.Texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "Sundar Pichai")
	assert.Contains(t, texts[1], "Google")
}

func TestLookup_MatcherErrorIsIgnored(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{}, WithMatcher(&fakeMatcher{err: errors.New("embedding down")}))
	h.seed(t, &types.Contact{ID: satya, Status: types.StatusEmailReceived, Email: "satya@microsoft.com"})

	h.engine.lookupProfile(context.Background(), satya)

	assert.Equal(t, types.StatusWaitingCallPermission, h.contact(t, satya).Status)
	assert.Len(t, h.sender.Texts(), 1)
}

func TestProcessInboundMessage_CallAccepted(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	h.seed(t, &types.Contact{ID: satya, PhoneHandle: "+15551234567", Name: "Satya Nadella",
		Email: "satya@microsoft.com", Status: types.StatusWaitingCallPermission})

	assert.True(t, h.engine.ProcessInboundMessage(context.Background(), satya, "", "Sounds good!"))

	c := h.contact(t, satya)
	assert.True(t, c.CallPermission)
	assert.True(t, c.CallScheduled)
	assert.Equal(t, "call-42", c.CallID)
	assert.Equal(t, types.StatusCompleted, c.Status)

	require.Len(t, h.scheduler.requests, 1)
	assert.Equal(t, calls.Request{Name: "Satya Nadella", Number: "+15551234567", Email: "satya@microsoft.com"}, h.scheduler.requests[0])
	assert.Equal(t, []types.Status{types.StatusCallScheduled, types.StatusCompleted}, h.statuses())
	assert.Equal(t, []string{render(msgs.CallScheduled, c)}, h.sender.Texts())
}

func TestProcessInboundMessage_CallSchedulingFails(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	h.scheduler.result = calls.Result{Error: "upstream 503"}
	h.seed(t, &types.Contact{ID: satya, Status: types.StatusLinkedInFound})

	assert.True(t, h.engine.ProcessInboundMessage(context.Background(), satya, "", "yes"))

	c := h.contact(t, satya)
	assert.True(t, c.CallPermission)
	assert.False(t, c.CallScheduled)
	assert.Equal(t, types.StatusCompleted, c.Status)
}

func TestProcessInboundMessage_CallDeclined(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	h.seed(t, &types.Contact{ID: satya, Status: types.StatusWaitingCallPermission})

	assert.True(t, h.engine.ProcessInboundMessage(context.Background(), satya, "", "No thanks"))

	c := h.contact(t, satya)
	assert.False(t, c.CallPermission)
	assert.Equal(t, types.StatusCompleted, c.Status)
	assert.Empty(t, h.scheduler.requests)
	assert.Equal(t, []string{msgs.CallDeclined}, h.sender.Texts())
}

func TestProcessInboundMessage_CallAmbiguous(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	h.seed(t, &types.Contact{ID: satya, Status: types.StatusWaitingCallPermission})

	assert.True(t, h.engine.ProcessInboundMessage(context.Background(), satya, "", "what is this about?"))

	c := h.contact(t, satya)
	assert.Equal(t, types.StatusWaitingCallPermission, c.Status)
	require.NotNil(t, c.LastMessageAt)
	assert.Equal(t, t0, c.LastMessageAt.UTC())
	assert.Equal(t, []string{msgs.CallClarify}, h.sender.Texts())
	assert.Empty(t, h.statuses())
}

func TestProcessInboundMessage_EmailReceivedIsHeld(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	h.seed(t, &types.Contact{ID: satya, Status: types.StatusEmailReceived})

	assert.True(t, h.engine.ProcessInboundMessage(context.Background(), satya, "", "any news?"))
	assert.Equal(t, types.StatusEmailReceived, h.contact(t, satya).Status)
	assert.Empty(t, h.sender.Texts())
}

func TestProcessInboundMessage_Auth0SentCompletes(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	h.seed(t, &types.Contact{ID: satya, Status: types.StatusAuth0Sent})

	assert.False(t, h.engine.ProcessInboundMessage(context.Background(), satya, "", "done"))
	assert.Equal(t, types.StatusCompleted, h.contact(t, satya).Status)
}

func TestProcessInboundMessage_TerminalFallsThrough(t *testing.T) {
	for _, st := range []types.Status{types.StatusCallScheduled, types.StatusCallFinished, types.StatusCompleted} {
		t.Run(st.String(), func(t *testing.T) {
			h := newHarness(t, config.ConversationConfig{})
			h.seed(t, &types.Contact{ID: satya, Status: st})

			assert.False(t, h.engine.ProcessInboundMessage(context.Background(), satya, "", "hello again"))
			c := h.contact(t, satya)
			assert.Equal(t, st, c.Status)
			require.NotNil(t, c.LastMessageAt)
			assert.Empty(t, h.sender.Texts())
		})
	}
}

// bogusStatusStore serves a contact whose status the flow does not know.
type bogusStatusStore struct {
	storage.ContactStore
}

func (bogusStatusStore) GetContact(_ context.Context, id string) (*types.Contact, error) {
	return &types.Contact{ID: id, Status: "ONBOARDING_V0"}, nil
}

func TestProcessInboundMessage_UnknownStatusFallsThrough(t *testing.T) {
	sender := &recordingSender{}
	e := New(bogusStatusStore{}, sender, config.ConversationConfig{})

	assert.False(t, e.ProcessInboundMessage(context.Background(), satya, "", "hi"))
	assert.Empty(t, sender.Texts())
}

func TestProcessInboundMessage_EmptyIdentity(t *testing.T) {
	h := newHarness(t, config.ConversationConfig{})
	assert.False(t, h.engine.ProcessInboundMessage(context.Background(), "  ", "", "hi"))
}

func TestNew_FillsMissingMessages(t *testing.T) {
	e := New(bogusStatusStore{}, &recordingSender{}, config.ConversationConfig{
		Messages: config.Messages{Welcome: "Yo {name}"},
	})
	assert.Equal(t, "Yo {name}", e.policy.Messages.Welcome)
	assert.Equal(t, msgs.CallClarify, e.policy.Messages.CallClarify)
}

func TestRender(t *testing.T) {
	c := &types.Contact{FirstName: "Ada", Headline: "Mathematician", Company: "Analytical Engines"}
	assert.Equal(t, "Ada / Mathematician / Analytical Engines", render("{name} / {headline} / {company}", c))
	assert.Equal(t, "Hi there", render("Hi {name}", &types.Contact{}))
	assert.Equal(t, "CTO", render("{headline}", &types.Contact{JobTitle: "CTO"}))
}

func TestEngine_EnrichProfileWithoutEnricher(t *testing.T) {
	e := New(bogusStatusStore{}, &recordingSender{}, config.ConversationConfig{})
	c := &types.Contact{ID: satya}
	assert.Same(t, c, e.EnrichProfile(context.Background(), c))

	_, err := e.VectorizeAndMatch(context.Background(), c)
	assert.Error(t, err)
}
