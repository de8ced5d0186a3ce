package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/scrypster/introducer/internal/config"
	"github.com/scrypster/introducer/internal/embedding"
	"github.com/scrypster/introducer/internal/engine"
	"github.com/scrypster/introducer/internal/similarity"
	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/internal/storage/sqlite"
	"github.com/scrypster/introducer/internal/vectorize"
	"github.com/scrypster/introducer/pkg/types"
)

const satya = "whatsapp:+15551234567"

type fakeConversation struct {
	mu      sync.Mutex
	inbound []string
}

func (f *fakeConversation) ProcessInboundMessage(_ context.Context, identity, _, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, identity+"|"+text)
	return text != "fallthrough"
}

func (f *fakeConversation) EnrichProfile(_ context.Context, c *types.Contact) *types.Contact {
	out := c.Clone()
	out.Headline = "Chairman and CEO"
	return out
}

type fakeMatcher struct {
	force bool
	limit int
	err   error
}

func (f *fakeMatcher) VectorizeAndMatch(_ context.Context, c *types.Contact, opts vectorize.Options) (*vectorize.Result, error) {
	f.force = opts.Force
	if f.err != nil {
		return nil, f.err
	}
	return &vectorize.Result{ContactID: c.ID, Model: "test", Vectorized: true}, nil
}

func (f *fakeMatcher) RankedMatches(_ context.Context, id string, limit int) ([]similarity.Match, error) {
	f.limit = limit
	if id == "missing" {
		return nil, fmt.Errorf("contact %s: %w", id, storage.ErrNotFound)
	}
	return []similarity.Match{{ID: "b", Score: 0.9}}, nil
}

func (f *fakeMatcher) VectorizeBatch(_ context.Context, limit int, force bool) (*vectorize.BatchResult, error) {
	f.limit, f.force = limit, force
	return &vectorize.BatchResult{Processed: 2, Succeeded: 2}, nil
}

func (f *fakeMatcher) EnrichBatch(_ context.Context, limit int) (*vectorize.BatchResult, error) {
	f.limit = limit
	return &vectorize.BatchResult{Processed: 1, Skipped: 1}, nil
}

type fixture struct {
	cfg     *config.Config
	conv    *fakeConversation
	matcher *fakeMatcher
	store   *sqlite.Store
	hub     *Hub
	server  *httptest.Server
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Security.RateLimitRPS = 1000
	for _, m := range mutate {
		m(cfg)
	}

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "server.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		cfg:     cfg,
		conv:    &fakeConversation{},
		matcher: &fakeMatcher{},
		store:   store,
		hub:     NewHub(nil, nil),
	}
	go f.hub.Run()
	t.Cleanup(f.hub.Stop)

	f.server = httptest.NewServer(New(cfg, f.conv, f.matcher, store, f.hub, nil, WithEnrichmentLog(store)).Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func contactPath(id string) string {
	return "/api/contacts/" + url.PathEscape(id)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestInbound(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/messages/inbound", `{"from":"`+satya+`","text":"hi"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["handled"])

	_, body = f.do(t, http.MethodPost, "/api/messages/inbound", `{"from":"`+satya+`","text":"fallthrough"}`)
	assert.Equal(t, false, body["handled"])
	assert.Equal(t, []string{satya + "|hi", satya + "|fallthrough"}, f.conv.inbound)

	resp, _ = f.do(t, http.MethodPost, "/api/messages/inbound", `{"text":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/messages/inbound", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEnrichmentsRoute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveContact(ctx, &types.Contact{ID: satya}))

	resp, body := f.do(t, http.MethodGet, contactPath(satya)+"/enrichments", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["enrichments"])

	profile := "https://www.linkedin.com/in/satya-nadella"
	require.NoError(t, f.store.AppendEnrichment(ctx, &types.EnrichmentRecord{
		ContactID: satya, ProfileURL: profile, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, f.store.AppendEnrichment(ctx, &types.EnrichmentRecord{
		ContactID: satya, ProfileURL: profile, CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Enriched: &types.Contact{ID: satya, Headline: "Chairman and CEO"},
	}))

	resp, body = f.do(t, http.MethodGet, contactPath(satya)+"/enrichments?limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records, ok := body["enrichments"].([]any)
	require.True(t, ok)
	require.Len(t, records, 1)
	latest := records[0].(map[string]any)
	assert.Equal(t, profile, latest["profile_url"])
	assert.NotNil(t, latest["enriched"], "newest record comes first")

	resp, _ = f.do(t, http.MethodGet, contactPath("whatsapp:+10000000000")+"/enrichments", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestContactRoutes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveContact(context.Background(), &types.Contact{ID: satya, Name: "Satya Nadella"}))

	resp, body := f.do(t, http.MethodGet, contactPath(satya), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Satya Nadella", body["name"])

	resp, _ = f.do(t, http.MethodGet, contactPath("whatsapp:+10000000000"), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, contactPath(satya)+"/enrich", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Chairman and CEO", body["headline"])

	resp, body = f.do(t, http.MethodPost, contactPath(satya)+"/vectorize?force=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, satya, body["contact_id"])
	assert.True(t, f.matcher.force)

	resp, body = f.do(t, http.MethodGet, contactPath(satya)+"/matches?limit=3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, f.matcher.limit)
	assert.Len(t, body["matches"], 1)

	resp, _ = f.do(t, http.MethodGet, contactPath("missing")+"/matches", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, defaultMatchLimit, f.matcher.limit)
}

func TestVectorize_ErrorMapping(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveContact(context.Background(), &types.Contact{ID: satya}))

	f.matcher.err = &embedding.ConfigurationError{Reason: "no backend"}
	resp, _ := f.do(t, http.MethodPost, contactPath(satya)+"/vectorize", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	f.matcher.err = embedding.ErrEmptyInput
	resp, _ = f.do(t, http.MethodPost, contactPath(satya)+"/vectorize", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	f.matcher.err = fmt.Errorf("boom")
	resp, body := f.do(t, http.MethodPost, contactPath(satya)+"/vectorize", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "vectorize failed", body["error"])
}

func TestBatchRoutes(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/batch/vectorize?limit=7&force=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 7, f.matcher.limit)
	assert.True(t, f.matcher.force)
	assert.EqualValues(t, 2, body["succeeded"])

	resp, _ = f.do(t, http.MethodPost, "/api/batch/enrich", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, defaultBatchLimit, f.matcher.limit)
}

func TestAuth_Production(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Security.SecurityMode = "production"
		c.Security.APIToken = "s3cret"
	})

	resp, _ := f.do(t, http.MethodPost, "/api/batch/enrich", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/batch/enrich", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/batch/enrich", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health checks stay open")
}

func TestAuth_ProductionWithoutToken(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Security.SecurityMode = "production" })
	resp, _ := f.do(t, http.MethodPost, "/api/batch/enrich", "", "Authorization", "Bearer ")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Security.RateLimitRPS = 0.5 })

	resp, _ := f.do(t, http.MethodPost, "/api/batch/enrich", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/api/batch/enrich", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestEventsWebsocket(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return f.hub.subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.hub.Publish(engine.TransitionEvent{ContactID: satya, From: types.StatusWelcomeSent, To: types.StatusWaitingEmail})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var ev engine.TransitionEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, satya, ev.ContactID)
	assert.Equal(t, types.StatusWaitingEmail, ev.To)
}

type chanSubscriber struct {
	ch     chan []byte
	closed bool
}

func (c *chanSubscriber) sendChannel() chan []byte { return c.ch }
func (c *chanSubscriber) close()                   { c.closed = true }

func TestHub_DropsSlowSubscriber(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	slow := &chanSubscriber{ch: make(chan []byte)}
	hub.subscribe(slow)
	require.Eventually(t, func() bool { return hub.subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(engine.TransitionEvent{ContactID: satya})
	assert.Eventually(t, func() bool { return hub.subscribers() == 0 }, time.Second, 5*time.Millisecond)
}
