package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/config"
)

func newProxycurl(t *testing.T, h http.HandlerFunc) *ProxycurlClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewProxycurlClient(config.EnrichmentConfig{ProviderURL: srv.URL + "/", APIKey: "secret"}, zap.NewNop())
	require.NotNil(t, c)
	return c
}

func TestProxycurlClient_FetchProfile(t *testing.T) {
	c := newProxycurl(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/linkedin", r.URL.Path)
		assert.Equal(t, satyaURL, r.URL.Query().Get("url"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"full_name": "Satya Nadella",
			"headline": "CEO",
			"experiences": [{"title": "CEO", "company": "Microsoft", "starts_at": {"day": 4, "month": 2, "year": 2014}, "ends_at": null}]
		}`))
	})

	res, err := c.FetchProfile(context.Background(), satyaURL)
	require.NoError(t, err)
	assert.True(t, res.Found)
	require.NotNil(t, res.Profile)
	assert.Equal(t, "Satya Nadella", res.Profile.FullName)
	require.Len(t, res.Profile.Experiences, 1)
	assert.Nil(t, res.Profile.Experiences[0].EndsAt)
	assert.Equal(t, "2014-02", res.Profile.Experiences[0].StartsAt.Format())
	assert.Contains(t, string(res.Raw), "Satya Nadella")
}

func TestProxycurlClient_NotFoundCodes(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusBadRequest} {
		c := newProxycurl(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte("no such profile"))
		})

		res, err := c.FetchProfile(context.Background(), satyaURL)
		require.NoError(t, err)
		assert.False(t, res.Found)
		assert.Equal(t, code, res.StatusCode)
		assert.JSONEq(t, `"no such profile"`, string(res.Raw), "non-JSON bodies are stored as JSON strings")
	}
}

func TestProxycurlClient_ServerError(t *testing.T) {
	c := newProxycurl(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := c.FetchProfile(context.Background(), satyaURL)
	assert.ErrorContains(t, err, "503")
}

func TestNewProxycurlClient_RequiresKey(t *testing.T) {
	assert.Nil(t, NewProxycurlClient(config.EnrichmentConfig{}, nil))
}
