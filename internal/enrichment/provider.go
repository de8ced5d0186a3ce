package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/breaker"
	"github.com/scrypster/introducer/internal/config"
)

// maxResponseBytes bounds a provider response body.
const maxResponseBytes = 2 << 20

// ProfileProvider fetches a professional profile by its network URL.
// A profile the provider does not know is a FetchResult with Found=false,
// not an error.
type ProfileProvider interface {
	FetchProfile(ctx context.Context, profileURL string) (*FetchResult, error)
}

// FetchResult is one provider response.
type FetchResult struct {
	Found      bool
	StatusCode int
	Raw        json.RawMessage // Always valid JSON
	Profile    *Profile        // Set when Found
}

// Profile is the subset of the provider's person document the engine uses.
type Profile struct {
	PublicIdentifier string       `json:"public_identifier"`
	ProfilePicURL    string       `json:"profile_pic_url"`
	FirstName        string       `json:"first_name"`
	LastName         string       `json:"last_name"`
	FullName         string       `json:"full_name"`
	Occupation       string       `json:"occupation"`
	Headline         string       `json:"headline"`
	Summary          string       `json:"summary"`
	City             string       `json:"city"`
	State            string       `json:"state"`
	Country          string       `json:"country"`
	CountryFullName  string       `json:"country_full_name"`
	Experiences      []Experience `json:"experiences"`
	Education        []Education  `json:"education"`
}

// Date is the provider's split date.
type Date struct {
	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// Format renders d as YYYY-MM. A nil or yearless date is "".
func (d *Date) Format() string {
	if d == nil || d.Year == 0 {
		return ""
	}
	month := d.Month
	if month < 1 || month > 12 {
		month = 1
	}
	return fmt.Sprintf("%04d-%02d", d.Year, month)
}

// Experience is one employment entry in a provider profile.
type Experience struct {
	StartsAt                  *Date  `json:"starts_at"`
	EndsAt                    *Date  `json:"ends_at"`
	Company                   string `json:"company"`
	CompanyLinkedinProfileURL string `json:"company_linkedin_profile_url"`
	Title                     string `json:"title"`
	Description               string `json:"description"`
	Location                  string `json:"location"`
	LogoURL                   string `json:"logo_url"`
}

// Education is one education entry in a provider profile.
type Education struct {
	StartsAt                 *Date  `json:"starts_at"`
	EndsAt                   *Date  `json:"ends_at"`
	FieldOfStudy             string `json:"field_of_study"`
	DegreeName               string `json:"degree_name"`
	School                   string `json:"school"`
	SchoolLinkedinProfileURL string `json:"school_linkedin_profile_url"`
	Description              string `json:"description"`
	LogoURL                  string `json:"logo_url"`
	Grade                    string `json:"grade"`
	ActivitiesAndSocieties   string `json:"activities_and_societies"`
}

// ProxycurlClient implements ProfileProvider against the Proxycurl person
// profile endpoint.
type ProxycurlClient struct {
	baseURL        string
	apiKey         string
	client         *http.Client
	circuitBreaker *breaker.CircuitBreaker
}

// NewProxycurlClient creates a provider client. It returns nil when no API
// key is configured.
func NewProxycurlClient(cfg config.EnrichmentConfig, logger *zap.Logger) *ProxycurlClient {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	base := strings.TrimRight(cfg.ProviderURL, "/")
	if base == "" {
		base = "https://nubela.co/proxycurl"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ProxycurlClient{
		baseURL:        base,
		apiKey:         cfg.APIKey,
		client:         &http.Client{Timeout: timeout},
		circuitBreaker: breaker.New("enrichment-provider", logger),
	}
}

// FetchProfile looks up profileURL. 400 and 404 are reported as not found.
func (c *ProxycurlClient) FetchProfile(ctx context.Context, profileURL string) (*FetchResult, error) {
	return breaker.Do(ctx, c.circuitBreaker, func() (*FetchResult, error) {
		return c.fetch(ctx, profileURL)
	})
}

func (c *ProxycurlClient) fetch(ctx context.Context, profileURL string) (*FetchResult, error) {
	endpoint := c.baseURL + "/api/v2/linkedin?url=" + url.QueryEscape(profileURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusBadRequest:
		return &FetchResult{StatusCode: resp.StatusCode, Raw: asJSON(body)}, nil
	default:
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}

	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &FetchResult{Found: true, StatusCode: resp.StatusCode, Raw: asJSON(body), Profile: &p}, nil
}

// asJSON returns body unchanged when it is valid JSON and as a JSON string
// otherwise.
func asJSON(body []byte) json.RawMessage {
	if len(body) > 0 && json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
