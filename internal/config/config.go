// Package config provides configuration management for the introducer.
// It loads settings from environment variables with the INTRODUCER_ prefix
// and provides sensible defaults for all configuration options.
//
// Conversation policy (feature flags, the blocked-domain list, thresholds
// and message templates) can additionally be overlaid from a YAML file named
// by INTRODUCER_CONFIG_FILE or passed to Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the introducer.
type Config struct {
	Server       ServerConfig
	Storage      StorageConfig
	Embedding    EmbeddingConfig
	Enrichment   EnrichmentConfig
	Messaging    MessagingConfig
	Calls        CallsConfig
	Media        MediaConfig
	Cache        CacheConfig
	Security     SecurityConfig
	Logging      LoggingConfig
	Workers      WorkersConfig
	Backup       BackupConfig
	Conversation ConversationConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6464)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	StorageEngine string // sqlite or postgres (default: sqlite)
	DataPath      string // Directory of the sqlite database (default: ./data)
	PostgresDSN   string // Connection string when StorageEngine is postgres
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider      string        // openai, ollama, or empty for none (default: openai)
	OpenAIAPIKey  string        // OpenAI API key
	OpenAIModel   string        // default: text-embedding-3-small
	OpenAIBaseURL string        // default: https://api.openai.com
	OllamaURL     string        // default: http://localhost:11434
	OllamaModel   string        // default: nomic-embed-text
	Timeout       time.Duration // Per request timeout (default: 30s)
}

// EnrichmentConfig configures the profile provider.
type EnrichmentConfig struct {
	ProviderURL   string        // default: https://nubela.co/proxycurl
	APIKey        string        // Provider bearer token
	FreshnessDays int           // default: 30
	Timeout       time.Duration // default: 30s
}

// MessagingConfig configures outbound message delivery.
type MessagingConfig struct {
	WebhookURL string // Endpoint accepting outbound messages
	AuthToken  string
}

// CallsConfig configures the call-scheduling service.
type CallsConfig struct {
	SchedulerURL string
	APIKey       string
}

// MediaConfig configures the image relay.
type MediaConfig struct {
	GCSBucket       string // Empty disables relaying
	CredentialsFile string // Optional service account file
	PublicBaseURL   string // default: https://storage.googleapis.com/<bucket>
}

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	RedisURL string        // Empty disables the shared cache
	TTL      time.Duration // default: 24h
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string  // development or production (default: development)
	APIToken     string  // Bearer token required in production mode
	RateLimitRPS float64 // Requests per second per server (default: 20)
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Mode  string // development or production (default: development)
	Level string // Optional level override
}

// WorkersConfig sizes the background lookup pool.
type WorkersConfig struct {
	NumWorkers      int           // default: 4
	QueueSize       int           // default: 100
	ShutdownTimeout time.Duration // default: 30s
}

// BackupConfig configures SQLite snapshots.
type BackupConfig struct {
	Dir      string        // default: <DataPath>/backups
	Interval time.Duration // Scheduled snapshots while serving; 0 disables
}

// ConversationConfig is the conversation policy. Every field may be set in
// the YAML policy file.
type ConversationConfig struct {
	RequestEmailImmediately bool          `yaml:"request_email_immediately"`
	CheckBlockedDomains     bool          `yaml:"check_blocked_domains"`
	BlockedDomains          []string      `yaml:"blocked_domains"`
	MaxEmailAttempts        int           `yaml:"max_email_attempts"` // 0 means unlimited
	MatchThreshold          float64       `yaml:"match_threshold"`
	BatchDelay              time.Duration `yaml:"batch_delay"`
	Messages                Messages      `yaml:"messages"`
}

// Messages holds the conversational templates. {name}, {headline} and
// {company} are substituted where present.
type Messages struct {
	Welcome           string `yaml:"welcome"`
	EmailRequest      string `yaml:"email_request"`
	InvalidEmail      string `yaml:"invalid_email"`
	EmailConfirmed    string `yaml:"email_confirmed"`
	ProfileFound      string `yaml:"profile_found"`
	ProfileNotFound   string `yaml:"profile_not_found"`
	CallScheduled     string `yaml:"call_scheduled"`
	CallDeclined      string `yaml:"call_declined"`
	CallClarify       string `yaml:"call_clarify"`
	TooManyAttempts   string `yaml:"too_many_attempts"`
	MatchIntroduction string `yaml:"match_introduction"`
}

// DefaultMessages returns the built-in templates.
func DefaultMessages() Messages {
	return Messages{
		Welcome:           "Hi {name}! I help people in our network meet the right person. Let's get you set up.",
		EmailRequest:      "What's your work email address?",
		InvalidEmail:      "Hmm, that doesn't look like a valid email address. Could you double-check it?",
		EmailConfirmed:    "Thanks! Give me a moment while I look up your professional profile.",
		ProfileFound:      "Found you: {headline} at {company}. Would you like a quick call to talk about introductions?",
		ProfileNotFound:   "I couldn't find a public profile for you, but you're all set. We'll be in touch.",
		CallScheduled:     "Great, I'm scheduling a call with you now.",
		CallDeclined:      "No problem. You're all set, and you can reach out any time.",
		CallClarify:       "Sorry, I didn't catch that. Would you like a call? Just reply yes or no.",
		TooManyAttempts:   "Let's skip the email for now. You're all set.",
		MatchIntroduction: "I think you should meet {name}, {headline} at {company}.",
	}
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. If INTRODUCER_CONFIG_FILE is set, its conversation policy is
// overlaid on top.
func LoadConfig() (*Config, error) {
	return Load(os.Getenv("INTRODUCER_CONFIG_FILE"))
}

// Load builds the configuration from the environment and overlays the policy
// file at path when path is non-empty.
func Load(path string) (*Config, error) {
	cfg := buildBaseConfig()

	if path != "" {
		if err := cfg.applyPolicyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// policyFile mirrors the YAML document. Only keys present in the file
// override the environment derived values.
type policyFile struct {
	Conversation *struct {
		RequestEmailImmediately *bool          `yaml:"request_email_immediately"`
		CheckBlockedDomains     *bool          `yaml:"check_blocked_domains"`
		BlockedDomains          []string       `yaml:"blocked_domains"`
		MaxEmailAttempts        *int           `yaml:"max_email_attempts"`
		MatchThreshold          *float64       `yaml:"match_threshold"`
		BatchDelay              *time.Duration `yaml:"batch_delay"`
		Messages                *Messages      `yaml:"messages"`
	} `yaml:"conversation"`
}

func (c *Config) applyPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("config: failed to parse policy file %s: %w", path, err)
	}
	if pf.Conversation == nil {
		return nil
	}

	p := pf.Conversation
	conv := &c.Conversation
	if p.RequestEmailImmediately != nil {
		conv.RequestEmailImmediately = *p.RequestEmailImmediately
	}
	if p.CheckBlockedDomains != nil {
		conv.CheckBlockedDomains = *p.CheckBlockedDomains
	}
	if p.BlockedDomains != nil {
		conv.BlockedDomains = normalizeDomains(p.BlockedDomains)
	}
	if p.MaxEmailAttempts != nil {
		conv.MaxEmailAttempts = *p.MaxEmailAttempts
	}
	if p.MatchThreshold != nil {
		conv.MatchThreshold = *p.MatchThreshold
	}
	if p.BatchDelay != nil {
		conv.BatchDelay = *p.BatchDelay
	}
	if p.Messages != nil {
		conv.Messages = mergeMessages(conv.Messages, *p.Messages)
	}
	return nil
}

// mergeMessages keeps base templates that override leaves blank.
func mergeMessages(base, override Messages) Messages {
	pick := func(b, o string) string {
		if strings.TrimSpace(o) != "" {
			return o
		}
		return b
	}
	return Messages{
		Welcome:           pick(base.Welcome, override.Welcome),
		EmailRequest:      pick(base.EmailRequest, override.EmailRequest),
		InvalidEmail:      pick(base.InvalidEmail, override.InvalidEmail),
		EmailConfirmed:    pick(base.EmailConfirmed, override.EmailConfirmed),
		ProfileFound:      pick(base.ProfileFound, override.ProfileFound),
		ProfileNotFound:   pick(base.ProfileNotFound, override.ProfileNotFound),
		CallScheduled:     pick(base.CallScheduled, override.CallScheduled),
		CallDeclined:      pick(base.CallDeclined, override.CallDeclined),
		CallClarify:       pick(base.CallClarify, override.CallClarify),
		TooManyAttempts:   pick(base.TooManyAttempts, override.TooManyAttempts),
		MatchIntroduction: pick(base.MatchIntroduction, override.MatchIntroduction),
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage requires INTRODUCER_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage engine %q", c.Storage.StorageEngine))
	}
	if c.Conversation.MatchThreshold < -1 || c.Conversation.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("match threshold %.2f must be within [-1, 1]", c.Conversation.MatchThreshold))
	}
	if c.Conversation.MaxEmailAttempts < 0 {
		errs = append(errs, errors.New("max email attempts must not be negative"))
	}
	if c.Conversation.BatchDelay < 0 {
		errs = append(errs, errors.New("batch delay must not be negative"))
	}
	if c.Enrichment.FreshnessDays <= 0 {
		errs = append(errs, errors.New("enrichment freshness must be at least one day"))
	}
	if c.Backup.Interval < 0 {
		errs = append(errs, errors.New("backup interval must not be negative"))
	}
	if c.Workers.NumWorkers <= 0 || c.Workers.QueueSize <= 0 {
		errs = append(errs, errors.New("worker count and queue size must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// IsProduction reports whether authentication is enforced.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Security.SecurityMode, "production")
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("INTRODUCER_PORT", 6464),
			Host: getEnv("INTRODUCER_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("INTRODUCER_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("INTRODUCER_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("INTRODUCER_POSTGRES_DSN", ""),
		},
		Embedding: EmbeddingConfig{
			Provider:      getEnv("INTRODUCER_EMBEDDING_PROVIDER", "openai"),
			OpenAIAPIKey:  getEnv("INTRODUCER_OPENAI_API_KEY", ""),
			OpenAIModel:   getEnv("INTRODUCER_OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			OpenAIBaseURL: getEnv("INTRODUCER_OPENAI_BASE_URL", "https://api.openai.com"),
			OllamaURL:     getEnv("INTRODUCER_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:   getEnv("INTRODUCER_OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			Timeout:       getEnvDuration("INTRODUCER_EMBEDDING_TIMEOUT", 30*time.Second),
		},
		Enrichment: EnrichmentConfig{
			ProviderURL:   getEnv("INTRODUCER_ENRICHMENT_URL", "https://nubela.co/proxycurl"),
			APIKey:        getEnv("INTRODUCER_ENRICHMENT_API_KEY", ""),
			FreshnessDays: getEnvInt("INTRODUCER_ENRICHMENT_FRESHNESS_DAYS", 30),
			Timeout:       getEnvDuration("INTRODUCER_ENRICHMENT_TIMEOUT", 30*time.Second),
		},
		Messaging: MessagingConfig{
			WebhookURL: getEnv("INTRODUCER_MESSAGING_WEBHOOK_URL", ""),
			AuthToken:  getEnv("INTRODUCER_MESSAGING_TOKEN", ""),
		},
		Calls: CallsConfig{
			SchedulerURL: getEnv("INTRODUCER_CALLS_URL", ""),
			APIKey:       getEnv("INTRODUCER_CALLS_API_KEY", ""),
		},
		Media: MediaConfig{
			GCSBucket:       getEnv("INTRODUCER_GCS_BUCKET", ""),
			CredentialsFile: getEnv("INTRODUCER_GCS_CREDENTIALS_FILE", ""),
			PublicBaseURL:   getEnv("INTRODUCER_MEDIA_PUBLIC_URL", ""),
		},
		Cache: CacheConfig{
			RedisURL: getEnv("INTRODUCER_REDIS_URL", ""),
			TTL:      getEnvDuration("INTRODUCER_CACHE_TTL", 24*time.Hour),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("INTRODUCER_SECURITY_MODE", "development"),
			APIToken:     getEnv("INTRODUCER_API_TOKEN", ""),
			RateLimitRPS: getEnvFloat("INTRODUCER_RATE_LIMIT_RPS", 20),
		},
		Logging: LoggingConfig{
			Mode:  getEnv("INTRODUCER_LOG_MODE", "development"),
			Level: getEnv("INTRODUCER_LOG_LEVEL", ""),
		},
		Workers: WorkersConfig{
			NumWorkers:      getEnvInt("INTRODUCER_NUM_WORKERS", 4),
			QueueSize:       getEnvInt("INTRODUCER_QUEUE_SIZE", 100),
			ShutdownTimeout: getEnvDuration("INTRODUCER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Backup: BackupConfig{
			Dir:      getEnv("INTRODUCER_BACKUP_DIR", ""),
			Interval: getEnvDuration("INTRODUCER_BACKUP_INTERVAL", 0),
		},
		Conversation: ConversationConfig{
			RequestEmailImmediately: getEnvBool("INTRODUCER_REQUEST_EMAIL_IMMEDIATELY", false),
			CheckBlockedDomains:     getEnvBool("INTRODUCER_CHECK_BLOCKED_DOMAINS", false),
			BlockedDomains:          normalizeDomains(strings.Split(getEnv("INTRODUCER_BLOCKED_DOMAINS", ""), ",")),
			MaxEmailAttempts:        getEnvInt("INTRODUCER_MAX_EMAIL_ATTEMPTS", 0),
			MatchThreshold:          getEnvFloat("INTRODUCER_MATCH_THRESHOLD", 0.7),
			BatchDelay:              getEnvDuration("INTRODUCER_BATCH_DELAY", 150*time.Millisecond),
			Messages:                DefaultMessages(),
		},
	}
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
