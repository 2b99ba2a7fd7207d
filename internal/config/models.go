package config

import (
	"fmt"
	"time"

	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/fusion"
	"github.com/mikey/phish-guard/internal/quarantine"
)

// ScorerConfig selects the scoring variant
type ScorerConfig struct {
	Mode                core.ScorerMode
	FallbackToHeuristic bool
	BatchSize           int
}

// S3Config locates model artifacts in S3
type S3Config struct {
	Enabled bool
	Bucket  string
	Prefix  string
	Region  string
}

// ModelsConfig locates the model artifacts
type ModelsConfig struct {
	Dir            string
	ReloadSchedule string
	S3             S3Config
}

// FeaturesConfig tunes feature extraction
type FeaturesConfig struct {
	SuspiciousTLDs []string
	Shorteners     []string
	TrustedDomains []string
	Workers        int
}

// EnrichmentConfig tunes the WHOIS and DNS lookups
type EnrichmentConfig struct {
	Enabled   bool
	Timeout   time.Duration
	DNSServer string
}

// QuarantineConfig tunes the quarantine lifecycle
type QuarantineConfig struct {
	Retention   time.Duration
	ExpirySweep string
}

// CacheConfig represents the classification cache configuration
type CacheConfig struct {
	Type             string
	Enabled          bool
	TTL              time.Duration
	CleanupFrequency time.Duration
	SQLitePath       string
	MySQLDSN         string
}

// StoreConfig represents the record store configuration
type StoreConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
}

// HTTPConfig represents the REST API configuration
type HTTPConfig struct {
	Enabled       bool
	ListenAddress string
	APIKey        string
	GinMode       string
}

// HeaderNames are the headers the content filter adds to messages
type HeaderNames struct {
	Phish        string
	Score        string
	Threat       string
	QuarantineID string
}

// ServerConfig represents the Postfix content filter configuration
type ServerConfig struct {
	Enabled         bool
	ListenAddress   string
	ForwardAddress  string
	DefaultUserID   string
	HoldQuarantined bool
	MaxMessageBytes int64
	Headers         HeaderNames
}

// EventsConfig represents the lifecycle event publisher configuration
type EventsConfig struct {
	Enabled        bool
	AMQPURL        string
	Exchange       string
	MaxRetries     int
	PublishTimeout time.Duration
}

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Provider    string
	Concurrency int
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GetScorer returns the scorer configuration
func (c *Config) GetScorer() (ScorerConfig, error) {
	mode := core.ScorerMode(c.GetString("scorer.mode"))
	switch mode {
	case core.ScorerML, core.ScorerHeuristic, core.ScorerLLM:
	default:
		return ScorerConfig{}, fmt.Errorf("unsupported scorer mode: %s", mode)
	}
	return ScorerConfig{
		Mode:                mode,
		FallbackToHeuristic: c.GetBool("scorer.fallback_to_heuristic"),
		BatchSize:           c.GetInt("scorer.batch_size"),
	}, nil
}

// GetModels returns the model artifact configuration
func (c *Config) GetModels() ModelsConfig {
	return ModelsConfig{
		Dir:            c.GetString("models.dir"),
		ReloadSchedule: c.GetString("models.reload_schedule"),
		S3: S3Config{
			Enabled: c.GetBool("models.s3.enabled"),
			Bucket:  c.GetString("models.s3.bucket"),
			Prefix:  c.GetString("models.s3.prefix"),
			Region:  c.GetString("models.s3.region"),
		},
	}
}

// GetThresholds returns the threat level banding
func (c *Config) GetThresholds() (fusion.Thresholds, error) {
	var t fusion.Thresholds
	if err := c.v.UnmarshalKey("fusion.thresholds", &t); err != nil {
		return t, fmt.Errorf("failed to decode fusion thresholds: %w", err)
	}
	if !(t.Low < t.Medium && t.Medium < t.High && t.High < t.Critical) {
		return t, fmt.Errorf("fusion thresholds must be strictly increasing: %+v", t)
	}
	return t, nil
}

// GetFeatures returns the feature extraction configuration
func (c *Config) GetFeatures() FeaturesConfig {
	return FeaturesConfig{
		SuspiciousTLDs: c.GetStringSlice("features.suspicious_tlds"),
		Shorteners:     c.GetStringSlice("features.shorteners"),
		TrustedDomains: c.GetStringSlice("features.trusted_domains"),
		Workers:        c.GetInt("features.workers"),
	}
}

// GetEnrichment returns the enrichment configuration
func (c *Config) GetEnrichment() (EnrichmentConfig, error) {
	timeout, err := c.GetDuration("enrichment.timeout")
	if err != nil {
		return EnrichmentConfig{}, err
	}
	return EnrichmentConfig{
		Enabled:   c.GetBool("enrichment.enabled"),
		Timeout:   timeout,
		DNSServer: c.GetString("enrichment.dns_server"),
	}, nil
}

// GetQuarantine returns the quarantine configuration
func (c *Config) GetQuarantine() (QuarantineConfig, error) {
	retention, err := c.GetDuration("quarantine.retention")
	if err != nil {
		return QuarantineConfig{}, err
	}
	// expires_at is always quarantined_at plus 30 days
	if retention != quarantine.DefaultRetention {
		return QuarantineConfig{}, fmt.Errorf("quarantine.retention must be %s, got %s", quarantine.DefaultRetention, retention)
	}
	return QuarantineConfig{
		Retention:   retention,
		ExpirySweep: c.GetString("quarantine.expiry_sweep"),
	}, nil
}

// GetCache returns the cache configuration
func (c *Config) GetCache() (CacheConfig, error) {
	ttl, err := c.GetDuration("cache.ttl")
	if err != nil {
		return CacheConfig{}, err
	}
	cleanup, err := c.GetDuration("cache.cleanup_frequency")
	if err != nil {
		return CacheConfig{}, err
	}
	return CacheConfig{
		Type:             c.GetString("cache.type"),
		Enabled:          c.GetBool("cache.enabled"),
		TTL:              ttl,
		CleanupFrequency: cleanup,
		SQLitePath:       c.GetString("cache.sqlite_path"),
		MySQLDSN:         c.GetString("cache.mysql_dsn"),
	}, nil
}

// GetStore returns the record store configuration
func (c *Config) GetStore() (StoreConfig, error) {
	lifetime, err := c.GetDuration("store.conn_max_lifetime")
	if err != nil {
		return StoreConfig{}, err
	}
	return StoreConfig{
		Driver:          c.GetString("store.driver"),
		DSN:             c.GetString("store.dsn"),
		MaxOpenConns:    c.GetInt("store.max_open_conns"),
		MaxIdleConns:    c.GetInt("store.max_idle_conns"),
		ConnMaxLifetime: lifetime,
		LogLevel:        c.GetString("store.log_level"),
	}, nil
}

// GetHTTP returns the REST API configuration
func (c *Config) GetHTTP() HTTPConfig {
	return HTTPConfig{
		Enabled:       c.GetBool("http.enabled"),
		ListenAddress: c.GetString("http.listen_address"),
		APIKey:        c.GetString("http.api_key"),
		GinMode:       c.GetString("http.gin_mode"),
	}
}

// GetServer returns the content filter configuration
func (c *Config) GetServer() ServerConfig {
	return ServerConfig{
		Enabled:         c.GetBool("server.enabled"),
		ListenAddress:   c.GetString("server.listen_address"),
		ForwardAddress:  c.GetString("server.forward_address"),
		DefaultUserID:   c.GetString("server.default_user_id"),
		HoldQuarantined: c.GetBool("server.hold_quarantined"),
		MaxMessageBytes: c.v.GetInt64("server.max_message_bytes"),
		Headers: HeaderNames{
			Phish:        c.GetString("server.headers.phish"),
			Score:        c.GetString("server.headers.score"),
			Threat:       c.GetString("server.headers.threat"),
			QuarantineID: c.GetString("server.headers.quarantine_id"),
		},
	}
}

// GetEvents returns the event publisher configuration
func (c *Config) GetEvents() (EventsConfig, error) {
	timeout, err := c.GetDuration("events.publish_timeout")
	if err != nil {
		return EventsConfig{}, err
	}
	return EventsConfig{
		Enabled:        c.GetBool("events.enabled"),
		AMQPURL:        c.GetString("events.amqp_url"),
		Exchange:       c.GetString("events.exchange"),
		MaxRetries:     c.GetInt("events.max_retries"),
		PublishTimeout: timeout,
	}, nil
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider:    c.GetString("llm.provider"),
		Concurrency: c.GetInt("llm.concurrency"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		BaseURL:     c.GetString("openai.base_url"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}
