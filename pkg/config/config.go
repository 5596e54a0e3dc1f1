package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/piratf/kampus-crawler/pkg/utils"
)

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent        string           `yaml:"default_user_agent"`
	DelayPerHost            time.Duration    `yaml:"delay_per_host"`
	MaxRequestsPerHost      int              `yaml:"max_requests_per_host"`
	Concurrency             int              `yaml:"concurrency"` // Entities processed at once
	OutputDir               string           `yaml:"output_dir"`
	RespectRobots           *bool            `yaml:"respect_robots,omitempty"` // nil = default (true)
	FetchCacheTTL           time.Duration    `yaml:"fetch_cache_ttl,omitempty"`
	FallbackAssets          int              `yaml:"fallback_assets,omitempty"` // Embedded assets validated when a page is invalid
	ValidateOnly            bool             `yaml:"validate_only,omitempty"`
	SemaphoreAcquireTimeout time.Duration    `yaml:"semaphore_acquire_timeout,omitempty"`
	EntityTimeout           time.Duration    `yaml:"entity_timeout,omitempty"` // 0 = no per-entity timeout
	Retry                   RetryConfig      `yaml:"retry,omitempty"`
	HTTPClientSettings      HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Crawl                   CrawlConfig      `yaml:"crawl,omitempty"`
	Render                  RenderConfig     `yaml:"render,omitempty"`
	Oracle                  OracleConfig     `yaml:"oracle,omitempty"`
	Keywords                KeywordsConfig   `yaml:"keywords,omitempty"`
	Narrow                  NarrowConfig     `yaml:"narrow,omitempty"`
	Checkpoint              CheckpointConfig `yaml:"checkpoint,omitempty"`
}

// RetryConfig drives the fetch retry policy.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries,omitempty"`
	InitialRetryDelay time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
	MaxBodyBytes          int64         `yaml:"max_body_bytes,omitempty"`          // Response bodies are truncated past this size
}

// CrawlConfig tunes the per-entity frontier crawler.
type CrawlConfig struct {
	MaxPages          int      `yaml:"max_pages,omitempty"`
	MaxDepth          int      `yaml:"max_depth,omitempty"`
	DepthPenalty      float64  `yaml:"depth_penalty,omitempty"`       // k in priority = lexical + anchor - k*depth + bonus
	PageFloor         float64  `yaml:"page_floor,omitempty"`          // Page score needed for a whole-page candidate
	MinCandidateScore float64  `yaml:"min_candidate_score,omitempty"` // Link score that makes a candidate without topic words
	StrongSignal      float64  `yaml:"strong_signal,omitempty"`       // Link score that overrides noise filtering
	PageBonusFactor   float64  `yaml:"page_bonus_factor,omitempty"`
	MaxRoots          int      `yaml:"max_roots,omitempty"`
	SubdomainGuesses  []string `yaml:"subdomain_guesses,omitempty"`
	LockToSubtree     *bool    `yaml:"lock_to_subtree,omitempty"` // nil = default (true)
	UseSitemaps       bool     `yaml:"use_sitemaps,omitempty"`
	SitemapSeedLimit  int      `yaml:"sitemap_seed_limit,omitempty"`
	SrcsetMaxWidth    int      `yaml:"srcset_max_width,omitempty"`
	SectionCandidates *bool    `yaml:"section_candidates,omitempty"` // nil = default (true)
}

// RenderConfig controls the headless browser fetcher used for escalation.
type RenderConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
	MaxConcurrency  int           `yaml:"max_concurrency,omitempty"`
	SettleDelay     time.Duration `yaml:"settle_delay,omitempty"`
	MaxExpandClicks int           `yaml:"max_expand_clicks,omitempty"`
	MinTextChars    int           `yaml:"min_text_chars,omitempty"` // Light-fetch text shorter than this escalates
	PreferLonger    float64       `yaml:"prefer_longer,omitempty"`  // Rendered text wins when this many times longer
	ExecPath        string        `yaml:"exec_path,omitempty"`
}

// OracleConfig configures the semantic oracle client.
type OracleConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key,omitempty"`
	APIKeyEnv         string        `yaml:"api_key_env,omitempty"`
	Models            []string      `yaml:"models"` // Tried in order on persistent failure
	Timeout           time.Duration `yaml:"timeout,omitempty"`
	MaxRetries        int           `yaml:"max_retries,omitempty"`
	InitialRetryDelay time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay,omitempty"`
	RequestsPerMinute int           `yaml:"requests_per_minute,omitempty"` // 0 = unlimited
	MaxTokens         int           `yaml:"max_tokens,omitempty"`
	Temperature       float32       `yaml:"temperature,omitempty"`
	MaxValidateChars  int           `yaml:"max_validate_chars,omitempty"`
	MaxExtractChars   int           `yaml:"max_extract_chars,omitempty"`
	MaxValidateTokens int           `yaml:"max_validate_tokens,omitempty"`
	MaxExtractTokens  int           `yaml:"max_extract_tokens,omitempty"`
	MaxExtractChunks  int           `yaml:"max_extract_chunks,omitempty"` // Long pages are split into at most this many oracle calls
	MaxPDFPages       int           `yaml:"max_pdf_pages,omitempty"`      // Pages of a PDF read for its text layer
	MaxPDFChars       int           `yaml:"max_pdf_chars,omitempty"`      // Characters of PDF text kept
	TokenizerEncoding string        `yaml:"tokenizer_encoding,omitempty"`
	ValidatePrompt    string        `yaml:"validate_prompt,omitempty"`
	ExtractPrompt     string        `yaml:"extract_prompt,omitempty"`
}

// KeywordsConfig is the deployment's vocabulary. Patterns are Go regexps.
type KeywordsConfig struct {
	Topic               []string `yaml:"topic,omitempty"`
	Noise               []string `yaml:"noise,omitempty"`
	TopicPattern        string   `yaml:"topic_pattern,omitempty"`
	ProgramPattern      string   `yaml:"program_pattern,omitempty"`
	LevelPattern        string   `yaml:"level_pattern,omitempty"`
	MoneyPattern        string   `yaml:"money_pattern,omitempty"`
	DatePatterns        []string `yaml:"date_patterns,omitempty"`
	Entry               []string `yaml:"entry,omitempty"`
	HardReject          []string `yaml:"hard_reject,omitempty"`
	HardRejectExempt    []string `yaml:"hard_reject_exempt,omitempty"`
	LogoWords           []string `yaml:"logo_words,omitempty"`
	ExtraTrackingParams []string `yaml:"extra_tracking_params,omitempty"`
	AllowedAssetHosts   []string `yaml:"allowed_asset_hosts,omitempty"`
	TopicWeight         float64  `yaml:"topic_weight,omitempty"`
	NoiseWeight         float64  `yaml:"noise_weight,omitempty"`
}

// NarrowConfig configures the run-based narrowing of extracted items.
type NarrowConfig struct {
	MinGood       int      `yaml:"min_good,omitempty"`
	MaxBadStreak  *int     `yaml:"max_bad_streak,omitempty"` // Nil means 5; 0 ends a run at its first bad item
	GoodFields    []string `yaml:"good_fields,omitempty"`    // Any non-empty one marks an item as priced/dated
	NumericFields []string `yaml:"numeric_fields,omitempty"` // String values coerced to integers
	DateField     string   `yaml:"date_field,omitempty"`     // Drives is_active
}

// CheckpointConfig selects and tunes the checkpoint backend.
type CheckpointConfig struct {
	Backend string `yaml:"backend,omitempty"` // "file" or "badger"
	Dir     string `yaml:"dir,omitempty"`
	Every   int    `yaml:"every,omitempty"` // Flush after this many candidate records
}

// GetEffectiveRespectRobots resolves the tri-state robots flag.
func (c *AppConfig) GetEffectiveRespectRobots() bool {
	if c.RespectRobots != nil {
		return *c.RespectRobots
	}
	return true
}

// GetEffectiveLockToSubtree resolves the tri-state subtree lock flag.
func (c *CrawlConfig) GetEffectiveLockToSubtree() bool {
	if c.LockToSubtree != nil {
		return *c.LockToSubtree
	}
	return true
}

// GetEffectiveSectionCandidates resolves the tri-state section candidates flag.
func (c *CrawlConfig) GetEffectiveSectionCandidates() bool {
	if c.SectionCandidates != nil {
		return *c.SectionCandidates
	}
	return true
}

// GetEffectiveMaxBadStreak resolves the optional bad streak tolerance.
func (n *NarrowConfig) GetEffectiveMaxBadStreak() int {
	if n.MaxBadStreak != nil {
		return *n.MaxBadStreak
	}
	return 5
}

// ResolveAPIKey returns the configured key, falling back to the environment variable.
func (c *OracleConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return ""
}

// Load reads and parses a YAML config file. Defaults are applied by Validate.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config '%s': %w", utils.ErrFilesystem, path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %w", utils.ErrConfigValidation, err)
	}
	return &cfg, nil
}
