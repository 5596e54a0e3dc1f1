package config

import (
	"fmt"
	"time"

	"github.com/piratf/kampus-crawler/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = "kampus-crawler/1.0 (+https://github.com/piratf/kampus-crawler)"
	}

	// Concurrency
	if c.Concurrency <= 0 {
		warnings = append(warnings, "concurrency should be > 0, defaulting to 4")
		c.Concurrency = 4
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 2")
		c.MaxRequestsPerHost = 2
	}

	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, setting to 0")
		c.DelayPerHost = 0
	}

	// OutputDir
	if c.OutputDir == "" {
		warnings = append(warnings, "output_dir is empty, defaulting to './output'")
		c.OutputDir = "./output"
	}

	if c.FetchCacheTTL <= 0 {
		c.FetchCacheTTL = 15 * time.Minute
	}

	if c.FallbackAssets <= 0 {
		c.FallbackAssets = 6
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	if c.EntityTimeout < 0 {
		warnings = append(warnings, "entity_timeout cannot be negative, disabling timeout")
		c.EntityTimeout = 0
	}

	warnings = append(warnings, c.Retry.validate()...)
	c.validateHTTPClientSettings()
	warnings = append(warnings, c.Crawl.validate()...)
	c.Render.validate()
	warnings = append(warnings, c.Keywords.validate()...)
	warnings = append(warnings, c.Narrow.validate()...)

	if err := c.Checkpoint.validate(); err != nil {
		return warnings, err
	}

	oracleWarnings, err := c.Oracle.validate()
	warnings = append(warnings, oracleWarnings...)
	if err != nil {
		return warnings, err
	}

	return warnings, nil
}

func (r *RetryConfig) validate() (warnings []string) {
	if r.MaxRetries < 0 {
		warnings = append(warnings, "retry.max_retries cannot be negative, setting to 0")
		r.MaxRetries = 0
	}
	if r.MaxRetries == 0 && r.InitialRetryDelay == 0 {
		r.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if r.MaxRetries > 0 {
		if r.InitialRetryDelay <= 0 {
			r.InitialRetryDelay = 1 * time.Second
		}
		if r.MaxRetryDelay <= 0 {
			r.MaxRetryDelay = 30 * time.Second
		}
	}

	if r.InitialRetryDelay > r.MaxRetryDelay && r.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"retry.initial_retry_delay (%v) > retry.max_retry_delay (%v), using max_retry_delay for initial",
			r.InitialRetryDelay, r.MaxRetryDelay))
		r.InitialRetryDelay = r.MaxRetryDelay
	}
	return warnings
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
	if h.MaxBodyBytes <= 0 {
		h.MaxBodyBytes = 25 << 20
	}
}

func (c *CrawlConfig) validate() (warnings []string) {
	if c.MaxPages <= 0 {
		warnings = append(warnings, "crawl.max_pages should be > 0, defaulting to 80")
		c.MaxPages = 80
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 5
	}
	if c.DepthPenalty <= 0 {
		c.DepthPenalty = 1.0
	}
	if c.PageFloor <= 0 {
		c.PageFloor = 5.0
	}
	if c.MinCandidateScore <= 0 {
		c.MinCandidateScore = 2.0
	}
	if c.StrongSignal <= 0 {
		c.StrongSignal = 4.0
	}
	if c.PageBonusFactor <= 0 {
		c.PageBonusFactor = 0.25
	}
	if c.MaxRoots <= 0 {
		c.MaxRoots = 3
	}
	if c.SubdomainGuesses == nil {
		c.SubdomainGuesses = defaultSubdomainGuesses
	}
	if c.SitemapSeedLimit <= 0 {
		c.SitemapSeedLimit = 20
	}
	if c.SrcsetMaxWidth <= 0 {
		c.SrcsetMaxWidth = 2200
	}
	return warnings
}

func (r *RenderConfig) validate() {
	if r.Timeout <= 0 {
		r.Timeout = 45 * time.Second
	}
	if r.MaxConcurrency <= 0 {
		r.MaxConcurrency = 2
	}
	if r.SettleDelay <= 0 {
		r.SettleDelay = 1500 * time.Millisecond
	}
	if r.MaxExpandClicks <= 0 {
		r.MaxExpandClicks = 12
	}
	if r.MinTextChars <= 0 {
		r.MinTextChars = 900
	}
	if r.PreferLonger <= 1 {
		r.PreferLonger = 1.2
	}
}

func (o *OracleConfig) validate() (warnings []string, err error) {
	if o.BaseURL == "" {
		return warnings, fmt.Errorf("%w: oracle.base_url is required", utils.ErrConfigValidation)
	}
	if len(o.Models) == 0 {
		return warnings, fmt.Errorf("%w: oracle.models needs at least one model", utils.ErrConfigValidation)
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "ORACLE_API_KEY"
	}
	if o.ResolveAPIKey() == "" {
		warnings = append(warnings, fmt.Sprintf("oracle API key is empty (api_key unset and $%s empty)", o.APIKeyEnv))
	}
	if o.Timeout <= 0 {
		o.Timeout = 120 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 6
	}
	if o.InitialRetryDelay <= 0 {
		o.InitialRetryDelay = 2 * time.Second
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 60 * time.Second
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	if o.MaxValidateChars <= 0 {
		o.MaxValidateChars = 12000
	}
	if o.MaxExtractChars <= 0 {
		o.MaxExtractChars = 16000
	}
	if o.MaxValidateTokens <= 0 {
		o.MaxValidateTokens = 4000
	}
	if o.MaxExtractTokens <= 0 {
		o.MaxExtractTokens = 6000
	}
	if o.MaxExtractChunks <= 0 {
		o.MaxExtractChunks = 4
	}
	if o.MaxPDFPages <= 0 {
		o.MaxPDFPages = 15
	}
	if o.MaxPDFChars <= 0 {
		o.MaxPDFChars = 20000
	}
	if o.TokenizerEncoding == "" {
		o.TokenizerEncoding = "cl100k_base"
	}
	if o.ValidatePrompt == "" {
		o.ValidatePrompt = defaultValidatePrompt
	}
	if o.ExtractPrompt == "" {
		o.ExtractPrompt = defaultExtractPrompt
	}
	return warnings, nil
}

func (k *KeywordsConfig) validate() (warnings []string) {
	if len(k.Topic) == 0 {
		k.Topic = defaultTopicKeywords
	}
	if k.Noise == nil {
		k.Noise = defaultNoiseKeywords
	}
	if k.TopicPattern == "" {
		k.TopicPattern = defaultTopicPattern
	}
	if k.ProgramPattern == "" {
		k.ProgramPattern = defaultProgramPattern
	}
	if k.LevelPattern == "" {
		k.LevelPattern = defaultLevelPattern
	}
	if k.MoneyPattern == "" {
		k.MoneyPattern = defaultMoneyPattern
	}
	if len(k.DatePatterns) == 0 {
		k.DatePatterns = defaultDatePatterns
	}
	if len(k.Entry) == 0 {
		k.Entry = defaultEntryKeywords
	}
	if k.HardReject == nil {
		k.HardReject = defaultHardReject
	}
	if k.HardRejectExempt == nil {
		k.HardRejectExempt = defaultHardRejectExempt
	}
	if len(k.LogoWords) == 0 {
		k.LogoWords = defaultLogoWords
	}
	if k.AllowedAssetHosts == nil {
		k.AllowedAssetHosts = defaultAllowedAssetHosts
	}
	if k.TopicWeight <= 0 {
		k.TopicWeight = 2.0
	}
	if k.NoiseWeight <= 0 {
		k.NoiseWeight = 1.5
	}

	// Patterns are compiled later; surface bad ones early as warnings and fall back.
	for name, p := range map[string]*string{
		"topic_pattern":   &k.TopicPattern,
		"program_pattern": &k.ProgramPattern,
		"level_pattern":   &k.LevelPattern,
		"money_pattern":   &k.MoneyPattern,
	} {
		if _, err := utils.CompilePatterns("keywords."+name, *p); err != nil {
			warnings = append(warnings, fmt.Sprintf("%v, using default", err))
			*p = defaultPatternFor(name)
		}
	}
	if _, err := utils.CompilePatterns("keywords.date_patterns", k.DatePatterns...); err != nil {
		warnings = append(warnings, fmt.Sprintf("%v, using defaults", err))
		k.DatePatterns = defaultDatePatterns
	}
	return warnings
}

func defaultPatternFor(name string) string {
	switch name {
	case "topic_pattern":
		return defaultTopicPattern
	case "program_pattern":
		return defaultProgramPattern
	case "level_pattern":
		return defaultLevelPattern
	}
	return defaultMoneyPattern
}

func (n *NarrowConfig) validate() (warnings []string) {
	if n.MinGood <= 0 {
		n.MinGood = 8
	}
	if n.MaxBadStreak != nil && *n.MaxBadStreak < 0 {
		warnings = append(warnings, fmt.Sprintf("narrow.max_bad_streak should be >= 0, got %d, using default", *n.MaxBadStreak))
		n.MaxBadStreak = nil
	}
	if len(n.GoodFields) == 0 {
		n.GoodFields = defaultGoodFields
	}
	if n.NumericFields == nil {
		n.NumericFields = defaultNumericFields
	}
	if n.DateField == "" {
		n.DateField = "end_date"
	}
	return warnings
}

func (c *CheckpointConfig) validate() error {
	switch c.Backend {
	case "":
		c.Backend = "file"
	case "file", "badger":
	default:
		return fmt.Errorf("%w: checkpoint.backend must be 'file' or 'badger', got '%s'", utils.ErrConfigValidation, c.Backend)
	}
	if c.Dir == "" {
		c.Dir = "./checkpoints"
	}
	if c.Every <= 0 {
		c.Every = 1
	}
	return nil
}
