package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/piratf/kampus-crawler/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalConfig returns a config that passes the fatal checks.
func minimalConfig() AppConfig {
	return AppConfig{
		Oracle: OracleConfig{
			BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",
			APIKey:  "test-key",
			Models:  []string{"gemini-2.5-flash", "gemini-2.0-flash"},
		},
	}
}

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := minimalConfig()
	warnings, err := cfg.Validate()

	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 2, cfg.MaxRequestsPerHost)
	assert.Equal(t, "./output", cfg.OutputDir)
	assert.Equal(t, 6, cfg.FallbackAssets)
	assert.Equal(t, 15*time.Minute, cfg.FetchCacheTTL)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.Retry.InitialRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.SemaphoreAcquireTimeout)
	assert.True(t, cfg.GetEffectiveRespectRobots())

	// HTTP client defaults
	assert.Equal(t, 45*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, 100, cfg.HTTPClientSettings.MaxIdleConns)
	assert.Equal(t, 2, cfg.HTTPClientSettings.MaxIdleConnsPerHost)
	assert.Equal(t, 15*time.Second, cfg.HTTPClientSettings.DialerTimeout)
	assert.Equal(t, int64(25<<20), cfg.HTTPClientSettings.MaxBodyBytes)

	// Crawl defaults
	assert.Equal(t, 80, cfg.Crawl.MaxPages)
	assert.Equal(t, 5, cfg.Crawl.MaxDepth)
	assert.Equal(t, 3, cfg.Crawl.MaxRoots)
	assert.Equal(t, 2200, cfg.Crawl.SrcsetMaxWidth)
	assert.Contains(t, cfg.Crawl.SubdomainGuesses, "pmb")
	assert.True(t, cfg.Crawl.GetEffectiveLockToSubtree())
	assert.True(t, cfg.Crawl.GetEffectiveSectionCandidates())

	// Render defaults
	assert.Equal(t, 900, cfg.Render.MinTextChars)
	assert.InDelta(t, 1.2, cfg.Render.PreferLonger, 1e-9)

	// Oracle defaults
	assert.Equal(t, "ORACLE_API_KEY", cfg.Oracle.APIKeyEnv)
	assert.Equal(t, 60*time.Second, cfg.Oracle.MaxRetryDelay)
	assert.Equal(t, 12000, cfg.Oracle.MaxValidateChars)
	assert.Equal(t, 15, cfg.Oracle.MaxPDFPages)
	assert.Equal(t, 20000, cfg.Oracle.MaxPDFChars)
	assert.Equal(t, 16000, cfg.Oracle.MaxExtractChars)
	assert.Equal(t, "cl100k_base", cfg.Oracle.TokenizerEncoding)
	assert.NotEmpty(t, cfg.Oracle.ValidatePrompt)

	// Keyword defaults
	assert.Contains(t, cfg.Keywords.Topic, "ukt")
	assert.Contains(t, cfg.Keywords.AllowedAssetHosts, "drive.google.com")
	assert.Equal(t, []string{"jadwal", "timeline"}, cfg.Keywords.HardRejectExempt)
	assert.InDelta(t, 2.0, cfg.Keywords.TopicWeight, 1e-9)
	assert.InDelta(t, 1.5, cfg.Keywords.NoiseWeight, 1e-9)

	// Narrow defaults
	assert.Equal(t, 8, cfg.Narrow.MinGood)
	assert.Nil(t, cfg.Narrow.MaxBadStreak)
	assert.Equal(t, 5, cfg.Narrow.GetEffectiveMaxBadStreak())

	// Checkpoint defaults
	assert.Equal(t, "file", cfg.Checkpoint.Backend)
	assert.Equal(t, 1, cfg.Checkpoint.Every)

	assert.True(t, containsWarning(warnings, "concurrency should be > 0"))
	assert.True(t, containsWarning(warnings, "output_dir is empty"))
	assert.True(t, containsWarning(warnings, "crawl.max_pages should be > 0"))
}

func TestAppConfig_Validate_PreservesValues(t *testing.T) {
	cfg := minimalConfig()
	cfg.Concurrency = 8
	cfg.OutputDir = "/out"
	cfg.Crawl.MaxPages = 200
	two := 2
	cfg.Narrow = NarrowConfig{MinGood: 3, MaxBadStreak: &two}
	cfg.Keywords.Topic = []string{"jalur pendaftaran", "snbp"}

	warnings, err := cfg.Validate()
	require.NoError(t, err)

	assert.False(t, containsWarning(warnings, "concurrency"))
	assert.False(t, containsWarning(warnings, "output_dir"))
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "/out", cfg.OutputDir)
	assert.Equal(t, 200, cfg.Crawl.MaxPages)
	assert.Equal(t, 3, cfg.Narrow.MinGood)
	assert.Equal(t, 2, cfg.Narrow.GetEffectiveMaxBadStreak())
	assert.Equal(t, []string{"jalur pendaftaran", "snbp"}, cfg.Keywords.Topic)
}

func TestNarrowConfig_NegativeBadStreak(t *testing.T) {
	cfg := minimalConfig()
	neg := -1
	cfg.Narrow.MaxBadStreak = &neg

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "narrow.max_bad_streak should be >= 0"))
	assert.Equal(t, 5, cfg.Narrow.GetEffectiveMaxBadStreak())
}

func TestAppConfig_Validate_OracleRequired(t *testing.T) {
	tests := []struct {
		name   string
		oracle OracleConfig
		errMsg string
	}{
		{"missing base url", OracleConfig{Models: []string{"m"}}, "base_url"},
		{"missing models", OracleConfig{BaseURL: "http://x"}, "models"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Oracle: tt.oracle}
			_, err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, utils.ErrConfigValidation))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestAppConfig_Validate_APIKeyFromEnv(t *testing.T) {
	t.Setenv("KAMPUS_TEST_KEY", "from-env")
	cfg := minimalConfig()
	cfg.Oracle.APIKey = ""
	cfg.Oracle.APIKeyEnv = "KAMPUS_TEST_KEY"

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Oracle.ResolveAPIKey())
	assert.False(t, containsWarning(warnings, "oracle API key is empty"))
}

func TestAppConfig_Validate_EmptyAPIKeyWarns(t *testing.T) {
	cfg := minimalConfig()
	cfg.Oracle.APIKey = ""
	cfg.Oracle.APIKeyEnv = "KAMPUS_TEST_KEY_UNSET_XYZ"

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "oracle API key is empty"))
}

func TestAppConfig_Validate_BadCheckpointBackend(t *testing.T) {
	cfg := minimalConfig()
	cfg.Checkpoint.Backend = "redis"

	_, err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}

func TestAppConfig_Validate_RetryDelays(t *testing.T) {
	cfg := minimalConfig()
	cfg.Retry = RetryConfig{MaxRetries: 2, InitialRetryDelay: 10 * time.Second, MaxRetryDelay: 5 * time.Second}

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Retry.InitialRetryDelay)
	assert.True(t, containsWarning(warnings, "initial_retry_delay"))
}

func TestAppConfig_Validate_InvalidPatternFallsBack(t *testing.T) {
	cfg := minimalConfig()
	cfg.Keywords.MoneyPattern = "(unclosed"

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, defaultMoneyPattern, cfg.Keywords.MoneyPattern)
	assert.True(t, containsWarning(warnings, "keywords.money_pattern: invalid pattern"))
}

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
