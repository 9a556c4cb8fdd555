package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAcceptsComments(t *testing.T) {
	doc := []byte(`{
		// fast model first
		"llm": {
			"primary": "google/gemini-2.0-flash",
			"session_limit_usd": 0.5, /* per session */
			"cache_ttl": "10m",
			"pricing": {"ollama/llama3": {"input": 0, "output": 0}},
		},
		"sessions": {"backend": "file"},
	}`)

	cfg, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-2.0-flash", cfg.LLM.Primary)
	assert.Equal(t, DefaultFallbackModel, cfg.LLM.Fallback)
	assert.InDelta(t, 0.5, cfg.LLM.SessionLimitUSD, 1e-9)
	assert.Equal(t, 10*time.Minute, cfg.LLM.CacheTTL.Std())
	assert.Equal(t, DefaultSessionsFile, cfg.Sessions.Path)
	assert.Equal(t, DefaultMaxToolRounds, cfg.Orchestrator.MaxToolRounds)
}

func TestParseRejectsBadBackend(t *testing.T) {
	_, err := Parse([]byte(`{"sessions": {"backend": "redis"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxie.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPrimaryModel, cfg.LLM.Primary)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.LLM, again.LLM)
	assert.Equal(t, DefaultPrimaryModel, Get().LLM.Primary)
}

func TestParseModelID(t *testing.T) {
	tests := []struct {
		id       string
		provider string
		model    string
		wantErr  bool
	}{
		{"google/gemini-2.0-flash", ProviderGoogle, "gemini-2.0-flash", false},
		{"gemini/gemini-1.5-flash", ProviderGoogle, "gemini-1.5-flash", false},
		{"anthropic/claude-sonnet-4-5", ProviderAnthropic, "claude-sonnet-4-5", false},
		{"claude-sonnet-4-5", ProviderAnthropic, "claude-sonnet-4-5", false},
		{"llama3.1", ProviderOllama, "llama3.1", false},
		{"/model", "", "", true},
		{"mystery", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			p, m, err := ParseModelID(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, p)
			assert.Equal(t, tt.model, m)
		})
	}
}

func TestPricing(t *testing.T) {
	tests := []struct {
		id    string
		price Price
	}{
		{"google/gemini-2.0-flash", Price{0.10, 0.40}},
		{"google/gemini-3-flash-preview", Price{0.10, 0.40}},
		{"anthropic/claude-sonnet-4-5", Price{3.0, 15.0}},
		{"anthropic/claude-sonnet-9", Price{3.0, 15.0}},
		{"acme/unknown", UnknownPrice},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.price, PriceFor(tt.id, nil), tt.id)
	}

	overrides := map[string]Price{"acme/unknown": {Input: 2, Output: 4}}
	assert.Equal(t, Price{2, 4}, PriceFor("acme/unknown", overrides))

	cost := CalculateCost("anthropic/claude-sonnet-4-5", 1_000_000, 1_000_000, nil)
	assert.InDelta(t, 18.0, cost, 1e-9)
}

func TestGetAPIKeyPrefersSecrets(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "env-key")
	SetDecryptedSecrets(map[string]string{EnvAnthropicAPIKey: "file-key"})
	t.Cleanup(func() { SetDecryptedSecrets(nil) })

	key, err := GetAPIKey(ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "file-key", key)

	t.Setenv(EnvGoogleAPIKey, "your-gemini-api-key")
	assert.False(t, HasCredentials(ProviderGoogle))
}

func TestRateLimitOverridesMergeWithDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{"llm": {"resilience": {"rate_limit": {
		"openai": {"tokens_per_minute": 1000, "max_concurrency": 1, "max_wait": "2s"},
	}}}}`))
	require.NoError(t, err)

	rl := cfg.LLM.Resilience.RateLimit
	assert.Equal(t, RateLimitConfig{TokensPerMinute: 1000, MaxConcurrency: 1, MaxWait: Duration(2 * time.Second)}, rl[ProviderOpenAI])
	assert.Equal(t, 40000, rl[ProviderAnthropic].TokensPerMinute)
	_, limited := rl[ProviderOllama]
	assert.False(t, limited, "local models are not rate limited by default")

	_, err = Parse([]byte(`{"llm": {"resilience": {"rate_limit": {"google": {"max_concurrency": -1}}}}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google")
}
