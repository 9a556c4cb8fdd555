package config

import (
	"fmt"
	"os"
	"strings"
)

// Supported providers.
const (
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
)

// Provider credential env vars.
const (
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"

	DefaultOllamaHost = "http://localhost:11434"
)

// ModelInfo carries pricing and limits for a model.
type ModelInfo struct {
	Provider         string
	InputCPM         float64 // USD per million input tokens
	OutputCPM        float64 // USD per million output tokens
	MaxContextTokens int
	MaxOutputTokens  int
}

// UnknownPrice applies to any model without a known or configured price.
//
//nolint:gochecknoglobals // static pricing default
var UnknownPrice = Price{Input: 1.0, Output: 1.0}

// KnownModels maps model names (without provider prefix) to metadata.
//
//nolint:gochecknoglobals // static model registry
var KnownModels = map[string]ModelInfo{
	"gemini-2.0-flash":      {Provider: ProviderGoogle, InputCPM: 0.10, OutputCPM: 0.40, MaxContextTokens: 1048576, MaxOutputTokens: 8192},
	"gemini-2.5-flash":      {Provider: ProviderGoogle, InputCPM: 0.10, OutputCPM: 0.40, MaxContextTokens: 1048576, MaxOutputTokens: 65536},
	"gemini-1.5-flash":      {Provider: ProviderGoogle, InputCPM: 0.10, OutputCPM: 0.40, MaxContextTokens: 1048576, MaxOutputTokens: 8192},
	"claude-sonnet-4-5":     {Provider: ProviderAnthropic, InputCPM: 3.0, OutputCPM: 15.0, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	"claude-3-5-sonnet":     {Provider: ProviderAnthropic, InputCPM: 3.0, OutputCPM: 15.0, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	"gpt-4o-mini":           {Provider: ProviderOpenAI, InputCPM: 0.15, OutputCPM: 0.60, MaxContextTokens: 128000, MaxOutputTokens: 16384},
	"gpt-4.1":               {Provider: ProviderOpenAI, InputCPM: 2.0, OutputCPM: 8.0, MaxContextTokens: 1047576, MaxOutputTokens: 32768},
	"text-embedding-3-small": {Provider: ProviderOpenAI, InputCPM: 0.02, OutputCPM: 0, MaxContextTokens: 8191},
}

// familyPrices covers model families so new versions price correctly.
//
//nolint:gochecknoglobals // static pricing rules
var familyPrices = []struct {
	all   []string
	price Price
}{
	{[]string{"gemini", "flash"}, Price{Input: 0.10, Output: 0.40}},
	{[]string{"claude", "sonnet"}, Price{Input: 3.0, Output: 15.0}},
}

// ProviderPattern infers a provider from a bare model name prefix.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

//nolint:gochecknoglobals // static inference rules
var ProviderPatterns = []ProviderPattern{
	{"gemini", ProviderGoogle},
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"phi", ProviderOllama},
}

// ParseModelID splits "<provider>/<model>". A bare model name is accepted when
// its provider can be inferred.
func ParseModelID(id string) (provider, model string, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", fmt.Errorf("empty model id")
	}
	if p, m, ok := strings.Cut(id, "/"); ok {
		if p == "" || m == "" {
			return "", "", fmt.Errorf("invalid model id %q: want <provider>/<model>", id)
		}
		if p == "gemini" {
			p = ProviderGoogle
		}
		return p, m, nil
	}
	if info, ok := KnownModels[id]; ok {
		return info.Provider, id, nil
	}
	for _, pat := range ProviderPatterns {
		if strings.HasPrefix(id, pat.Prefix) {
			return pat.Provider, id, nil
		}
	}
	return "", "", fmt.Errorf("unknown model %q: no provider prefix and no pattern match", id)
}

// PriceFor resolves the per-million-token price for a model id. Configured
// overrides win over known models, which win over family rules.
func PriceFor(modelID string, overrides map[string]Price) Price {
	if p, ok := overrides[modelID]; ok {
		return p
	}
	_, model, err := ParseModelID(modelID)
	if err != nil {
		model = modelID
	}
	if p, ok := overrides[model]; ok {
		return p
	}
	if info, ok := KnownModels[model]; ok {
		return Price{Input: info.InputCPM, Output: info.OutputCPM}
	}
	lower := strings.ToLower(model)
	for _, fam := range familyPrices {
		match := true
		for _, part := range fam.all {
			if !strings.Contains(lower, part) {
				match = false
				break
			}
		}
		if match {
			return fam.price
		}
	}
	return UnknownPrice
}

// CalculateCost returns the USD cost of a call.
func CalculateCost(modelID string, promptTokens, completionTokens int, overrides map[string]Price) float64 {
	p := PriceFor(modelID, overrides)
	return float64(promptTokens)*p.Input/1_000_000.0 + float64(completionTokens)*p.Output/1_000_000.0
}

// GetAPIKey returns the credential for provider from the secrets file or env.
// For Ollama it returns the host URL.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderOllama:
		if host, err := GetSecret(EnvOllamaHost); err == nil && host != "" {
			return host, nil
		}
		return DefaultOllamaHost, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}
	key, err := GetSecret(envVar)
	if err != nil || isPlaceholderKey(key) {
		return "", fmt.Errorf("API key not found: %s not set in secrets file or environment", envVar)
	}
	return key, nil
}

// HasCredentials reports whether provider can be called. Ollama only counts
// when OLLAMA_HOST is set explicitly.
func HasCredentials(provider string) bool {
	if provider == ProviderOllama {
		host, err := GetSecret(EnvOllamaHost)
		return err == nil && host != ""
	}
	_, err := GetAPIKey(provider)
	return err == nil
}

func isPlaceholderKey(key string) bool {
	switch strings.TrimSpace(key) {
	case "", "your-gemini-api-key", "your-key-here", "changeme":
		return true
	}
	return false
}

// lookupEnv is swapped in tests.
//
//nolint:gochecknoglobals // test seam
var lookupEnv = os.Getenv
