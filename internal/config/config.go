// Package config provides configuration loading, validation and hot reload.
// Configuration comes from a YAML file and XLING_-prefixed environment
// variables via Viper; handlers read the current config through a Live
// pointer that the watcher swaps atomically on file change.
package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Load balancing strategy names accepted in proxy.load_balance.
const (
	StrategyFailover   = "failover"
	StrategyRoundRobin = "round-robin"
	StrategyRandom     = "random"
	StrategyWeighted   = "weighted"
)

// Tool schema formats a provider accepts.
const (
	ToolFormatOpenAI    = "openai"
	ToolFormatAnthropic = "anthropic"
)

// Config is the validated root configuration object the gateway core reads.
type Config struct {
	// Providers is the ordered list of upstream providers. Config order
	// breaks priority ties during failover selection.
	Providers []Provider `json:"providers" mapstructure:"providers"`

	// DefaultModel is used when a request carries no model, and as the
	// final model-mapping fallback.
	DefaultModel string `json:"default_model" mapstructure:"default_model"`

	// Proxy holds gateway server settings.
	Proxy ProxyConfig `json:"proxy" mapstructure:"proxy"`

	// Logging holds logging settings.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// Provider is one upstream API endpoint plus its credentials.
type Provider struct {
	// Name uniquely identifies the provider.
	Name string `json:"name" mapstructure:"name"`

	// BaseURL is the upstream endpoint; trailing slashes are stripped
	// during normalization.
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// Models lists supported model identifiers. Matching is
	// bidirectional-prefix: a provider model and a requested model match
	// when either is a prefix of the other.
	Models []string `json:"models" mapstructure:"models"`

	// APIKeys is the ordered key pool rotated on auth/rate-limit failures.
	APIKeys []string `json:"api_keys" mapstructure:"api_keys"`

	// Priority orders providers for failover; lower is preferred.
	// Nil means lowest preference.
	Priority *int `json:"priority,omitempty" mapstructure:"priority"`

	// Weight biases weighted sampling. Zero is treated as 1.
	Weight int `json:"weight,omitempty" mapstructure:"weight"`

	// TimeoutMs bounds a single upstream call. Zero means 60000.
	TimeoutMs int `json:"timeout_ms,omitempty" mapstructure:"timeout_ms"`

	// Headers are static headers added to every upstream request.
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"`

	// ToolFormat selects the tool schema dialect the provider expects.
	// Empty means "openai".
	ToolFormat string `json:"tool_format,omitempty" mapstructure:"tool_format"`
}

// EffectiveWeight returns the sampling weight with the default applied.
func (p *Provider) EffectiveWeight() int {
	if p.Weight <= 0 {
		return 1
	}
	return p.Weight
}

// EffectiveTimeoutMs returns the upstream timeout with the default applied.
func (p *Provider) EffectiveTimeoutMs() int {
	if p.TimeoutMs <= 0 {
		return 60000
	}
	return p.TimeoutMs
}

// PriorityValue returns the priority for ordering; unset sorts last.
func (p *Provider) PriorityValue() int {
	if p.Priority == nil {
		return int(^uint(0) >> 1)
	}
	return *p.Priority
}

// Supports reports whether the provider serves the model using
// bidirectional-prefix matching.
func (p *Provider) Supports(model string) bool {
	if model == "" {
		return false
	}
	for _, m := range p.Models {
		if strings.HasPrefix(m, model) || strings.HasPrefix(model, m) {
			return true
		}
	}
	return false
}

// ProxyConfig holds the gateway server settings.
type ProxyConfig struct {
	// Host is the bind address.
	Host string `json:"host" mapstructure:"host"`

	// Port is the listen port.
	Port int `json:"port" mapstructure:"port"`

	// AccessKey, when set, is required on every non-public endpoint as a
	// bearer token, X-API-Key header or xling_access cookie.
	AccessKey string `json:"access_key,omitempty" mapstructure:"access_key"`

	// LoadBalance selects the provider selection strategy.
	LoadBalance string `json:"load_balance" mapstructure:"load_balance"`

	// ModelMapping rewrites requested models. Patterns are exact names,
	// "prefix*" wildcards or the catch-all "*".
	ModelMapping map[string]string `json:"model_mapping,omitempty" mapstructure:"model_mapping"`

	// PassthroughResponsesAPI lists model patterns (exact or "prefix*")
	// whose Responses API requests are forwarded without translation.
	PassthroughResponsesAPI []string `json:"passthrough_responses_api,omitempty" mapstructure:"passthrough_responses_api"`

	// KeyRotation controls rotation behavior on classified errors.
	KeyRotation KeyRotationConfig `json:"key_rotation" mapstructure:"key_rotation"`

	// Records controls the audit record store.
	Records RecordsConfig `json:"records" mapstructure:"records"`
}

// KeyRotationConfig controls per-provider key rotation.
type KeyRotationConfig struct {
	// Enabled turns rotation and cross-provider retries on. Nil means true.
	Enabled *bool `json:"enabled,omitempty" mapstructure:"enabled"`

	// OnError rotates the key when a classified error requests it.
	// Nil means true.
	OnError *bool `json:"on_error,omitempty" mapstructure:"on_error"`

	// CooldownMs is how long a rotated-away key stays ineligible.
	// Zero means 60000.
	CooldownMs int `json:"cooldown_ms,omitempty" mapstructure:"cooldown_ms"`
}

// RotationEnabled returns whether rotation is on, defaulting to true.
func (k *KeyRotationConfig) RotationEnabled() bool {
	return k.Enabled == nil || *k.Enabled
}

// RotateOnError returns whether errors trigger rotation, defaulting to true.
func (k *KeyRotationConfig) RotateOnError() bool {
	return k.OnError == nil || *k.OnError
}

// EffectiveCooldownMs returns the cooldown with the default applied.
func (k *KeyRotationConfig) EffectiveCooldownMs() int {
	if k.CooldownMs <= 0 {
		return 60000
	}
	return k.CooldownMs
}

// RecordsConfig controls the bounded audit record store.
type RecordsConfig struct {
	// Max bounds the in-memory ring. Zero means 200.
	Max int `json:"max,omitempty" mapstructure:"max"`

	// CaptureBodies enables body previews in records.
	CaptureBodies bool `json:"capture_bodies" mapstructure:"capture_bodies"`

	// MaxBodyBytes bounds each body preview. Zero means 8000, or 256000
	// when the web UI is enabled.
	MaxBodyBytes int `json:"max_body_bytes,omitempty" mapstructure:"max_body_bytes"`

	// UI enables the web console, which raises the preview bound.
	UI bool `json:"ui" mapstructure:"ui"`
}

// EffectiveMax returns the ring bound with the default applied.
func (r *RecordsConfig) EffectiveMax() int {
	if r.Max <= 0 {
		return 200
	}
	return r.Max
}

// EffectiveMaxBodyBytes returns the preview bound with defaults applied.
func (r *RecordsConfig) EffectiveMaxBodyBytes() int {
	if r.MaxBodyBytes > 0 {
		return r.MaxBodyBytes
	}
	if r.UI {
		return 256000
	}
	return 8000
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `json:"level" mapstructure:"level"`
}

// Validate validates the configuration and collects every violation.
func (c *Config) Validate() error {
	var validationErrors []string

	if len(c.Providers) == 0 {
		validationErrors = append(validationErrors, "providers cannot be empty, at least one provider is required")
	}

	seen := make(map[string]struct{})
	for i, p := range c.Providers {
		if p.Name == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].name is required", i))
		} else if _, dup := seen[p.Name]; dup {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].name '%s' is not unique", i, p.Name))
		} else {
			seen[p.Name] = struct{}{}
		}

		if p.BaseURL == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].base_url is required", i))
		} else if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].base_url '%s' is not a valid URL", i, p.BaseURL))
		}

		if len(p.Models) == 0 {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].models cannot be empty", i))
		}
		if len(p.APIKeys) == 0 {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].api_keys cannot be empty", i))
		}
		if p.Priority != nil && *p.Priority < 0 {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].priority must be non-negative", i))
		}
		if p.TimeoutMs < 0 {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].timeout_ms must be non-negative", i))
		}
		if p.ToolFormat != "" && p.ToolFormat != ToolFormatOpenAI && p.ToolFormat != ToolFormatAnthropic {
			validationErrors = append(validationErrors, fmt.Sprintf(
				"providers[%d].tool_format '%s' is invalid, must be one of: openai, anthropic", i, p.ToolFormat))
		}
	}

	if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
		validationErrors = append(validationErrors, "proxy.port must be between 1 and 65535")
	}

	if c.Proxy.LoadBalance != "" && !isValidStrategy(c.Proxy.LoadBalance) {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"proxy.load_balance '%s' is invalid, must be one of: failover, round-robin, random, weighted",
			c.Proxy.LoadBalance))
	}

	if c.Logging.Level != "" && !isValidLogLevel(c.Logging.Level) {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"logging.level '%s' is invalid, must be one of: debug, info, warn, error",
			c.Logging.Level))
	}

	if len(validationErrors) > 0 {
		return &ValidationError{Errors: validationErrors}
	}

	return nil
}

// Normalize applies in-place cleanups that validation does not reject:
// trailing slashes on base URLs are stripped and the default strategy is
// filled in.
func (c *Config) Normalize() {
	for i := range c.Providers {
		c.Providers[i].BaseURL = strings.TrimRight(c.Providers[i].BaseURL, "/")
	}
	if c.Proxy.LoadBalance == "" {
		c.Proxy.LoadBalance = StrategyFailover
	}
}

// ProviderByName returns the named provider, if configured.
func (c *Config) ProviderByName(name string) (*Provider, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// isValidStrategy checks if the load balance strategy is valid.
func isValidStrategy(strategy string) bool {
	switch strategy {
	case StrategyFailover, StrategyRoundRobin, StrategyRandom, StrategyWeighted:
		return true
	default:
		return false
	}
}

// isValidLogLevel checks if the log level is valid.
func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
