// Package router maps requested models to effective models and narrows the
// provider set for a mapped model.
package router

import (
	"strings"

	"github.com/xling-dev/xling/internal/config"
)

// MapModel resolves the model a request should be forwarded with.
//
// Resolution order:
//  1. empty model -> defaultModel
//  2. exact match in mapping
//  3. longest matching "prefix*" wildcard in mapping
//  4. any provider supports the model -> keep it
//  5. mapping's "*" catch-all
//  6. defaultModel
//  7. the original model
//
// Step 4 deliberately runs before the catch-all: a provider-supported model
// is kept even when a "*" mapping exists.
func MapModel(requested string, mapping map[string]string, defaultModel string, providers []config.Provider) string {
	if requested == "" {
		return defaultModel
	}

	if target, ok := mapping[requested]; ok {
		return target
	}

	if target, ok := wildcardMatch(requested, mapping); ok {
		return target
	}

	for i := range providers {
		if providers[i].Supports(requested) {
			return requested
		}
	}

	if target, ok := mapping["*"]; ok {
		return target
	}

	if defaultModel != "" {
		return defaultModel
	}

	return requested
}

// wildcardMatch finds the longest "prefix*" pattern matching the model.
// The bare "*" catch-all is not considered here.
func wildcardMatch(model string, mapping map[string]string) (string, bool) {
	bestLen := -1
	var bestTarget string
	for pattern, target := range mapping {
		if pattern == "*" || !strings.HasSuffix(pattern, "*") {
			continue
		}
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			bestTarget = target
		}
	}
	return bestTarget, bestLen >= 0
}

// Candidates resolves the provider set for an effective model.
//
// A model of the form "provider,model" pins that provider directly and the
// model part is what gets forwarded. Otherwise providers supporting the
// model are returned; when none support it the entire provider set is
// handed to the load balancer.
func Candidates(model string, cfg *config.Config) (effective string, candidates []*config.Provider) {
	if name, rest, ok := strings.Cut(model, ","); ok {
		if p, found := cfg.ProviderByName(name); found {
			return rest, []*config.Provider{p}
		}
	}

	for i := range cfg.Providers {
		if cfg.Providers[i].Supports(model) {
			candidates = append(candidates, &cfg.Providers[i])
		}
	}

	if len(candidates) == 0 {
		for i := range cfg.Providers {
			candidates = append(candidates, &cfg.Providers[i])
		}
	}

	return model, candidates
}
