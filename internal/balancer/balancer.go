// Package balancer owns per-provider and per-key health state and selects
// the provider and key for each upstream attempt. State is process-local;
// nothing is persisted or coordinated across instances.
package balancer

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/xling-dev/xling/internal/classify"
	"github.com/xling-dev/xling/internal/config"
)

// ErrNoProviders is returned when the candidate set is empty.
var ErrNoProviders = errors.New("no candidate providers")

// ErrNoKeysAvailable is returned when every key of a provider remains in
// cooldown.
var ErrNoKeysAvailable = errors.New("no keys available for provider")

// DefaultCooldown is how long a rotated-away key stays ineligible.
const DefaultCooldown = 60 * time.Second

// Balancer tracks provider and key health and implements the selection
// strategies. Safe for concurrent use; a single mutex guards all state so
// key selection always observes its own cooldown resets.
type Balancer struct {
	mu        sync.Mutex
	providers map[string]*providerState
	cursor    int
	cooldown  time.Duration
	now       func() time.Time
}

// providerState is the runtime health state of one configured provider.
type providerState struct {
	healthy         bool
	currentKeyIndex int
	failedKeys      map[int]struct{}
	lastError       string
	lastErrorTime   time.Time
	requestCount    int64
	errorCount      int64
	keys            []*keyState
}

// keyState is the runtime health state of one API key.
type keyState struct {
	healthy       bool
	lastUsed      time.Time
	lastError     string
	lastErrorTime time.Time
	cooldownUntil time.Time
}

// Option is a functional option for configuring a Balancer.
type Option func(*Balancer)

// WithCooldown sets the key cooldown duration.
func WithCooldown(d time.Duration) Option {
	return func(b *Balancer) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock sets the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Balancer) {
		b.now = now
	}
}

// New creates a Balancer.
func New(opts ...Option) *Balancer {
	b := &Balancer{
		providers: make(map[string]*providerState),
		cooldown:  DefaultCooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetCooldown updates the key cooldown, applied to subsequent errors.
// Called when the configuration is hot-reloaded.
func (b *Balancer) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	b.cooldown = d
	b.mu.Unlock()
}

// state returns the runtime state for a provider, creating it on first
// sight and resizing the key list if a reload changed the pool.
func (b *Balancer) state(p *config.Provider) *providerState {
	ps, ok := b.providers[p.Name]
	if !ok {
		ps = &providerState{
			healthy:    true,
			failedKeys: make(map[int]struct{}),
		}
		b.providers[p.Name] = ps
	}
	for len(ps.keys) < len(p.APIKeys) {
		ps.keys = append(ps.keys, &keyState{healthy: true})
	}
	if len(ps.keys) > len(p.APIKeys) {
		ps.keys = ps.keys[:len(p.APIKeys)]
		if ps.currentKeyIndex >= len(p.APIKeys) {
			ps.currentKeyIndex = 0
		}
	}
	return ps
}

// keyAvailable reports whether a key can be handed out right now.
// A key is available iff it is healthy or its cooldown has elapsed.
func (b *Balancer) keyAvailable(ks *keyState) bool {
	return ks.healthy || !b.now().Before(ks.cooldownUntil)
}

// providerAvailable reports whether the provider has at least one
// available key.
func (b *Balancer) providerAvailable(p *config.Provider) bool {
	ps := b.state(p)
	for _, ks := range ps.keys {
		if b.keyAvailable(ks) {
			return true
		}
	}
	return false
}

// SelectProvider picks a provider from the candidate set per the strategy.
// When no candidate has an available key it falls back to the recovery
// path, which resets the most-preferred provider's keys to guarantee
// forward progress at the cost of retrying a known-bad provider.
func (b *Balancer) SelectProvider(candidates []*config.Provider, strategy string) (*config.Provider, error) {
	if len(candidates) == 0 {
		return nil, ErrNoProviders
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	available := make([]*config.Provider, 0, len(candidates))
	for _, p := range candidates {
		if b.providerAvailable(p) {
			available = append(available, p)
		}
	}

	if len(available) == 0 {
		return b.recover(candidates), nil
	}

	switch strategy {
	case config.StrategyRoundRobin:
		p := available[b.cursor%len(available)]
		b.cursor++
		return p, nil
	case config.StrategyRandom:
		return available[rand.Intn(len(available))], nil
	case config.StrategyWeighted:
		return pickWeighted(available), nil
	default: // failover
		return pickFailover(available), nil
	}
}

// pickFailover returns the available provider with the smallest priority,
// ties broken by config order.
func pickFailover(available []*config.Provider) *config.Provider {
	best := available[0]
	for _, p := range available[1:] {
		if p.PriorityValue() < best.PriorityValue() {
			best = p
		}
	}
	return best
}

// pickWeighted samples proportionally to provider weight.
func pickWeighted(available []*config.Provider) *config.Provider {
	total := 0
	for _, p := range available {
		total += p.EffectiveWeight()
	}
	n := rand.Intn(total)
	for _, p := range available {
		n -= p.EffectiveWeight()
		if n < 0 {
			return p
		}
	}
	return available[len(available)-1]
}

// recover picks the provider with the smallest priority (ties broken by
// oldest lastErrorTime), resets all its keys to healthy, clears its failed
// set and returns it. Deliberately resets keys that may still be bad:
// availability wins over remembering a persistent auth failure.
func (b *Balancer) recover(candidates []*config.Provider) *config.Provider {
	best := candidates[0]
	bestState := b.state(best)
	for _, p := range candidates[1:] {
		ps := b.state(p)
		if p.PriorityValue() < best.PriorityValue() ||
			(p.PriorityValue() == best.PriorityValue() && ps.lastErrorTime.Before(bestState.lastErrorTime)) {
			best, bestState = p, ps
		}
	}

	for _, ks := range bestState.keys {
		ks.healthy = true
		ks.cooldownUntil = time.Time{}
	}
	bestState.failedKeys = make(map[int]struct{})
	bestState.currentKeyIndex = 0
	bestState.healthy = true

	return best
}

// SelectKey returns the index and value of the next usable key for the
// provider. Scanning starts at currentKeyIndex and wraps; a key whose
// cooldown has elapsed is reset to healthy before being returned.
func (b *Balancer) SelectKey(p *config.Provider) (int, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.state(p)
	n := len(ps.keys)
	if n == 0 {
		return 0, "", ErrNoKeysAvailable
	}

	for i := 0; i < n; i++ {
		idx := (ps.currentKeyIndex + i) % n
		ks := ps.keys[idx]
		if ks.healthy {
			return idx, p.APIKeys[idx], nil
		}
		if !b.now().Before(ks.cooldownUntil) {
			ks.healthy = true
			ks.cooldownUntil = time.Time{}
			delete(ps.failedKeys, idx)
			return idx, p.APIKeys[idx], nil
		}
	}

	return 0, "", ErrNoKeysAvailable
}

// ReportSuccess records a successful upstream call through the given key.
func (b *Balancer) ReportSuccess(p *config.Provider, keyIndex int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.state(p)
	ps.requestCount++
	ps.healthy = true

	if keyIndex >= 0 && keyIndex < len(ps.keys) {
		ks := ps.keys[keyIndex]
		ks.healthy = true
		ks.lastUsed = b.now()
	}
}

// ReportError records a failed upstream call. When the classified error
// requests rotation, the key is cooled down, currentKeyIndex advances past
// it, and the provider goes unhealthy once every key has failed.
func (b *Balancer) ReportError(p *config.Provider, keyIndex int, ue *classify.UpstreamError) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.state(p)
	ps.errorCount++
	ps.lastError = ue.Message
	ps.lastErrorTime = b.now()

	if keyIndex < 0 || keyIndex >= len(ps.keys) {
		return
	}

	ks := ps.keys[keyIndex]
	ks.lastError = ue.Message
	ks.lastErrorTime = b.now()

	if ue.RotateKey {
		ps.failedKeys[keyIndex] = struct{}{}
		ps.currentKeyIndex = (keyIndex + 1) % len(ps.keys)
		ks.healthy = false
		ks.cooldownUntil = b.now().Add(b.cooldown)

		if len(ps.failedKeys) >= len(ps.keys) {
			ps.healthy = false
		}
	}
}

// ProviderStats is an immutable snapshot of one provider's runtime state.
type ProviderStats struct {
	Name            string     `json:"name"`
	Healthy         bool       `json:"healthy"`
	CurrentKeyIndex int        `json:"current_key_index"`
	FailedKeys      []int      `json:"failed_keys"`
	LastError       string     `json:"last_error,omitempty"`
	LastErrorTime   *time.Time `json:"last_error_time,omitempty"`
	RequestCount    int64      `json:"request_count"`
	ErrorCount      int64      `json:"error_count"`
	Keys            []KeyStats `json:"keys"`
}

// KeyStats is an immutable snapshot of one key's runtime state.
// Key material never appears here; keys are identified by index.
type KeyStats struct {
	Index         int        `json:"index"`
	Healthy       bool       `json:"healthy"`
	InCooldown    bool       `json:"in_cooldown"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	LastUsed      *time.Time `json:"last_used,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Stats returns a snapshot for every provider in the given config, in
// config order.
func (b *Balancer) Stats(providers []config.Provider) []ProviderStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ProviderStats, 0, len(providers))
	for i := range providers {
		p := &providers[i]
		ps := b.state(p)

		stats := ProviderStats{
			Name:            p.Name,
			Healthy:         ps.healthy,
			CurrentKeyIndex: ps.currentKeyIndex,
			FailedKeys:      make([]int, 0, len(ps.failedKeys)),
			LastError:       ps.lastError,
			RequestCount:    ps.requestCount,
			ErrorCount:      ps.errorCount,
		}
		for idx := range ps.failedKeys {
			stats.FailedKeys = append(stats.FailedKeys, idx)
		}
		sort.Ints(stats.FailedKeys)
		if !ps.lastErrorTime.IsZero() {
			t := ps.lastErrorTime
			stats.LastErrorTime = &t
		}

		now := b.now()
		for idx, ks := range ps.keys {
			k := KeyStats{
				Index:      idx,
				Healthy:    ks.healthy,
				InCooldown: !ks.healthy && now.Before(ks.cooldownUntil),
				LastError:  ks.lastError,
			}
			if !ks.cooldownUntil.IsZero() {
				t := ks.cooldownUntil
				k.CooldownUntil = &t
			}
			if !ks.lastUsed.IsZero() {
				t := ks.lastUsed
				k.LastUsed = &t
			}
			stats.Keys = append(stats.Keys, k)
		}

		out = append(out, stats)
	}
	return out
}

// Healthy reports whether the provider is currently marked healthy.
func (b *Balancer) Healthy(p *config.Provider) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state(p).healthy
}
