package balancer

import (
	"sync"
	"testing"
	"time"

	"github.com/xling-dev/xling/internal/classify"
	"github.com/xling-dev/xling/internal/config"
)

func intPtr(v int) *int { return &v }

func provider(name string, priority *int, keys ...string) *config.Provider {
	return &config.Provider{
		Name:     name,
		BaseURL:  "http://example.test",
		Models:   []string{"m"},
		APIKeys:  keys,
		Priority: priority,
	}
}

// fakeClock is a controllable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func rotateErr(status int) *classify.UpstreamError {
	return classify.FromResponse(status, nil)
}

func TestSelectKey_RoundTripRotation(t *testing.T) {
	p := provider("a", nil, "k1", "k2", "k3")
	b := New()

	idx, key, err := b.SelectKey(p)
	if err != nil || idx != 0 || key != "k1" {
		t.Fatalf("SelectKey() = (%d, %q, %v), want (0, k1, nil)", idx, key, err)
	}

	// 401 on key 0 rotates to key 1.
	b.ReportError(p, 0, rotateErr(401))

	idx, key, err = b.SelectKey(p)
	if err != nil || idx != 1 || key != "k2" {
		t.Fatalf("after rotation SelectKey() = (%d, %q, %v), want (1, k2, nil)", idx, key, err)
	}
}

func TestProviderUnhealthyAfterAllKeysFail(t *testing.T) {
	p := provider("a", nil, "k1", "k2")
	b := New()

	if !b.Healthy(p) {
		t.Fatal("provider should start healthy")
	}

	b.ReportError(p, 0, rotateErr(401))
	if !b.Healthy(p) {
		t.Fatal("provider should stay healthy with one key remaining")
	}

	b.ReportError(p, 1, rotateErr(429))
	if b.Healthy(p) {
		t.Fatal("provider should be unhealthy after every key failed")
	}
}

func TestSelectKey_CooldownElapses(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := provider("a", nil, "k1")
	b := New(WithCooldown(time.Minute), WithClock(clock.Now))

	b.ReportError(p, 0, rotateErr(429))

	if _, _, err := b.SelectKey(p); err != ErrNoKeysAvailable {
		t.Fatalf("SelectKey() during cooldown error = %v, want ErrNoKeysAvailable", err)
	}

	clock.Advance(59 * time.Second)
	if _, _, err := b.SelectKey(p); err != ErrNoKeysAvailable {
		t.Fatalf("SelectKey() before cooldown elapsed error = %v, want ErrNoKeysAvailable", err)
	}

	clock.Advance(time.Second)
	idx, key, err := b.SelectKey(p)
	if err != nil || idx != 0 || key != "k1" {
		t.Fatalf("SelectKey() after cooldown = (%d, %q, %v), want (0, k1, nil)", idx, key, err)
	}
}

func TestSelectProvider_Failover(t *testing.T) {
	a := provider("a", intPtr(1), "ka")
	c := provider("c", intPtr(2), "kc")
	b := New()

	picked, err := b.SelectProvider([]*config.Provider{c, a}, config.StrategyFailover)
	if err != nil {
		t.Fatalf("SelectProvider() error = %v", err)
	}
	if picked.Name != "a" {
		t.Errorf("SelectProvider() = %s, want a (smallest priority)", picked.Name)
	}

	// Burn a's only key; failover must move to c.
	b.ReportError(a, 0, rotateErr(401))
	picked, err = b.SelectProvider([]*config.Provider{c, a}, config.StrategyFailover)
	if err != nil {
		t.Fatalf("SelectProvider() error = %v", err)
	}
	if picked.Name != "c" {
		t.Errorf("SelectProvider() = %s, want c after a exhausted", picked.Name)
	}
}

func TestSelectProvider_FailoverTieBreaksByConfigOrder(t *testing.T) {
	a := provider("a", intPtr(1), "ka")
	c := provider("c", intPtr(1), "kc")
	b := New()

	picked, err := b.SelectProvider([]*config.Provider{a, c}, config.StrategyFailover)
	if err != nil {
		t.Fatalf("SelectProvider() error = %v", err)
	}
	if picked.Name != "a" {
		t.Errorf("SelectProvider() = %s, want a (config order breaks ties)", picked.Name)
	}
}

func TestSelectProvider_RoundRobin(t *testing.T) {
	a := provider("a", nil, "ka")
	c := provider("c", nil, "kc")
	b := New()

	candidates := []*config.Provider{a, c}
	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		p, err := b.SelectProvider(candidates, config.StrategyRoundRobin)
		if err != nil {
			t.Fatalf("SelectProvider() error = %v", err)
		}
		seen[p.Name]++
	}
	if seen["a"] != 2 || seen["c"] != 2 {
		t.Errorf("round-robin distribution = %v, want a:2 c:2", seen)
	}
}

func TestSelectProvider_Weighted(t *testing.T) {
	a := provider("a", nil, "ka")
	a.Weight = 9
	c := provider("c", nil, "kc")
	c.Weight = 1
	b := New()

	seen := make(map[string]int)
	for i := 0; i < 1000; i++ {
		p, err := b.SelectProvider([]*config.Provider{a, c}, config.StrategyWeighted)
		if err != nil {
			t.Fatalf("SelectProvider() error = %v", err)
		}
		seen[p.Name]++
	}
	if seen["a"] < 800 {
		t.Errorf("weighted sampling picked a %d/1000 times, want >= 800", seen["a"])
	}
	if seen["c"] == 0 {
		t.Error("weighted sampling never picked c")
	}
}

func TestSelectProvider_RecoveryResetsKeys(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	a := provider("a", intPtr(1), "k1", "k2")
	c := provider("c", intPtr(2), "k3")
	b := New(WithCooldown(time.Minute), WithClock(clock.Now))

	// Exhaust every key everywhere.
	b.ReportError(a, 0, rotateErr(401))
	clock.Advance(time.Second)
	b.ReportError(a, 1, rotateErr(401))
	clock.Advance(time.Second)
	b.ReportError(c, 0, rotateErr(401))

	picked, err := b.SelectProvider([]*config.Provider{a, c}, config.StrategyFailover)
	if err != nil {
		t.Fatalf("SelectProvider() error = %v", err)
	}
	if picked.Name != "a" {
		t.Errorf("recovery picked %s, want a (smallest priority)", picked.Name)
	}

	// Recovery must have reset a's keys: a key is selectable immediately.
	idx, key, err := b.SelectKey(a)
	if err != nil || idx != 0 || key != "k1" {
		t.Fatalf("SelectKey() after recovery = (%d, %q, %v), want (0, k1, nil)", idx, key, err)
	}
}

func TestSelectProvider_NeverNilWhenKeyAvailable(t *testing.T) {
	a := provider("a", nil, "k1", "k2")
	b := New()
	b.ReportError(a, 0, rotateErr(401))

	for _, strategy := range []string{
		config.StrategyFailover,
		config.StrategyRoundRobin,
		config.StrategyRandom,
		config.StrategyWeighted,
	} {
		p, err := b.SelectProvider([]*config.Provider{a}, strategy)
		if err != nil || p == nil {
			t.Errorf("strategy %s: SelectProvider() = (%v, %v), want non-nil provider", strategy, p, err)
		}
	}
}

func TestReportSuccess_Counters(t *testing.T) {
	a := provider("a", nil, "k1")
	b := New()

	b.ReportSuccess(a, 0)
	b.ReportSuccess(a, 0)
	b.ReportError(a, 0, rotateErr(500))

	stats := b.Stats([]config.Provider{*a})
	if len(stats) != 1 {
		t.Fatalf("Stats() returned %d entries, want 1", len(stats))
	}
	if stats[0].RequestCount != 2 {
		t.Errorf("RequestCount = %d, want 2", stats[0].RequestCount)
	}
	if stats[0].ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", stats[0].ErrorCount)
	}
	// 500 does not rotate; key stays healthy.
	if len(stats[0].FailedKeys) != 0 {
		t.Errorf("FailedKeys = %v, want empty after non-rotating error", stats[0].FailedKeys)
	}
}

func TestConcurrentReporting(t *testing.T) {
	a := provider("a", nil, "k1", "k2", "k3")
	b := New()

	const goroutines = 50
	const iterations = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				idx, _, err := b.SelectKey(a)
				if err != nil {
					continue
				}
				if (g+i)%7 == 0 {
					b.ReportError(a, idx, rotateErr(429))
				} else {
					b.ReportSuccess(a, idx)
				}
			}
		}(g)
	}
	wg.Wait()

	stats := b.Stats([]config.Provider{*a})
	total := stats[0].RequestCount + stats[0].ErrorCount
	if total == 0 {
		t.Error("no requests recorded under concurrency")
	}
}
