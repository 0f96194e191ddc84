package probe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skijbal/ytdlp2strm/internal/ytdlp"
)

func countingProbe(calls *atomic.Int64, info *ytdlp.Info, err error) Func {
	return func(ctx context.Context, key string) (*ytdlp.Info, error) {
		calls.Add(1)
		return info, err
	}
}

func TestCache_hit_skips_probe(t *testing.T) {
	var calls atomic.Int64
	c := NewCache(countingProbe(&calls, &ytdlp.Info{ID: "abc"}, nil), 10, time.Minute)

	first := c.GetOrProbe(context.Background(), "abc")
	second := c.GetOrProbe(context.Background(), "abc")
	if first == nil || second == nil {
		t.Fatal("expected metadata")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected a single probe, got %d", got)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Size != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCache_expired_entry_is_reprobed(t *testing.T) {
	var calls atomic.Int64
	c := NewCache(countingProbe(&calls, &ytdlp.Info{ID: "abc"}, nil), 10, 10*time.Millisecond)

	c.GetOrProbe(context.Background(), "abc")
	time.Sleep(20 * time.Millisecond)
	c.GetOrProbe(context.Background(), "abc")

	if got := calls.Load(); got != 2 {
		t.Errorf("expected reprobe after expiry, got %d calls", got)
	}
}

func TestCache_probe_failure_not_cached(t *testing.T) {
	var calls atomic.Int64
	failing := countingProbe(&calls, nil, errors.New("probe timeout"))
	c := NewCache(failing, 10, time.Minute)

	if info := c.GetOrProbe(context.Background(), "abc"); info != nil {
		t.Errorf("failed probe should yield nil, got %+v", info)
	}
	if info := c.GetOrProbe(context.Background(), "abc"); info != nil {
		t.Errorf("failure must not be cached, got %+v", info)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected retry on next call, got %d calls", got)
	}
}

func TestCache_empty_result_not_cached(t *testing.T) {
	var calls atomic.Int64
	c := NewCache(countingProbe(&calls, nil, nil), 10, time.Minute)

	c.GetOrProbe(context.Background(), "abc")
	c.GetOrProbe(context.Background(), "abc")
	if got := calls.Load(); got != 2 {
		t.Errorf("empty result must not be cached, got %d calls", got)
	}
	if c.Stats().Size != 0 {
		t.Errorf("nothing should be stored, size = %d", c.Stats().Size)
	}
}

func TestCache_capacity_evicts_oldest(t *testing.T) {
	var calls atomic.Int64
	probe := func(ctx context.Context, key string) (*ytdlp.Info, error) {
		calls.Add(1)
		return &ytdlp.Info{ID: key}, nil
	}
	c := NewCache(probe, 2, time.Minute)

	c.GetOrProbe(context.Background(), "a")
	time.Sleep(2 * time.Millisecond)
	c.GetOrProbe(context.Background(), "b")
	time.Sleep(2 * time.Millisecond)
	c.GetOrProbe(context.Background(), "c") // evicts "a"

	if c.Stats().Size != 2 {
		t.Fatalf("size = %d, want 2", c.Stats().Size)
	}

	calls.Store(0)
	c.GetOrProbe(context.Background(), "b")
	c.GetOrProbe(context.Background(), "c")
	if got := calls.Load(); got != 0 {
		t.Errorf("b and c should still be cached, got %d probes", got)
	}
	c.GetOrProbe(context.Background(), "a")
	if got := calls.Load(); got != 1 {
		t.Errorf("a should have been evicted, got %d probes", got)
	}
}

func TestCache_concurrent_misses_collapse(t *testing.T) {
	var calls atomic.Int64
	slow := func(ctx context.Context, key string) (*ytdlp.Info, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &ytdlp.Info{ID: key}, nil
	}
	c := NewCache(slow, 10, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if info := c.GetOrProbe(context.Background(), "abc"); info == nil {
				t.Error("expected metadata")
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("concurrent misses should collapse to one probe, got %d", got)
	}
}

func TestDedupe_suppresses_within_ttl(t *testing.T) {
	d := NewDedupe(10, time.Minute)
	if d.Seen("1.2.3.4_abc") {
		t.Error("first sighting should not be suppressed")
	}
	if !d.Seen("1.2.3.4_abc") {
		t.Error("second sighting within TTL should be suppressed")
	}
	if d.Seen("5.6.7.8_abc") {
		t.Error("different client should not be suppressed")
	}
}

func TestDedupe_expires(t *testing.T) {
	d := NewDedupe(10, 10*time.Millisecond)
	d.Seen("k")
	time.Sleep(20 * time.Millisecond)
	if d.Seen("k") {
		t.Error("expired key should not be suppressed")
	}
}

func TestDedupe_bounded(t *testing.T) {
	d := NewDedupe(2, time.Minute)
	d.Seen("a")
	time.Sleep(2 * time.Millisecond)
	d.Seen("b")
	time.Sleep(2 * time.Millisecond)
	d.Seen("c") // evicts "a"
	if len(d.seen) != 2 {
		t.Errorf("size = %d, want 2", len(d.seen))
	}
	if d.Seen("a") {
		t.Error("evicted key should read as unseen")
	}
}
