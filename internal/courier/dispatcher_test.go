package courier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// dispatchClock is a controllable clock whose Sleep advances it, so jitter
// delays are observable without wall-clock waits.
type dispatchClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newDispatchClock(hour int) *dispatchClock {
	return &dispatchClock{now: time.Date(2025, 3, 10, hour, 0, 0, 0, time.UTC)}
}

func (c *dispatchClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *dispatchClock) Sleep(_ context.Context, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
}

func (c *dispatchClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDispatcher(t *testing.T, clock *dispatchClock, opts DispatcherOpts) (*Dispatcher, *MockAdapter) {
	t.Helper()
	adapter := NewMockAdapter()
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	opts.Adapter = adapter
	opts.Now = clock.Now
	opts.Sleep = clock.Sleep
	if opts.Randn == nil {
		opts.Randn = func(n int64) int64 { return 0 } // deterministic: minimum delay
	}
	d, err := NewDispatcher(opts)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d, adapter
}

// --- constructor tests ---

func TestNewDispatcher_NilAdapter(t *testing.T) {
	_, err := NewDispatcher(DispatcherOpts{})
	if err == nil {
		t.Fatal("expected error for nil adapter")
	}
}

func TestNewDispatcher_Defaults(t *testing.T) {
	d, _ := newTestDispatcher(t, newDispatchClock(12), DispatcherOpts{})
	if _, limit := d.HourlyUsage(); limit != 15 {
		t.Errorf("default hourly cap = %d, want 15", limit)
	}
	start, end := d.WorkingHours()
	if start != 6 || end != 22 {
		t.Errorf("default window = %d-%d, want 6-22", start, end)
	}
}

// --- working-hours gate ---

func TestSend_OutsideHours(t *testing.T) {
	clock := newDispatchClock(3) // 3 AM
	d, adapter := newTestDispatcher(t, clock, DispatcherOpts{})

	res := d.Send(context.Background(), "555@c", "hola", false)
	if res.Sent || res.Reason != ReasonOutsideHours {
		t.Fatalf("result = %+v, want suppressed outside_hours", res)
	}
	if adapter.SentCount() != 0 {
		t.Errorf("transport invoked %d times, want 0", adapter.SentCount())
	}
}

func TestSend_UrgentBypassesHoursGate(t *testing.T) {
	clock := newDispatchClock(3)
	d, adapter := newTestDispatcher(t, clock, DispatcherOpts{})

	res := d.Send(context.Background(), "555@c", "hola", true)
	if !res.Sent {
		t.Fatalf("result = %+v, want sent", res)
	}
	if adapter.SentCount() != 1 {
		t.Errorf("transport invoked %d times, want 1", adapter.SentCount())
	}
}

func TestSend_WindowBoundsInclusive(t *testing.T) {
	for _, tt := range []struct {
		hour string
		h    int
		ok   bool
	}{
		{"before start", 5, false},
		{"at start", 6, true},
		{"at end", 22, true},
		{"after end", 23, false},
	} {
		clock := newDispatchClock(tt.h)
		d, _ := newTestDispatcher(t, clock, DispatcherOpts{})
		if d.InWorkingHours() != tt.ok {
			t.Errorf("%s (hour %d): InWorkingHours = %v, want %v",
				tt.hour, tt.h, d.InWorkingHours(), tt.ok)
		}
	}
}

// --- hourly cap ---

func TestSend_HourlyCapSuppressesThird(t *testing.T) {
	clock := newDispatchClock(12)
	d, adapter := newTestDispatcher(t, clock, DispatcherOpts{HourlyCap: 2})

	ctx := context.Background()
	if res := d.Send(ctx, "a@c", "uno", false); !res.Sent {
		t.Fatalf("first send suppressed: %+v", res)
	}
	if res := d.Send(ctx, "b@c", "dos", false); !res.Sent {
		t.Fatalf("second send suppressed: %+v", res)
	}
	res := d.Send(ctx, "c@c", "tres", false)
	if res.Sent || res.Reason != ReasonRateLimited {
		t.Fatalf("third result = %+v, want suppressed rate_limited", res)
	}
	if adapter.SentCount() != 2 {
		t.Errorf("transport invoked %d times, want 2", adapter.SentCount())
	}
}

func TestSend_CapResetsOnNewHour(t *testing.T) {
	clock := newDispatchClock(12)
	d, _ := newTestDispatcher(t, clock, DispatcherOpts{HourlyCap: 1})

	ctx := context.Background()
	if res := d.Send(ctx, "a@c", "uno", false); !res.Sent {
		t.Fatalf("first send suppressed: %+v", res)
	}
	if res := d.Send(ctx, "a@c", "dos", false); res.Sent {
		t.Fatal("second send should hit the cap")
	}

	clock.Advance(time.Hour)
	if res := d.Send(ctx, "a@c", "tres", false); !res.Sent {
		t.Fatalf("send after hour rollover suppressed: %+v", res)
	}
	if count, _ := d.HourlyUsage(); count != 1 {
		t.Errorf("hour count = %d, want 1 after rollover", count)
	}
}

// --- cooldown and jitter ---

func TestSend_RecentRecipientWidensDelay(t *testing.T) {
	clock := newDispatchClock(12)
	base, extra := 3*time.Second, 8*time.Second
	d, _ := newTestDispatcher(t, clock, DispatcherOpts{
		MinDelay:        base,
		MaxDelay:        7 * time.Second,
		RecentThreshold: 30 * time.Second,
		RecentExtra:     extra,
	})

	ctx := context.Background()
	d.Send(ctx, "555@c", "uno", false)
	// Second send to the same recipient lands well inside the 30s window.
	d.Send(ctx, "555@c", "dos", false)

	if len(clock.slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(clock.slept))
	}
	if clock.slept[0] != base {
		t.Errorf("first delay = %v, want %v", clock.slept[0], base)
	}
	if clock.slept[1] < base+extra {
		t.Errorf("second delay = %v, want >= %v", clock.slept[1], base+extra)
	}
}

func TestSend_StaleRecipientUsesBaseDelay(t *testing.T) {
	clock := newDispatchClock(12)
	d, _ := newTestDispatcher(t, clock, DispatcherOpts{
		MinDelay:        3 * time.Second,
		MaxDelay:        7 * time.Second,
		RecentThreshold: 30 * time.Second,
		RecentExtra:     8 * time.Second,
	})

	ctx := context.Background()
	d.Send(ctx, "555@c", "uno", false)
	clock.Advance(time.Minute) // past the recent threshold
	d.Send(ctx, "555@c", "dos", false)

	if clock.slept[1] != 3*time.Second {
		t.Errorf("second delay = %v, want base 3s", clock.slept[1])
	}
}

func TestSend_JitterStaysInRange(t *testing.T) {
	clock := newDispatchClock(12)
	minD, maxD := 2*time.Second, 5*time.Second
	draw := int64(0)
	d, _ := newTestDispatcher(t, clock, DispatcherOpts{
		HourlyCap: 100,
		MinDelay:  minD,
		MaxDelay:  maxD,
		Randn: func(n int64) int64 {
			draw = (draw + 1500999777) % n // deterministic walk over the span
			return draw
		},
	})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		clock.Advance(time.Minute) // keep each send outside the recent window
		d.Send(ctx, "555@c", "hola", false)
	}
	for i, s := range clock.slept {
		if s < minD || s > maxD {
			t.Errorf("delay %d = %v, want within [%v, %v]", i, s, minD, maxD)
		}
	}
}

// --- transport failure ---

func TestSend_TransportErrorNotCounted(t *testing.T) {
	clock := newDispatchClock(12)
	d, adapter := newTestDispatcher(t, clock, DispatcherOpts{HourlyCap: 2})

	ctx := context.Background()
	adapter.FailSends(errors.New("socket closed"))
	res := d.Send(ctx, "555@c", "uno", false)
	if res.Sent || res.Reason != ReasonTransportError {
		t.Fatalf("result = %+v, want suppressed transport_error", res)
	}
	if count, _ := d.HourlyUsage(); count != 0 {
		t.Errorf("failed send counted toward cap: %d", count)
	}

	// Retry succeeds and is not penalized with the widened cooldown.
	adapter.FailSends(nil)
	if res := d.Send(ctx, "555@c", "uno", false); !res.Sent {
		t.Fatalf("retry suppressed: %+v", res)
	}
	if last := clock.slept[len(clock.slept)-1]; last != 3*time.Second {
		t.Errorf("retry delay = %v, want base 3s (no recent-send penalty)", last)
	}
}

// --- audit recording ---

type recordingSink struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingSink) Record(recipient, result, reason string, chars int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, result+":"+reason)
}

func TestSend_RecordsOutcomes(t *testing.T) {
	clock := newDispatchClock(3) // outside hours
	sink := &recordingSink{}
	d, _ := newTestDispatcher(t, clock, DispatcherOpts{Recorder: sink})

	ctx := context.Background()
	d.Send(ctx, "555@c", "uno", false) // suppressed outside_hours
	d.Send(ctx, "555@c", "dos", true)  // urgent, sent

	sink.mu.Lock()
	defer sink.mu.Unlock()
	want := []string{"suppressed:" + ReasonOutsideHours, "sent:"}
	if len(sink.entries) != len(want) {
		t.Fatalf("entries = %v, want %v", sink.entries, want)
	}
	for i := range want {
		if sink.entries[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, sink.entries[i], want[i])
		}
	}

	sent, suppressed := d.Counters()
	if sent != 1 || suppressed != 1 {
		t.Errorf("counters = %d sent / %d suppressed, want 1/1", sent, suppressed)
	}
}
