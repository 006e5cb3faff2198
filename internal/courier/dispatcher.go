package courier

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var errAdapterRequired = errors.New("courier: adapter is required")

// Suppression reasons returned by Dispatcher.Send.
const (
	ReasonOutsideHours   = "outside_hours"
	ReasonRateLimited    = "rate_limited"
	ReasonTransportError = "transport_error"
)

// SendResult reports the outcome of a dispatch attempt.
type SendResult struct {
	Sent   bool
	Reason string // suppression reason; empty when Sent
}

// Recorder receives an audit entry per dispatch outcome. Implementations
// must tolerate being called from the dispatch path and never block it for
// long; failures are the recorder's problem.
type Recorder interface {
	Record(recipient, result, reason string, chars int)
}

// Dispatcher is the sole path through which the bot sends outbound text.
// It centralizes every anti-detection policy — working-hours gating, the
// hourly volume cap, and per-recipient cooldown with randomized jitter —
// so no other component ever talks to the transport directly.
//
// All sends are serialized through one Dispatcher instance; the jitter
// delay is experienced as backpressure on the whole outbound path, which
// keeps burst patterns off the wire.
type Dispatcher struct {
	adapter  Adapter
	recorder Recorder
	log      zerolog.Logger

	hourlyCap       int
	minDelay        time.Duration
	maxDelay        time.Duration
	recentThreshold time.Duration
	recentExtra     time.Duration
	workStart       int
	workEnd         int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
	randn func(n int64) int64

	mu        sync.Mutex
	hourKey   string
	hourCount int
	lastSend  map[string]time.Time
	sent      int
	blocked   int
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Adapter         Adapter
	Recorder        Recorder       // optional audit trail
	Logger          zerolog.Logger // defaults to a disabled logger
	HourlyCap       int            // defaults to 15
	MinDelay        time.Duration  // defaults to 3s
	MaxDelay        time.Duration  // defaults to 7s
	RecentThreshold time.Duration  // defaults to 30s
	RecentExtra     time.Duration  // defaults to 8s
	WorkStart       int            // inclusive hour, defaults to 6
	WorkEnd         int            // inclusive hour, defaults to 22
	Now             func() time.Time
	Sleep           func(ctx context.Context, d time.Duration)
	Randn           func(n int64) int64 // uniform [0,n); defaults to rand.Int63n
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Adapter == nil {
		return nil, errAdapterRequired
	}
	d := &Dispatcher{
		adapter:         opts.Adapter,
		recorder:        opts.Recorder,
		log:             opts.Logger,
		hourlyCap:       opts.HourlyCap,
		minDelay:        opts.MinDelay,
		maxDelay:        opts.MaxDelay,
		recentThreshold: opts.RecentThreshold,
		recentExtra:     opts.RecentExtra,
		workStart:       opts.WorkStart,
		workEnd:         opts.WorkEnd,
		now:             opts.Now,
		sleep:           opts.Sleep,
		randn:           opts.Randn,
		lastSend:        make(map[string]time.Time),
	}
	if d.hourlyCap <= 0 {
		d.hourlyCap = 15
	}
	if d.minDelay <= 0 {
		d.minDelay = 3 * time.Second
	}
	if d.maxDelay <= 0 {
		d.maxDelay = 7 * time.Second
	}
	if d.maxDelay < d.minDelay {
		d.maxDelay = d.minDelay
	}
	if d.recentThreshold <= 0 {
		d.recentThreshold = 30 * time.Second
	}
	if d.recentExtra <= 0 {
		d.recentExtra = 8 * time.Second
	}
	if d.workStart == 0 && d.workEnd == 0 {
		d.workStart, d.workEnd = 6, 22
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.sleep == nil {
		d.sleep = func(ctx context.Context, dur time.Duration) {
			t := time.NewTimer(dur)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		}
	}
	if d.randn == nil {
		d.randn = rand.Int63n
	}
	return d, nil
}

// Send pushes text to recipient, subject to the throttling policy. Checks
// run cheapest first so rejected sends never pay the jitter delay. Urgent
// sends skip the working-hours gate only; they still count toward the cap
// and observe the cooldown.
func (d *Dispatcher) Send(ctx context.Context, recipient, text string, urgent bool) SendResult {
	// 1. Working-hours gate.
	if !urgent && !d.InWorkingHours() {
		return d.suppress(recipient, text, ReasonOutsideHours)
	}

	// 2. Hourly volume cap. The counter resets when the bucket key (the
	// calendar hour) changes — checked on access, no timer needed.
	d.mu.Lock()
	key := d.now().Format("2006010215")
	if key != d.hourKey {
		d.hourKey = key
		d.hourCount = 0
	}
	if d.hourCount >= d.hourlyCap {
		d.mu.Unlock()
		return d.suppress(recipient, text, ReasonRateLimited)
	}
	delay := d.jitterDelayLocked(recipient)
	d.mu.Unlock()

	// 3. Per-recipient cooldown with jitter. This is the one intentional
	// blocking point in the bot.
	d.sleep(ctx, delay)

	// 4. Send. A failed attempt costs nothing: neither the hourly counter
	// nor the recipient's cooldown moves, so a retry isn't penalized twice.
	if err := d.adapter.Send(ctx, recipient, text); err != nil {
		d.log.Warn().Err(err).Str("recipient", recipient).Msg("courier: send failed")
		return d.suppress(recipient, text, ReasonTransportError)
	}

	d.mu.Lock()
	d.hourCount++
	d.sent++
	d.lastSend[recipient] = d.now()
	d.mu.Unlock()

	d.log.Debug().
		Str("recipient", recipient).
		Dur("delay", delay).
		Int("chars", len(text)).
		Msg("courier: sent")
	d.record(recipient, "sent", "", len(text))
	return SendResult{Sent: true}
}

// jitterDelayLocked computes the randomized delay for a recipient. Must be
// called with d.mu held. Sending to the same recipient twice within the
// recent threshold widens the minimum, breaking rapid back-and-forth
// cadences that fingerprint a bot.
func (d *Dispatcher) jitterDelayLocked(recipient string) time.Duration {
	minD := d.minDelay
	if last, ok := d.lastSend[recipient]; ok && d.now().Sub(last) < d.recentThreshold {
		minD += d.recentExtra
	}
	maxD := d.maxDelay
	if maxD < minD {
		maxD = minD
	}
	span := int64(maxD - minD)
	if span <= 0 {
		return minD
	}
	return minD + time.Duration(d.randn(span+1))
}

// InWorkingHours reports whether the current local hour falls inside the
// configured inclusive window.
func (d *Dispatcher) InWorkingHours() bool {
	h := d.now().Hour()
	return h >= d.workStart && h <= d.workEnd
}

// WorkingHours returns the configured inclusive window.
func (d *Dispatcher) WorkingHours() (start, end int) {
	return d.workStart, d.workEnd
}

// HourlyUsage returns the messages sent in the current hour bucket and the
// configured ceiling.
func (d *Dispatcher) HourlyUsage() (count, limit int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.now().Format("2006010215") != d.hourKey {
		return 0, d.hourlyCap
	}
	return d.hourCount, d.hourlyCap
}

// Counters returns the lifetime sent and suppressed totals.
func (d *Dispatcher) Counters() (sent, suppressed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent, d.blocked
}

func (d *Dispatcher) suppress(recipient, text, reason string) SendResult {
	d.mu.Lock()
	d.blocked++
	d.mu.Unlock()
	d.log.Debug().Str("recipient", recipient).Str("reason", reason).Msg("courier: suppressed")
	d.record(recipient, "suppressed", reason, len(text))
	return SendResult{Reason: reason}
}

func (d *Dispatcher) record(recipient, result, reason string, chars int) {
	if d.recorder == nil {
		return
	}
	d.recorder.Record(recipient, result, reason, chars)
}
