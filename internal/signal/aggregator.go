// Package signal converts raw client proctoring signals into a bounded
// warning escalation with a debounced counter and a grace-delayed
// termination trigger.
package signal

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind identifies one class of liveness/suspicion signal reported by the
// exam client.
type Kind string

const (
	KindVisibilityHidden Kind = "visibility_hidden"
	KindWindowBlur       Kind = "window_blur"
	KindPointerLeave     Kind = "pointer_leave"
	KindSuspiciousKeys   Kind = "suspicious_keys"
	KindRightClick       Kind = "right_click"
	KindDevtoolsOpen     Kind = "devtools_open"
	KindInactivity       Kind = "inactivity"
)

var knownKinds = map[Kind]struct{}{
	KindVisibilityHidden: {},
	KindWindowBlur:       {},
	KindPointerLeave:     {},
	KindSuspiciousKeys:   {},
	KindRightClick:       {},
	KindDevtoolsOpen:     {},
	KindInactivity:       {},
}

// Valid reports whether k is a recognized signal kind.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// Warning is the user-visible notice raised for a signal.
type Warning struct {
	Kind      Kind      `json:"kind"`
	Count     int       `json:"count"`
	Remaining int       `json:"remaining"`
	At        time.Time `json:"at"`
}

// Config tunes one aggregator.
type Config struct {
	// MaxWarnings is the count beyond which termination is scheduled.
	MaxWarnings int
	// Debounce collapses bursts of signals into one warning.
	Debounce time.Duration
	// Grace delays the termination call, giving a just-submitted attempt
	// time to be flagged before the trigger fires.
	Grace time.Duration
}

// Aggregator holds the escalation state of one attempt. Safe for
// concurrent use; signals may arrive from several transports at once.
// The state outlives any single WebSocket connection so a reconnecting
// client cannot reset its warning count.
type Aggregator struct {
	cfg Config
	log zerolog.Logger

	// terminate is invoked at most once, after Grace, unless the attempt
	// was submitted in the meantime.
	terminate func(reason string)

	mu            sync.Mutex
	monitoring    bool
	submitted     bool
	warningCount  int
	lastWarningAt time.Time
	scheduled     bool
	timer         *time.Timer
	notify        func(reason string)

	now      func() time.Time
	schedule func(d time.Duration, f func()) *time.Timer
}

// New creates an aggregator with monitoring enabled.
func New(cfg Config, terminate func(reason string), log zerolog.Logger) *Aggregator {
	return &Aggregator{
		cfg:        cfg,
		terminate:  terminate,
		log:        log.With().Str("component", "signal_aggregator").Logger(),
		monitoring: true,
		now:        time.Now,
		schedule:   time.AfterFunc,
	}
}

// Observe processes one signal. It returns the warning raised, or nil
// when the signal was debounced, monitoring is off, or the attempt is
// already flagged submitted.
func (a *Aggregator) Observe(kind Kind) *Warning {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.monitoring || a.submitted {
		return nil
	}

	now := a.now()
	if !a.lastWarningAt.IsZero() && now.Sub(a.lastWarningAt) < a.cfg.Debounce {
		// A burst of the same underlying event; one warning is enough.
		return nil
	}

	a.warningCount++
	a.lastWarningAt = now

	remaining := a.cfg.MaxWarnings - a.warningCount + 1
	if remaining < 0 {
		remaining = 0
	}
	w := &Warning{Kind: kind, Count: a.warningCount, Remaining: remaining, At: now}

	a.log.Info().
		Str("kind", string(kind)).
		Int("count", a.warningCount).
		Msg("Proctoring warning raised")

	if a.warningCount > a.cfg.MaxWarnings && !a.scheduled {
		a.scheduled = true
		a.timer = a.schedule(a.cfg.Grace, func() {
			a.fire("too many proctoring warnings")
		})
	}

	return w
}

// fire runs when the grace delay elapses. The submitted flag is read at
// call time so an attempt the user legitimately finished during the
// grace window is left alone.
func (a *Aggregator) fire(reason string) {
	a.mu.Lock()
	if a.submitted {
		a.mu.Unlock()
		return
	}
	notify := a.notify
	a.mu.Unlock()

	a.terminate(reason)
	if notify != nil {
		notify(reason)
	}
}

// MarkSubmitted flags the attempt as legitimately finished, suppressing
// any pending or future termination trigger.
func (a *Aggregator) MarkSubmitted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitted = true
	if a.timer != nil {
		a.timer.Stop()
	}
}

// SetMonitoring toggles signal processing. While disabled (administrative
// impersonation), no warnings accrue.
func (a *Aggregator) SetMonitoring(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.monitoring = enabled
}

// SetNotifier registers a best-effort callback invoked after a
// termination fires, typically to push a notice down the live WebSocket.
// Pass nil on disconnect.
func (a *Aggregator) SetNotifier(fn func(reason string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notify = fn
}

// WarningCount returns the current warning count.
func (a *Aggregator) WarningCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.warningCount
}

// Stop cancels any pending termination timer. Called when the attempt
// reaches a terminal state through other paths.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
}
