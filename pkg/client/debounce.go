package client

import (
	"sync"
	"time"

	"github.com/vango-dev/mirror/pkg/dom"
)

// Debouncer is the phase state machine of one debounced listener.
//
// A burst starts with the first trigger and ends once no trigger arrived
// for the timeout. Leading fires at the start of a burst. Intermediate
// fires at most once per timeout while triggers keep coming, and only if
// something was triggered since the last fire. Trailing fires when the
// burst ends. Throttling is leading plus intermediate.
//
// Debouncer is driven by explicit times and is not safe for concurrent use.
type Debouncer struct {
	timeout time.Duration
	phases  map[dom.DebouncePhase]bool

	active      bool
	lastTrigger time.Time
	nextTick    time.Time
	unsent      bool
}

// NewDebouncer returns a debouncer for the given timeout and phases.
func NewDebouncer(timeout time.Duration, phases ...dom.DebouncePhase) *Debouncer {
	d := &Debouncer{timeout: timeout, phases: make(map[dom.DebouncePhase]bool, len(phases))}
	for _, p := range phases {
		d.phases[p] = true
	}
	return d
}

// Active reports whether a burst is in progress.
func (d *Debouncer) Active() bool { return d.active }

// Trigger records an event at now and returns the phases that fire
// immediately.
func (d *Debouncer) Trigger(now time.Time) []dom.DebouncePhase {
	d.lastTrigger = now
	if d.active {
		d.unsent = true
		return nil
	}
	d.active = true
	d.nextTick = now.Add(d.timeout)
	if d.phases[dom.PhaseLeading] {
		d.unsent = false
		return []dom.DebouncePhase{dom.PhaseLeading}
	}
	d.unsent = true
	return nil
}

// Due returns the phases that fire by now. Call it at Next or later.
func (d *Debouncer) Due(now time.Time) []dom.DebouncePhase {
	if !d.active {
		return nil
	}
	if !now.Before(d.lastTrigger.Add(d.timeout)) {
		d.active = false
		unsent := d.unsent
		d.unsent = false
		switch {
		case d.phases[dom.PhaseTrailing]:
			return []dom.DebouncePhase{dom.PhaseTrailing}
		case unsent && d.phases[dom.PhaseIntermediate]:
			// The last events of a throttled burst are not lost.
			return []dom.DebouncePhase{dom.PhaseIntermediate}
		}
		return nil
	}
	if now.Before(d.nextTick) {
		return nil
	}
	for !d.nextTick.After(now) {
		d.nextTick = d.nextTick.Add(d.timeout)
	}
	if d.unsent && d.phases[dom.PhaseIntermediate] {
		d.unsent = false
		return []dom.DebouncePhase{dom.PhaseIntermediate}
	}
	return nil
}

// Next returns when Due should be called next. It returns the zero time
// when no burst is in progress.
func (d *Debouncer) Next() time.Time {
	if !d.active {
		return time.Time{}
	}
	end := d.lastTrigger.Add(d.timeout)
	if d.phases[dom.PhaseIntermediate] && d.unsent && d.nextTick.Before(end) {
		return d.nextTick
	}
	return end
}

// timedDebouncer drives a Debouncer with a timer. fire runs on the timer
// goroutine with the data of the latest trigger.
type timedDebouncer struct {
	mu    sync.Mutex
	d     *Debouncer
	timer *time.Timer
	data  map[string]any
	fire  func(phase dom.DebouncePhase, data map[string]any)
	now   func() time.Time
}

func newTimedDebouncer(settings dom.ListenerSettings, fire func(dom.DebouncePhase, map[string]any)) *timedDebouncer {
	return &timedDebouncer{
		d:    NewDebouncer(time.Duration(settings.Timeout)*time.Millisecond, settings.Phases...),
		fire: fire,
		now:  time.Now,
	}
}

// trigger records an event and returns the phases that fire right away.
// The caller sends those itself so that they go out in order with the
// surrounding invocations.
func (t *timedDebouncer) trigger(data map[string]any) []dom.DebouncePhase {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = data
	phases := t.d.Trigger(t.now())
	t.scheduleLocked()
	return phases
}

func (t *timedDebouncer) tick() {
	t.mu.Lock()
	phases := t.d.Due(t.now())
	data := t.data
	t.scheduleLocked()
	t.mu.Unlock()
	for _, p := range phases {
		t.fire(p, data)
	}
}

func (t *timedDebouncer) scheduleLocked() {
	next := t.d.Next()
	if next.IsZero() {
		if t.timer != nil {
			t.timer.Stop()
		}
		return
	}
	wait := time.Until(next)
	if t.timer == nil {
		t.timer = time.AfterFunc(wait, t.tick)
		return
	}
	t.timer.Reset(wait)
}

func (t *timedDebouncer) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.d.active = false
}
