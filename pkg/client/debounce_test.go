package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vango-dev/mirror/pkg/dom"
)

const ms = time.Millisecond

func TestDebouncerPhases(t *testing.T) {
	t0 := time.Unix(1000, 0)
	at := func(d time.Duration) time.Time { return t0.Add(d) }

	type step struct {
		trigger bool
		at      time.Duration
		want    []dom.DebouncePhase
	}
	lead := []dom.DebouncePhase{dom.PhaseLeading}
	mid := []dom.DebouncePhase{dom.PhaseIntermediate}
	trail := []dom.DebouncePhase{dom.PhaseTrailing}

	tests := []struct {
		name   string
		phases []dom.DebouncePhase
		steps  []step
	}{
		{
			name:   "trailing",
			phases: trail,
			steps: []step{
				{trigger: true, at: 0},
				{trigger: true, at: 50 * ms},
				{at: 100 * ms},
				{at: 150 * ms, want: trail},
				{at: 300 * ms},
			},
		},
		{
			name:   "leading",
			phases: lead,
			steps: []step{
				{trigger: true, at: 0, want: lead},
				{trigger: true, at: 50 * ms},
				{at: 150 * ms},
				{trigger: true, at: 200 * ms, want: lead},
			},
		},
		{
			name:   "throttle",
			phases: []dom.DebouncePhase{dom.PhaseLeading, dom.PhaseIntermediate},
			steps: []step{
				{trigger: true, at: 0, want: lead},
				{trigger: true, at: 40 * ms},
				{at: 100 * ms, want: mid},
				{trigger: true, at: 120 * ms},
				{at: 200 * ms, want: mid},
				{at: 300 * ms},
			},
		},
		{
			name:   "intermediate without new events stays quiet",
			phases: []dom.DebouncePhase{dom.PhaseLeading, dom.PhaseIntermediate},
			steps: []step{
				{trigger: true, at: 0, want: lead},
				{at: 100 * ms},
			},
		},
		{
			name:   "all phases",
			phases: []dom.DebouncePhase{dom.PhaseLeading, dom.PhaseIntermediate, dom.PhaseTrailing},
			steps: []step{
				{trigger: true, at: 0, want: lead},
				{trigger: true, at: 60 * ms},
				{at: 100 * ms, want: mid},
				{at: 160 * ms, want: trail},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(100*ms, tt.phases...)
			for i, s := range tt.steps {
				var got []dom.DebouncePhase
				if s.trigger {
					got = d.Trigger(at(s.at))
				} else {
					got = d.Due(at(s.at))
				}
				assert.Equal(t, s.want, got, "step %d at %v", i, s.at)
			}
		})
	}
}
