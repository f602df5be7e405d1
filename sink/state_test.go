package sink

import "testing"

func TestStateBufferState(t *testing.T) {
	cases := []struct {
		s    state
		want bool
	}{
		{stateClosed, false},
		{stateStarting, false},
		{statePlaying, true},
		{statePausing, true},
		{statePaused, true},
		{stateResume, true},
		{stateDraining, true},
		{stateClosing, false},
		{stateShutdown, false},
	}
	for _, c := range cases {
		if got := c.s.bufferState(); got != c.want {
			t.Errorf("state(%d).bufferState() = %v, want %v", c.s, got, c.want)
		}
	}
}

func TestStateString(t *testing.T) {
	cases := map[state]string{
		stateClosed:   "closed",
		stateStarting: "starting",
		statePlaying:  "playing",
		statePausing:  "pausing",
		statePaused:   "paused",
		stateResume:   "resume",
		stateDraining: "draining",
		stateClosing:  "closing",
		stateShutdown: "shutdown",
		state(99):     "invalid",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("state(%d).String() = %q, want %q", s, got, want)
		}
	}
}
