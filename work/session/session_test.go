package session

import "testing"

func TestTransitionTable(t *testing.T) {
	valid := []struct{ from, to State }{
		{StateIdle, StateResolvingDetail},
		{StateResolvingDetail, StatePreloadingSources},
		{StatePreloadingSources, StatePlaying},
		{StatePlaying, StateSwitching},
		{StateSwitching, StatePlaying},
		{StateSwitching, StateExhausted},
		{StateExhausted, StateSwitching},
		{StatePlaying, StateResolvingDetail},
	}
	for _, tr := range valid {
		s := newSession("s")
		s.state = tr.from
		if err := s.transition(tr.to); err != nil {
			t.Errorf("%s -> %s should be allowed: %v", tr.from, tr.to, err)
		}
	}

	invalid := []struct{ from, to State }{
		{StateIdle, StatePlaying},
		{StateIdle, StateExhausted},
		{StateExhausted, StatePlaying},
		{StatePreloadingSources, StateSwitching},
		{StateResolvingDetail, StatePlaying},
	}
	for _, tr := range invalid {
		s := newSession("s")
		s.state = tr.from
		if err := s.transition(tr.to); err == nil {
			t.Errorf("%s -> %s must be rejected", tr.from, tr.to)
		}
	}
}

func TestFailedOrderIsInsertionOrdered(t *testing.T) {
	s := newSession("s")
	s.markFailed("b")
	s.markFailed("a")
	s.markFailed("b") // duplicate, ignored

	if len(s.failedOrder) != 2 || s.failedOrder[0] != "b" || s.failedOrder[1] != "a" {
		t.Errorf("got %v", s.failedOrder)
	}

	s.clearFailed()
	if len(s.failed) != 0 || s.failedOrder != nil {
		t.Error("clearFailed must reset both structures")
	}
}
