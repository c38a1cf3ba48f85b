// Package session tracks one client's playback lifecycle: which content
// is playing, through which provider, which providers already failed,
// and where the playhead is. All provider churn flows through the state
// machine here so a half-dead upstream can never wedge the player.
package session

import (
	"fmt"
	"sync"
	"time"

	"streamvault/work/types"
)

// State is one node of the playback state machine.
type State int

const (
	StateIdle State = iota
	StateResolvingDetail
	StatePreloadingSources
	StatePlaying
	StateSwitching
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolvingDetail:
		return "resolving"
	case StatePreloadingSources:
		return "preloading"
	case StatePlaying:
		return "playing"
	case StateSwitching:
		return "switching"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// validTransitions is the whole machine. Exhausted is terminal except
// for an explicit retry, which routes back through Switching.
var validTransitions = map[State][]State{
	StateIdle:              {StateResolvingDetail},
	StateResolvingDetail:   {StatePreloadingSources, StateExhausted, StateIdle},
	StatePreloadingSources: {StatePlaying, StateExhausted, StateIdle},
	StatePlaying:           {StateSwitching, StateResolvingDetail, StateIdle},
	StateSwitching:         {StatePlaying, StateExhausted, StateIdle},
	StateExhausted:         {StateSwitching, StateResolvingDetail, StateIdle},
}

// Session is one client's playback session. All fields are guarded by
// mu; callers outside this package interact through the Manager.
type Session struct {
	mu sync.Mutex

	id         string
	ref        types.ContentRef
	state      State
	generation uint64

	current     string // provider currently playing, "" before first resolve
	result      *types.ExtractionResult
	failed      map[string]bool
	failedOrder []string // insertion order, first entry retried first

	position float64 // seconds
	duration float64 // seconds

	lastActive    time.Time
	lastPersist   time.Time
	positionDirty bool
}

func newSession(id string) *Session {
	return &Session{
		id:         id,
		state:      StateIdle,
		failed:     map[string]bool{},
		lastActive: time.Now(),
	}
}

// transition is the single entry point for state changes. An invalid
// edge is a programming error and fails loudly.
func (s *Session) transition(to State) error {
	for _, allowed := range validTransitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", s.state, to)
}

func (s *Session) touch() {
	s.lastActive = time.Now()
}

func (s *Session) markFailed(providerID string) {
	if !s.failed[providerID] {
		s.failed[providerID] = true
		s.failedOrder = append(s.failedOrder, providerID)
	}
}

func (s *Session) clearFailed() {
	s.failed = map[string]bool{}
	s.failedOrder = nil
}

// View is the wire representation of a session's state.
type View struct {
	ID         string   `json:"id"`
	State      string   `json:"state"`
	Content    string   `json:"content,omitempty"`
	Provider   string   `json:"provider,omitempty"`
	StreamPath string   `json:"hlsUrl,omitempty"`
	Failed     []string `json:"failedProviders,omitempty"`
	Position   float64  `json:"position"`
	Duration   float64  `json:"duration"`
	Generation uint64   `json:"generation"`
}

func (s *Session) view(streamPath string) *View {
	failed := make([]string, len(s.failedOrder))
	copy(failed, s.failedOrder)
	return &View{
		ID:         s.id,
		State:      s.state.String(),
		Content:    s.ref.Key(),
		Provider:   s.current,
		StreamPath: streamPath,
		Failed:     failed,
		Position:   s.position,
		Duration:   s.duration,
		Generation: s.generation,
	}
}
