package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"streamvault/work/config"
	"streamvault/work/extract"
	"streamvault/work/logger"
	"streamvault/work/metrics"
	"streamvault/work/types"
)

// Resolver is the extraction capability the manager drives. Satisfied by
// extract.Orchestrator; tests substitute fakes.
type Resolver interface {
	Resolve(ctx context.Context, ref types.ContentRef, forcedProviderID string) (*types.ExtractionResult, error)
	PreloadAll(ctx context.Context, ref types.ContentRef, generation uint64, cache *extract.PreloadCache)
	Providers() []*config.ProviderConfig
}

// Store persists what should survive a restart: playback positions and
// the preferred provider. Implementations must tolerate concurrent use.
type Store interface {
	SavePosition(ref types.ContentRef, position, duration float64) error
	LoadPosition(ref types.ContentRef) (position, duration float64, err error)
	PreferredProvider() (string, error)
	SetPreferredProvider(id string) error
}

// Manager owns all live sessions and the shared preload cache. The
// generation counter is global so a stale preload can never be confused
// with a fresh one, even across sessions.
type Manager struct {
	config   *config.Config
	resolver Resolver
	store    Store
	encode   func(streamURL, referer string) string

	cache      *extract.PreloadCache
	sessions   *xsync.MapOf[string, *Session]
	generation atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager wires the session layer. encode turns an extraction result
// into the client-facing proxied stream path.
func NewManager(cfg *config.Config, resolver Resolver, store Store, encode func(streamURL, referer string) string) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:   cfg,
		resolver: resolver,
		store:    store,
		encode:   encode,
		cache:    extract.NewPreloadCache(),
		sessions: xsync.NewMapOf[string, *Session](),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Close stops background preloads and the cleanup loop.
func (m *Manager) Close() {
	m.cancel()
}

// Enter starts (or restarts) playback of ref for the given session. It
// bumps the generation, clears prior provider failures, kicks a preload
// for every provider, and resolves the starting provider synchronously.
func (m *Manager) Enter(ctx context.Context, sessionID string, ref types.ContentRef) (*View, error) {
	s, loaded := m.sessions.LoadOrStore(sessionID, newSession(sessionID))
	if !loaded {
		metrics.ActiveSessions.Inc()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if err := s.transition(StateResolvingDetail); err != nil {
		return nil, err
	}

	gen := m.generation.Add(1)
	s.generation = gen
	s.ref = ref
	s.current = ""
	s.result = nil
	s.clearFailed()
	s.position, s.duration = 0, 0
	if pos, dur, err := m.store.LoadPosition(ref); err == nil && pos > 0 {
		s.position, s.duration = pos, dur
	}
	m.cache.InvalidateBelow(gen)

	m.resolver.PreloadAll(m.ctx, ref, gen, m.cache)
	if err := s.transition(StatePreloadingSources); err != nil {
		return nil, err
	}

	res, err := m.resolveInitial(ctx, s)
	if err != nil {
		if terr := s.transition(StateExhausted); terr != nil {
			return nil, terr
		}
		return s.view(""), err
	}

	s.current = res.SourceID
	s.result = res
	if err := s.transition(StatePlaying); err != nil {
		return nil, err
	}
	return s.view(m.encode(res.StreamURL, res.UpstreamReferer)), nil
}

// resolveInitial picks the starting provider: the persisted preference
// when it is still enabled, the waterfall otherwise. A dead preference
// falls through to the waterfall rather than sinking the whole session.
func (m *Manager) resolveInitial(ctx context.Context, s *Session) (*types.ExtractionResult, error) {
	if pref, err := m.store.PreferredProvider(); err == nil && pref != "" && m.providerEnabled(pref) {
		res, err := m.resolver.Resolve(ctx, s.ref, pref)
		if err == nil {
			return res, nil
		}
		logger.Warn("{session/manager.go - resolveInitial} preferred provider %s failed: %v", pref, err)
		s.markFailed(pref)
	}

	res, err := m.resolver.Resolve(ctx, s.ref, "")
	if err != nil {
		if types.IsExhausted(err) {
			for _, p := range m.resolver.Providers() {
				s.markFailed(p.ID)
			}
		}
		return nil, err
	}
	return res, nil
}

func (m *Manager) providerEnabled(id string) bool {
	for _, p := range m.resolver.Providers() {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Fail reports that the current provider broke mid-playback. The session
// moves to the next candidate: a preloaded success is adopted without
// any network round trip, everything else gets a forced resolve. With no
// candidates left the session parks in Exhausted.
func (m *Manager) Fail(ctx context.Context, sessionID, providerID string) (*View, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.markFailed(providerID)

	if err := s.transition(StateSwitching); err != nil {
		return nil, err
	}
	return m.switchLocked(ctx, s, "", true)
}

// Switch moves playback to the named provider at the user's request.
// The provider being left is not marked failed; switching back later is
// legitimate. A successful switch persists the preference.
func (m *Manager) Switch(ctx context.Context, sessionID, providerID string) (*View, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if !m.providerEnabled(providerID) {
		return nil, fmt.Errorf("unknown provider %q", providerID)
	}
	prev := s.state
	if err := s.transition(StateSwitching); err != nil {
		return nil, err
	}

	res, err := m.adoptOrResolve(ctx, s, providerID)
	if err != nil {
		// restore whatever was playing (or the exhausted park) untouched
		s.state = prev
		return s.view(""), err
	}

	s.current = providerID
	s.result = res
	if err := s.transition(StatePlaying); err != nil {
		return nil, err
	}
	if serr := m.store.SetPreferredProvider(providerID); serr != nil {
		logger.Warn("{session/manager.go - Switch} failed to persist preference: %v", serr)
	}
	return s.view(m.encode(res.StreamURL, res.UpstreamReferer)), nil
}

// Retry revives an exhausted session: failures are forgotten, preloads
// restart under a fresh generation, and the provider that failed first
// is attempted again first.
func (m *Manager) Retry(ctx context.Context, sessionID string) (*View, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.state != StateExhausted {
		return nil, fmt.Errorf("session is %s, retry applies to exhausted sessions", s.state)
	}

	firstFailed := ""
	if len(s.failedOrder) > 0 {
		firstFailed = s.failedOrder[0]
	}
	s.clearFailed()

	gen := m.generation.Add(1)
	s.generation = gen
	m.cache.InvalidateBelow(gen)
	m.resolver.PreloadAll(m.ctx, s.ref, gen, m.cache)

	if err := s.transition(StateSwitching); err != nil {
		return nil, err
	}
	return m.switchLocked(ctx, s, firstFailed, false)
}

// switchLocked walks candidates in priority order, preferring preloaded
// successes, until one plays or all are spent. Caller holds s.mu and has
// already moved the session to Switching.
func (m *Manager) switchLocked(ctx context.Context, s *Session, preferred string, skipCurrent bool) (*View, error) {
	candidates := make([]string, 0, len(m.resolver.Providers())+1)
	if preferred != "" {
		candidates = append(candidates, preferred)
	}
	for _, p := range m.resolver.Providers() {
		if p.ID == preferred {
			continue
		}
		candidates = append(candidates, p.ID)
	}

	for _, id := range candidates {
		if s.failed[id] {
			continue
		}
		if skipCurrent && id == s.current {
			continue
		}

		res, err := m.adoptOrResolve(ctx, s, id)
		if err != nil {
			logger.Warn("{session/manager.go - switchLocked} candidate %s failed: %v", id, err)
			s.markFailed(id)
			continue
		}

		s.current = id
		s.result = res
		if err := s.transition(StatePlaying); err != nil {
			return nil, err
		}
		return s.view(m.encode(res.StreamURL, res.UpstreamReferer)), nil
	}

	if err := s.transition(StateExhausted); err != nil {
		return nil, err
	}
	return s.view(""), fmt.Errorf("no providers left for %s", s.ref.Key())
}

// adoptOrResolve returns the preloaded result for providerID when one
// settled successfully under the current generation, otherwise runs a
// forced resolve.
func (m *Manager) adoptOrResolve(ctx context.Context, s *Session, providerID string) (*types.ExtractionResult, error) {
	if e, ok := m.cache.Get(providerID, s.generation); ok {
		if e.Err == nil && e.Result != nil {
			logger.Debug("{session/manager.go - adoptOrResolve} adopting preloaded %s", providerID)
			return e.Result, nil
		}
		// the preload already failed; no point repeating it
		if e.Err != nil {
			return nil, e.Err
		}
	}
	return m.resolver.Resolve(ctx, s.ref, providerID)
}

// UpdatePosition records the playhead. Positions persist on a cadence
// rather than every call; the final write happens at Leave.
func (m *Manager) UpdatePosition(sessionID string, position, duration float64) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.position, s.duration = position, duration
	s.positionDirty = true

	if time.Since(s.lastPersist) >= m.config.PositionSaveEvery {
		if err := m.store.SavePosition(s.ref, position, duration); err != nil {
			return err
		}
		s.lastPersist = time.Now()
		s.positionDirty = false
	}
	return nil
}

// Leave tears the session down, persisting the final position. Stale
// preloads die on their own by generation mismatch.
func (m *Manager) Leave(sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.positionDirty && s.position > 0 {
		if err := m.store.SavePosition(s.ref, s.position, s.duration); err != nil {
			logger.Warn("{session/manager.go - Leave} failed to persist position: %v", err)
		}
	}
	s.state = StateIdle
	s.mu.Unlock()

	m.sessions.Delete(sessionID)
	metrics.ActiveSessions.Dec()
	return nil
}

// State returns the session's current view.
func (m *Manager) State(sessionID string) (*View, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	streamPath := ""
	if s.result != nil && s.state == StatePlaying {
		streamPath = m.encode(s.result.StreamURL, s.result.UpstreamReferer)
	}
	return s.view(streamPath), nil
}

func (m *Manager) get(sessionID string) (*Session, error) {
	s, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, fmt.Errorf("no such session %q", sessionID)
	}
	return s, nil
}

// StartCleanup reaps idle sessions in the background until ctx ends.
// Reaped sessions persist their position like an explicit Leave.
func (m *Manager) StartCleanup(ctx context.Context) {
	go func() {
		interval := m.config.SessionIdleTimeout / 4
		if interval < time.Minute {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.reapIdle()
			}
		}
	}()
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.config.SessionIdleTimeout)
	var stale []string
	m.sessions.Range(func(id string, s *Session) bool {
		s.mu.Lock()
		if s.lastActive.Before(cutoff) {
			stale = append(stale, id)
		}
		s.mu.Unlock()
		return true
	})

	for _, id := range stale {
		logger.Info("{session/manager.go - reapIdle} reaping idle session %s", id)
		if err := m.Leave(id); err != nil {
			logger.Warn("{session/manager.go - reapIdle} %v", err)
		}
	}
}
