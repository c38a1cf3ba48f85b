package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"streamvault/work/config"
	"streamvault/work/extract"
	"streamvault/work/types"
)

type fakeResolver struct {
	mu        sync.Mutex
	providers []*config.ProviderConfig
	results   map[string]*types.ExtractionResult
	errs      map[string]error
	resolved  []string // forced-resolve call log
	preloads  int
}

func newFakeResolver(ids ...string) *fakeResolver {
	f := &fakeResolver{
		results: map[string]*types.ExtractionResult{},
		errs:    map[string]error{},
	}
	for i, id := range ids {
		f.providers = append(f.providers, &config.ProviderConfig{ID: id, Priority: uint(i + 1)})
		f.results[id] = &types.ExtractionResult{
			StreamURL: "https://cdn.example/" + id + ".m3u8",
			SourceID:  id,
		}
	}
	return f
}

func (f *fakeResolver) fail(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = types.NewProviderError(id, types.ErrUpstreamUnavailable, errors.New("down"))
}

func (f *fakeResolver) Resolve(ctx context.Context, ref types.ContentRef, forced string) (*types.ExtractionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if forced != "" {
		f.resolved = append(f.resolved, forced)
		if err := f.errs[forced]; err != nil {
			return nil, err
		}
		return f.results[forced], nil
	}

	attempts := []*types.ProviderError{}
	for _, p := range f.providers {
		f.resolved = append(f.resolved, p.ID)
		if err := f.errs[p.ID]; err != nil {
			var pe *types.ProviderError
			errors.As(err, &pe)
			attempts = append(attempts, pe)
			continue
		}
		return f.results[p.ID], nil
	}
	return nil, &types.ExhaustedError{Attempts: attempts}
}

func (f *fakeResolver) PreloadAll(ctx context.Context, ref types.ContentRef, gen uint64, cache *extract.PreloadCache) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preloads++
}

func (f *fakeResolver) Providers() []*config.ProviderConfig {
	return f.providers
}

type fakeStore struct {
	mu        sync.Mutex
	positions map[string][2]float64
	preferred string
}

func newFakeStore() *fakeStore {
	return &fakeStore{positions: map[string][2]float64{}}
}

func (f *fakeStore) SavePosition(ref types.ContentRef, pos, dur float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[ref.Key()] = [2]float64{pos, dur}
	return nil
}

func (f *fakeStore) LoadPosition(ref types.ContentRef) (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[ref.Key()]
	if !ok {
		return 0, 0, errors.New("not found")
	}
	return p[0], p[1], nil
}

func (f *fakeStore) PreferredProvider() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preferred, nil
}

func (f *fakeStore) SetPreferredProvider(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preferred = id
	return nil
}

func testManager(t *testing.T, r Resolver, st Store) *Manager {
	t.Helper()
	cfg := &config.Config{
		PositionSaveEvery:  time.Millisecond,
		SessionIdleTimeout: time.Hour,
	}
	m := NewManager(cfg, r, st, func(streamURL, referer string) string {
		return "/stream/tok(" + streamURL + ")"
	})
	t.Cleanup(m.Close)
	return m
}

var ref = types.ContentRef{ID: "603", Kind: types.KindMovie}

func TestEnterPlaysHighestPriorityAndPreloads(t *testing.T) {
	r := newFakeResolver("a", "b", "c")
	m := testManager(t, r, newFakeStore())

	v, err := m.Enter(context.Background(), "sess", ref)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if v.State != "playing" || v.Provider != "a" {
		t.Errorf("got state=%s provider=%s", v.State, v.Provider)
	}
	if v.StreamPath == "" {
		t.Error("playing view must carry a stream path")
	}
	if r.preloads != 1 {
		t.Errorf("expected 1 preload fan-out, got %d", r.preloads)
	}
}

func TestEnterHonorsPersistedPreference(t *testing.T) {
	r := newFakeResolver("a", "b")
	st := newFakeStore()
	st.preferred = "b"
	m := testManager(t, r, st)

	v, err := m.Enter(context.Background(), "sess", ref)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if v.Provider != "b" {
		t.Errorf("expected preferred provider b, got %s", v.Provider)
	}
}

func TestFailMovesToNextCandidate(t *testing.T) {
	r := newFakeResolver("a", "b", "c")
	m := testManager(t, r, newFakeStore())

	if _, err := m.Enter(context.Background(), "sess", ref); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	v, err := m.Fail(context.Background(), "sess", "a")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if v.Provider != "b" || v.State != "playing" {
		t.Errorf("got provider=%s state=%s", v.Provider, v.State)
	}
	if len(v.Failed) != 1 || v.Failed[0] != "a" {
		t.Errorf("failed list: %v", v.Failed)
	}
}

func TestFailAdoptsPreloadedResultWithoutRefetch(t *testing.T) {
	r := newFakeResolver("a", "b")
	m := testManager(t, r, newFakeStore())

	if _, err := m.Enter(context.Background(), "sess", ref); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	s, _ := m.sessions.Load("sess")
	m.cache.Put("b", &extract.PreloadEntry{
		Generation: s.generation,
		Result:     &types.ExtractionResult{StreamURL: "https://preloaded.example/b.m3u8", SourceID: "b"},
	})
	r.mu.Lock()
	r.resolved = nil
	r.mu.Unlock()

	v, err := m.Fail(context.Background(), "sess", "a")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if v.Provider != "b" {
		t.Fatalf("got provider %s", v.Provider)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.resolved) != 0 {
		t.Errorf("preloaded success must be adopted without a resolve, saw %v", r.resolved)
	}
}

func TestExhaustionIsTerminalUntilRetry(t *testing.T) {
	r := newFakeResolver("a", "b")
	m := testManager(t, r, newFakeStore())

	if _, err := m.Enter(context.Background(), "sess", ref); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	r.fail("a")
	r.fail("b")

	if _, err := m.Fail(context.Background(), "sess", "a"); err == nil {
		t.Fatal("expected exhaustion")
	}
	v, err := m.State("sess")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if v.State != "exhausted" {
		t.Fatalf("got state %s", v.State)
	}

	// Further failure reports cannot move an exhausted session anywhere
	// but through an explicit retry.
	if _, err := m.Switch(context.Background(), "sess", "b"); err == nil {
		t.Error("switch on an exhausted session with a dead provider must fail")
	}

	// Upstreams recover; retry revives the session, first-failed first.
	r.mu.Lock()
	r.errs = map[string]error{}
	r.resolved = nil
	r.mu.Unlock()

	v, err = m.Retry(context.Background(), "sess")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if v.State != "playing" {
		t.Errorf("got state %s", v.State)
	}
	r.mu.Lock()
	first := ""
	if len(r.resolved) > 0 {
		first = r.resolved[0]
	}
	r.mu.Unlock()
	if first != "a" {
		t.Errorf("retry must re-attempt the first-failed provider first, got %q", first)
	}
	if len(v.Failed) != 0 {
		t.Errorf("retry must clear the failed set, got %v", v.Failed)
	}
}

func TestSwitchDoesNotMarkFailedAndPersistsPreference(t *testing.T) {
	r := newFakeResolver("a", "b")
	st := newFakeStore()
	m := testManager(t, r, st)

	if _, err := m.Enter(context.Background(), "sess", ref); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	v, err := m.Switch(context.Background(), "sess", "b")
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if v.Provider != "b" {
		t.Errorf("got provider %s", v.Provider)
	}
	if len(v.Failed) != 0 {
		t.Errorf("user switch must not mark anything failed: %v", v.Failed)
	}
	if st.preferred != "b" {
		t.Errorf("preference not persisted, got %q", st.preferred)
	}

	// Switching back remains possible.
	if v, err = m.Switch(context.Background(), "sess", "a"); err != nil || v.Provider != "a" {
		t.Errorf("switch back failed: %v %v", v, err)
	}
}

func TestPositionPersistsOnLeave(t *testing.T) {
	r := newFakeResolver("a")
	st := newFakeStore()
	m := testManager(t, r, st)

	if _, err := m.Enter(context.Background(), "sess", ref); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := m.UpdatePosition("sess", 321.5, 7200); err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}
	if err := m.Leave("sess"); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	pos, dur, err := st.LoadPosition(ref)
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if pos != 321.5 || dur != 7200 {
		t.Errorf("got pos=%v dur=%v", pos, dur)
	}

	if _, err := m.State("sess"); err == nil {
		t.Error("left session must be gone")
	}

	// Re-entering the same content resumes from the stored position.
	v, err := m.Enter(context.Background(), "sess", ref)
	if err != nil {
		t.Fatalf("re-Enter: %v", err)
	}
	if v.Position != 321.5 {
		t.Errorf("resume position: got %v", v.Position)
	}
}

func TestEnterBumpsGenerationAndInvalidatesPreloads(t *testing.T) {
	r := newFakeResolver("a")
	m := testManager(t, r, newFakeStore())

	v1, err := m.Enter(context.Background(), "sess", ref)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	m.cache.Put("a", &extract.PreloadEntry{Generation: v1.Generation,
		Result: &types.ExtractionResult{StreamURL: "https://old.example/a.m3u8", SourceID: "a"}})

	v2, err := m.Enter(context.Background(), "sess", types.ContentRef{ID: "604", Kind: types.KindMovie})
	if err != nil {
		t.Fatalf("second Enter: %v", err)
	}
	if v2.Generation <= v1.Generation {
		t.Fatalf("generation must increase: %d then %d", v1.Generation, v2.Generation)
	}
	if _, ok := m.cache.Get("a", v2.Generation); ok {
		t.Error("previous content's preload must not be visible to the new generation")
	}
}
