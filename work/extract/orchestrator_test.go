package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/panjf2000/ants/v2"

	"streamvault/work/config"
	"streamvault/work/types"
)

type fakeStrategy struct {
	calls  int
	result *types.ExtractionResult
	err    error
}

func (f *fakeStrategy) Extract(ctx context.Context, ref types.ContentRef) (*types.ExtractionResult, error) {
	f.calls++
	return f.result, f.err
}

func testOrchestrator(t *testing.T, strategies map[string]Strategy) *Orchestrator {
	t.Helper()

	pool, err := ants.NewPool(4)
	if err != nil {
		t.Fatalf("ants.NewPool: %v", err)
	}
	t.Cleanup(pool.Release)

	o := &Orchestrator{
		config:     &config.Config{},
		strategies: strategies,
		pool:       pool,
	}
	// register in map iteration-independent waterfall order a, b, c
	for _, id := range []string{"a", "b", "c"} {
		if _, ok := strategies[id]; ok {
			o.providers = append(o.providers, &config.ProviderConfig{ID: id})
		}
	}
	return o
}

func TestResolveWaterfallStopsAtFirstSuccess(t *testing.T) {
	a := &fakeStrategy{err: types.NewProviderError("a", types.ErrUpstreamUnavailable, errors.New("down"))}
	b := &fakeStrategy{result: &types.ExtractionResult{StreamURL: "https://cdn.example/b.m3u8", SourceID: "b"}}
	c := &fakeStrategy{result: &types.ExtractionResult{StreamURL: "https://cdn.example/c.m3u8", SourceID: "c"}}

	o := testOrchestrator(t, map[string]Strategy{"a": a, "b": b, "c": c})

	res, err := o.Resolve(context.Background(), types.ContentRef{ID: "42"}, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.SourceID != "b" {
		t.Errorf("expected provider b to win, got %s", res.SourceID)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("expected a and b to run once, got a=%d b=%d", a.calls, b.calls)
	}
	if c.calls != 0 {
		t.Errorf("provider after the first success must not run, c ran %d times", c.calls)
	}
}

func TestResolveForcedProviderPropagatesError(t *testing.T) {
	want := types.NewProviderError("b", types.ErrNotFound, errors.New("nothing there"))
	a := &fakeStrategy{result: &types.ExtractionResult{StreamURL: "https://cdn.example/a.m3u8", SourceID: "a"}}
	b := &fakeStrategy{err: want}

	o := testOrchestrator(t, map[string]Strategy{"a": a, "b": b})

	_, err := o.Resolve(context.Background(), types.ContentRef{ID: "42"}, "b")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected the forced provider's error, got %v", err)
	}
	if a.calls != 0 {
		t.Errorf("forced resolve must not touch other providers, a ran %d times", a.calls)
	}

	if _, err := o.Resolve(context.Background(), types.ContentRef{ID: "42"}, "nope"); err == nil {
		t.Error("expected an error for an unknown forced provider")
	}
}

func TestResolveExhaustionCollectsAllAttempts(t *testing.T) {
	a := &fakeStrategy{err: types.NewProviderError("a", types.ErrUpstreamUnavailable, errors.New("down"))}
	b := &fakeStrategy{err: types.NewProviderError("b", types.ErrNotFound, nil)}
	c := &fakeStrategy{err: types.NewProviderError("c", types.ErrShapeChanged, errors.New("mystery JSON"))}

	o := testOrchestrator(t, map[string]Strategy{"a": a, "b": b, "c": c})

	_, err := o.Resolve(context.Background(), types.ContentRef{ID: "42"}, "")
	var ee *types.ExhaustedError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExhaustedError, got %T: %v", err, err)
	}
	if len(ee.Attempts) != 3 {
		t.Fatalf("expected 3 logged attempts, got %d", len(ee.Attempts))
	}
	order := []string{"a", "b", "c"}
	for i, attempt := range ee.Attempts {
		if attempt.ProviderID != order[i] {
			t.Errorf("attempt %d: got provider %s want %s", i, attempt.ProviderID, order[i])
		}
	}
	if !types.IsExhausted(err) {
		t.Error("IsExhausted should report true")
	}
}
