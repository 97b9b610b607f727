package capability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
)

func okProvider(id string, calls *atomic.Int32) *FuncProvider {
	return NewFuncProvider(
		Descriptor{ID: id, Tags: []analyzer.Capability{analyzer.CapGeneration}, Cost: CostLight, Available: true},
		func(ctx context.Context, _ analyzer.RequestProfile) (Result, error) {
			if calls != nil {
				calls.Add(1)
			}
			return Result{Output: id + " done"}, nil
		},
	)
}

func downProvider(id string) *FuncProvider {
	return NewFuncProvider(
		Descriptor{ID: id, Tags: []analyzer.Capability{analyzer.CapGeneration}, Cost: CostLight, Available: false},
		nil,
	)
}

func TestDispatch_Sequential(t *testing.T) {
	d := NewDispatcher([]Provider{okProvider("a", nil), okProvider("b", nil)}, nil)

	out := d.Dispatch(context.Background(), Plan{Providers: []string{"a", "b"}, Fallback: []string{Native}}, analyzer.RequestProfile{})

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ProviderID)
	assert.Equal(t, "a done", out[0].Result.Output)
	assert.Equal(t, "a", out[0].Result.ProviderID)
	assert.Equal(t, "b", out[1].ProviderID)
	assert.NoError(t, out[1].Err)
}

func TestDispatch_FallsBackOnUnavailable(t *testing.T) {
	d := NewDispatcher([]Provider{downProvider("a"), okProvider("c", nil)}, nil)

	out := d.Dispatch(context.Background(), Plan{
		Providers: []string{"a"},
		Fallback:  []string{"c", Native},
	}, analyzer.RequestProfile{})

	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Planned)
	assert.Equal(t, "c", out[0].ProviderID)
	assert.False(t, out[0].Native())
}

func TestDispatch_EndsAtNative(t *testing.T) {
	d := NewDispatcher([]Provider{downProvider("a"), downProvider("b")}, nil)

	out := d.Dispatch(context.Background(), Plan{
		Providers: []string{"a", "ghost"},
		Fallback:  []string{"b", Native},
	}, analyzer.RequestProfile{})

	require.Len(t, out, 2)
	assert.True(t, out[0].Native())
	assert.True(t, out[1].Native())
}

func TestDispatch_ParallelUsesEachFallbackOnce(t *testing.T) {
	var calls atomic.Int32
	d := NewDispatcher([]Provider{downProvider("a"), downProvider("b"), okProvider("c", &calls)}, nil)

	out := d.Dispatch(context.Background(), Plan{
		Providers: []string{"a", "b"},
		Parallel:  true,
		Fallback:  []string{"c", Native},
	}, analyzer.RequestProfile{})

	require.Len(t, out, 2)
	assert.Equal(t, int32(1), calls.Load())
	served := map[string]int{}
	for _, o := range out {
		served[o.ProviderID]++
	}
	assert.Equal(t, map[string]int{"c": 1, Native: 1}, served)
}

func TestDispatch_ProviderErrorIsReported(t *testing.T) {
	boom := errors.New("boom")
	p := NewFuncProvider(
		Descriptor{ID: "a", Tags: []analyzer.Capability{analyzer.CapTesting}, Cost: CostLight, Available: true},
		func(context.Context, analyzer.RequestProfile) (Result, error) { return Result{}, boom },
	)
	d := NewDispatcher([]Provider{p, okProvider("b", nil)}, nil)

	out := d.Dispatch(context.Background(), Plan{Providers: []string{"a"}, Fallback: []string{"b", Native}}, analyzer.RequestProfile{})

	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ProviderID, "only unavailability triggers fallback")
	assert.ErrorIs(t, out[0].Err, boom)
}

func TestDispatch_CancelledContext(t *testing.T) {
	d := NewDispatcher([]Provider{okProvider("a", nil)}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	out := d.Dispatch(ctx, Plan{Providers: []string{"a"}, Fallback: []string{Native}}, analyzer.RequestProfile{})
	require.Len(t, out, 1)
	assert.True(t, out[0].Native())
	assert.ErrorIs(t, out[0].Err, context.DeadlineExceeded)
}
