package physio

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	e := NewEngine(newSim(t, testConfig()), clock, 0, nil)
	e.Start()
	t.Cleanup(e.Close)
	return e, clock
}

func TestEngineApplyPublishesSnapshot(t *testing.T) {
	e, _ := newEngine(t)
	updates, cancel := e.Subscribe()
	defer cancel()

	res, err := e.Apply(context.Background(), StimulusEvent{ID: "s1", Deltas: map[string]float64{"cortisol": 0.8}})
	require.NoError(t, err)
	assert.Equal(t, 10.0, level(t, res.Before, "cortisol"))
	assert.Greater(t, level(t, res.After, "cortisol"), 10.0)
	assert.Equal(t, res.After, e.Latest())

	select {
	case snap := <-updates:
		assert.Equal(t, res.After.Version, snap.Version)
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}
}

func TestEngineEndToEndDecay(t *testing.T) {
	e, clock := newEngine(t)
	ctx := context.Background()
	_, err := e.Apply(ctx, StimulusEvent{ID: "s1", Deltas: map[string]float64{"cortisol": 0.8}})
	require.NoError(t, err)

	clock.Add(300 * time.Second)
	snap, err := e.Advance(ctx)
	require.NoError(t, err)
	assert.InEpsilon(t, 10.4, level(t, snap, "cortisol"), 0.01)
}

func TestEngineRejectsRepeatedStimulus(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	ev := StimulusEvent{ID: "once", Deltas: map[string]float64{"dopamine": 2}}
	_, err := e.Apply(ctx, ev)
	require.NoError(t, err)
	_, err = e.Apply(ctx, ev)
	require.Error(t, err)
}

func TestEngineClosed(t *testing.T) {
	e, _ := newEngine(t)
	e.Close()
	_, err := e.Apply(context.Background(), StimulusEvent{ID: "late"})
	require.ErrorIs(t, err, ErrEngineClosed)
}

func TestEngineSubscribeAfterCloseIsClosed(t *testing.T) {
	e, _ := newEngine(t)
	e.Close()
	updates, cancel := e.Subscribe()
	defer cancel()
	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription after close never closed")
	}
}

func TestEngineApplyOrderAtOneInstantDoesNotMatter(t *testing.T) {
	ctx := context.Background()
	big := func(id string) StimulusEvent {
		return StimulusEvent{ID: id, Deltas: map[string]float64{"cortisol": 60}}
	}
	small := func(id string) StimulusEvent {
		return StimulusEvent{ID: id, Deltas: map[string]float64{"cortisol": 5}}
	}

	run := func(order ...StimulusEvent) float64 {
		e, clock := newEngine(t)
		for _, ev := range order {
			_, err := e.Apply(ctx, ev)
			require.NoError(t, err)
		}
		clock.Add(30 * time.Second)
		snap, err := e.Advance(ctx)
		require.NoError(t, err)
		return level(t, snap, "cortisol")
	}

	ab := run(big("a"), small("b"))
	ba := run(small("b"), big("a"))
	assert.InDelta(t, ab, ba, 1e-9)
}

func TestEngineConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := e.Latest()
				assert.Len(t, snap.Channels, 2)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		_, err := e.Apply(ctx, StimulusEvent{ID: fmt.Sprintf("s%d", i), Deltas: map[string]float64{"cortisol": 1}})
		require.NoError(t, err)
	}
	wg.Wait()
}
