package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"airbridge/internal/clock"
	"airbridge/internal/device"
	"airbridge/internal/miio"
)

type collectSink struct {
	mu     sync.Mutex
	pushes map[string]any
}

func (c *collectSink) Push(facet string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pushes == nil {
		c.pushes = make(map[string]any)
	}
	c.pushes[facet] = value
}

func (c *collectSink) get(facet string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pushes[facet]
}

func seedIdle(m *miio.MockClient) {
	for _, p := range device.AllProps {
		switch v := p.Default.(type) {
		case int64:
			m.SetProperty(string(p.Key), float64(v))
		case string:
			m.SetProperty(string(p.Key), v)
		}
	}
}

func newTestAccessory(t *testing.T) (*Accessory, *miio.MockClient, *clock.MockClock, *collectSink) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	mock := miio.NewMockClient()
	seedIdle(mock)
	mock.Connect()

	clk := clock.NewMockClock(time.Unix(0, 0))
	out := &collectSink{}
	a := New(mock, out, clk, Options{
		PollInterval:   5 * time.Second,
		ChunkSize:      15,
		CoalesceWindow: 100 * time.Millisecond,
		ModeSettle:     300 * time.Millisecond,
		LED:            true,
		Buzzer:         true,
	}, nil, logger)
	return a, mock, clk, out
}

func sentMethods(mock *miio.MockClient) []string {
	var methods []string
	for _, c := range mock.Sent() {
		methods = append(methods, c.Method)
	}
	return methods
}

func TestAccessory_SetPower(t *testing.T) {
	a, mock, _, _ := newTestAccessory(t)

	var got error
	done := make(chan struct{})
	a.SetPower(true, func(err error) {
		got = err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion never delivered")
	}
	require.NoError(t, got)

	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "set_power", sent[0].Method)
	assert.Equal(t, []any{"on"}, sent[0].Params)
}

func TestAccessory_SetModeMapsTargets(t *testing.T) {
	a, mock, _, _ := newTestAccessory(t)

	waitDone := func(set func(done func(error))) {
		done := make(chan struct{})
		set(func(error) { close(done) })
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("completion never delivered")
		}
	}

	waitDone(func(done func(error)) { a.SetMode("auto", done) })
	waitDone(func(done func(error)) { a.SetMode("manual", done) })

	sent := mock.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, []any{device.ModeAuto}, sent[0].Params)
	assert.Equal(t, []any{device.ModeFavorite}, sent[1].Params)
}

func TestAccessory_SetSpeedCoalescedAndGated(t *testing.T) {
	a, mock, clk, _ := newTestAccessory(t)

	// A burst of slider values: only the last survives the quiet window.
	a.SetSpeed(10, nil)
	a.SetSpeed(40, nil)
	var got error
	completed := false
	a.SetSpeed(75, func(err error) {
		got = err
		completed = true
	})

	assert.Empty(t, mock.Sent())

	// Quiet window passes: device is idle, so the gate switches mode first.
	clk.Advance(100 * time.Millisecond)
	require.Equal(t, []string{"set_mode"}, sentMethods(mock))
	assert.Equal(t, []any{device.ModeFavorite}, mock.Sent()[0].Params)
	assert.False(t, completed)

	// Settle delay passes: the level write goes out and the winner completes.
	clk.Advance(300 * time.Millisecond)
	require.Equal(t, []string{"set_mode", "set_level_favorite"}, sentMethods(mock))
	assert.Equal(t, []any{int64(12)}, mock.Sent()[1].Params)
	assert.True(t, completed)
	assert.NoError(t, got)
}

func TestAccessory_SetSpeedSkipsGateInFavoriteMode(t *testing.T) {
	a, mock, clk, _ := newTestAccessory(t)

	// Poll until the store knows the device is already in favorite mode.
	mock.SetProperty("power", "on")
	mock.SetProperty("mode", device.ModeFavorite)
	pollUntil(t, a, clk, func() bool {
		return a.Current().Str(device.PropMode) == device.ModeFavorite
	})
	mock.ClearSent()

	a.SetSpeed(50, nil)
	clk.Advance(100 * time.Millisecond)

	// No mode switch: the level write goes out immediately.
	assert.Equal(t, []string{"set_level_favorite"}, sentMethods(mock))
}

func TestAccessory_PollPushesFacets(t *testing.T) {
	a, mock, clk, out := newTestAccessory(t)
	mock.SetProperty("power", "on")
	mock.SetProperty("aqi", 75.0)

	pollUntil(t, a, clk, func() bool {
		return out.get(device.FacetAirQuality) != nil
	})

	assert.Equal(t, true, out.get(device.FacetActive))
	assert.Equal(t, int64(2), out.get(device.FacetAirQuality))
}

func TestAccessory_StopIdempotentAndReleasesOnce(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mock := miio.NewMockClient()
	seedIdle(mock)

	releases := 0
	a := New(mock, &collectSink{}, clock.NewMockClock(time.Unix(0, 0)), Options{
		LED: true, Buzzer: true,
	}, func() { releases++ }, logger)

	// Stop before Start must be safe and still release the transport.
	a.Stop()
	a.Stop()
	assert.Equal(t, 1, releases)

	a.Start()
	a.Stop()
	assert.Equal(t, 1, releases)
}

// pollUntil starts the accessory and drives the mock clock until cond holds.
// The accessory is stopped at test cleanup.
func pollUntil(t *testing.T, a *Accessory, clk *clock.MockClock, cond func() bool) {
	t.Helper()
	a.Start()
	t.Cleanup(a.Stop)
	require.Eventually(t, func() bool {
		clk.Advance(5 * time.Second)
		return cond()
	}, time.Second, 10*time.Millisecond)
}
