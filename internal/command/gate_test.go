package command

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"airbridge/internal/clock"
)

type gateFixture struct {
	gate     *Gate
	clk      *clock.MockClock
	mode     string
	switches []string
	applies  int
	applyErr error
	swErr    error
}

func newGateFixture(t *testing.T, mode string) *gateFixture {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	f := &gateFixture{
		clk:  clock.NewMockClock(time.Unix(0, 0)),
		mode: mode,
	}
	f.gate = NewGate(
		func() string { return f.mode },
		func(m string) error {
			if f.swErr != nil {
				return f.swErr
			}
			f.switches = append(f.switches, m)
			return nil
		},
		300*time.Millisecond, f.clk, logger,
	)
	return f
}

func (f *gateFixture) apply() error {
	f.applies++
	return f.applyErr
}

func TestGate_ModeAlreadyCorrect(t *testing.T) {
	f := newGateFixture(t, "favorite")

	var done bool
	f.gate.EnsureModeThenApply("favorite", f.apply, func(err error) {
		assert.NoError(t, err)
		done = true
	})

	// No mode switch, no settle wait: the target command goes out directly.
	assert.Empty(t, f.switches)
	assert.Equal(t, 1, f.applies)
	assert.True(t, done)
}

func TestGate_SwitchThenSettleThenApply(t *testing.T) {
	f := newGateFixture(t, "auto")

	var done bool
	f.gate.EnsureModeThenApply("favorite", f.apply, func(err error) {
		assert.NoError(t, err)
		done = true
	})

	// Mode switch issued immediately; target held back through the settle.
	assert.Equal(t, []string{"favorite"}, f.switches)
	assert.Equal(t, 0, f.applies)
	assert.False(t, done)

	f.clk.Advance(299 * time.Millisecond)
	assert.Equal(t, 0, f.applies)

	f.clk.Advance(1 * time.Millisecond)
	assert.Equal(t, 1, f.applies)
	assert.True(t, done)
}

func TestGate_SwitchFailureAbortsSequence(t *testing.T) {
	f := newGateFixture(t, "auto")
	f.swErr = errors.New("device rejected mode")

	var got error
	f.gate.EnsureModeThenApply("favorite", f.apply, func(err error) { got = err })
	f.clk.Advance(time.Second)

	require.Error(t, got)
	var seqErr *SequenceError
	require.ErrorAs(t, got, &seqErr)
	assert.Equal(t, "favorite", seqErr.Mode)

	// The follow-up command is never issued.
	assert.Equal(t, 0, f.applies)
}

func TestGate_ApplyFailureSurfaces(t *testing.T) {
	f := newGateFixture(t, "favorite")
	f.applyErr = errors.New("write failed")

	var got error
	f.gate.EnsureModeThenApply("favorite", f.apply, func(err error) { got = err })

	assert.EqualError(t, got, "write failed")
}

func TestGate_StopCancelsSettledSequence(t *testing.T) {
	f := newGateFixture(t, "auto")

	var done bool
	f.gate.EnsureModeThenApply("favorite", f.apply, func(error) { done = true })
	f.gate.Stop()
	f.gate.Stop()
	f.clk.Advance(time.Second)

	assert.Equal(t, 0, f.applies)
	assert.False(t, done)

	// Sequences after Stop are dropped.
	f.gate.EnsureModeThenApply("favorite", f.apply, nil)
	assert.Len(t, f.switches, 1)
}
