package run

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Terminal(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{StatePending, false},
		{StateDispatching, false},
		{StatePolling, false},
		{StateSucceeded, true},
		{StateFailed, true},
		{StateTimedOut, true},
		{StateErrored, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.Terminal())
		})
	}
}

func TestDescriptor_HappyPath(t *testing.T) {
	d := New("boostsecurityio/trivy-fs", "scan source", "github")
	require.Equal(t, StatePending, d.State)

	dispatched := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, d.MarkDispatching(dispatched))
	require.Equal(t, StateDispatching, d.State)
	require.Equal(t, dispatched, d.DispatchedAt)

	require.NoError(t, d.MarkPolling("12345"))
	require.Equal(t, StatePolling, d.State)
	require.Equal(t, "12345", d.Handle)

	completed := dispatched.Add(90 * time.Second)
	require.NoError(t, d.MarkTerminal(StateSucceeded, completed, ""))
	require.Equal(t, StateSucceeded, d.State)
	require.Equal(t, completed, d.CompletedAt)
}

func TestDescriptor_PollingRequiresHandle(t *testing.T) {
	d := New("scanner", "test", "gitlab")
	require.NoError(t, d.MarkDispatching(time.Now()))
	require.ErrorIs(t, d.MarkPolling(""), ErrEmptyHandle)
}

func TestDescriptor_HandleImmutable(t *testing.T) {
	d := New("scanner", "test", "gitlab")
	require.NoError(t, d.MarkDispatching(time.Now()))
	d.Handle = "already-set"
	require.ErrorIs(t, d.MarkPolling("other"), ErrHandleImmutable)
}

func TestDescriptor_TerminalNeverRegresses(t *testing.T) {
	d := New("scanner", "test", "azure")
	require.NoError(t, d.MarkDispatching(time.Now()))
	require.NoError(t, d.MarkTerminal(StateErrored, time.Now(), "dispatch rejected"))

	require.ErrorIs(t, d.MarkDispatching(time.Now()), ErrInvalidTransition)
	require.ErrorIs(t, d.MarkPolling("late"), ErrInvalidTransition)
	require.ErrorIs(t, d.MarkTerminal(StateSucceeded, time.Now(), ""), ErrInvalidTransition)
	require.Equal(t, StateErrored, d.State)
}

func TestDescriptor_MarkTerminalRejectsNonTerminal(t *testing.T) {
	d := New("scanner", "test", "bitbucket")
	require.NoError(t, d.MarkDispatching(time.Now()))
	require.ErrorIs(t, d.MarkTerminal(StatePolling, time.Now(), ""), ErrInvalidTransition)
}

func TestDescriptor_DurationFallsBackToWallClock(t *testing.T) {
	d := New("scanner", "test", "github")
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, d.MarkDispatching(start))
	require.NoError(t, d.MarkPolling("1"))
	require.NoError(t, d.MarkTerminal(StateSucceeded, start.Add(42*time.Second), ""))
	assert.Equal(t, 42*time.Second, d.Duration)
}

func TestDescriptor_ProviderDurationWins(t *testing.T) {
	d := New("scanner", "test", "github")
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, d.MarkDispatching(start))
	require.NoError(t, d.MarkPolling("1"))
	d.Duration = 42 * time.Second
	require.NoError(t, d.MarkTerminal(StateSucceeded, start.Add(5*time.Minute), ""))
	assert.Equal(t, 42*time.Second, d.Duration)
}

// Randomized transition attempts must never move a descriptor backwards
// through the lattice or out of a terminal state.
func TestDescriptor_TransitionsOnlyMoveForward(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	order := func(s State) int {
		switch s {
		case StatePending:
			return 0
		case StateDispatching:
			return 1
		case StatePolling:
			return 2
		default:
			return 3
		}
	}

	for i := 0; i < 200; i++ {
		d := New("scanner", "test", "github")
		for step := 0; step < 20; step++ {
			before := d.State
			switch rng.Intn(3) {
			case 0:
				_ = d.MarkDispatching(time.Now())
			case 1:
				_ = d.MarkPolling("handle")
			case 2:
				terminals := []State{StateSucceeded, StateFailed, StateTimedOut, StateErrored}
				_ = d.MarkTerminal(terminals[rng.Intn(len(terminals))], time.Now(), "msg")
			}
			require.GreaterOrEqual(t, order(d.State), order(before),
				"state regressed from %s to %s", before, d.State)
			if before.Terminal() {
				require.Equal(t, before, d.State, "terminal state mutated")
			}
		}
	}
}
