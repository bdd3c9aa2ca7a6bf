package fsm

import (
	"testing"

	"ald-reactor/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalLifecycle(t *testing.T) {
	f := New("run-1", nil)
	var entered []State
	for _, s := range []State{types.StatusInitializing, types.StatusRunning, types.StatusCompleted, types.StatusIdle} {
		f.RegisterCallback(s, func(runID string) {
			assert.Equal(t, "run-1", runID)
			entered = append(entered, s)
		})
	}

	for _, e := range []Event{EventGo, EventReady, EventFinish, EventFinalize} {
		require.NoError(t, f.Fire(e))
	}
	assert.Equal(t, []State{types.StatusInitializing, types.StatusRunning, types.StatusCompleted, types.StatusIdle}, entered)
	assert.Equal(t, types.StatusIdle, f.State())
}

func TestStopFromInitializingAndRunning(t *testing.T) {
	for _, events := range [][]Event{{EventGo}, {EventGo, EventReady}} {
		f := New("run", nil)
		for _, e := range events {
			require.NoError(t, f.Fire(e))
		}
		require.NoError(t, f.Fire(EventStop))
		assert.Equal(t, types.StatusAborted, f.State())
		require.NoError(t, f.Fire(EventFinalize))
		assert.Equal(t, types.StatusIdle, f.State())
	}
}

func TestInvalidTransitions(t *testing.T) {
	f := New("run", nil)
	assert.Error(t, f.Fire(EventStop), "STOP from IDLE is handled by the controller, not the FSM")
	assert.Error(t, f.Fire(EventFinish))

	require.NoError(t, f.Fire(EventGo))
	assert.Error(t, f.Fire(EventGo))
	assert.Equal(t, types.StatusInitializing, f.State())
}

func TestCallbackMayFireAgain(t *testing.T) {
	f := New("run", nil)
	f.RegisterCallback(types.StatusCompleted, func(string) {
		require.NoError(t, f.Fire(EventFinalize))
	})
	require.NoError(t, f.Fire(EventGo))
	require.NoError(t, f.Fire(EventReady))
	require.NoError(t, f.Fire(EventFinish))
	assert.Equal(t, types.StatusIdle, f.State())
}
