package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"ald-reactor/internal/recipe"
	"ald-reactor/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var defaultParams = types.Params{
	Pulse1: 0.015, Purge1: 2, Pulse2: 1, Purge2: 2, Cycles: 2, InnerRepeats: 1,
	PlasmaPowerW: 300, Precursor1: "TEB", Precursor2: "H2",
}

func TestControllerGoRequiresRecipe(t *testing.T) {
	h := newHarness(t, Policy{})
	c := NewController(h.engine, defaultParams, nil)

	_, err := c.Go(context.Background())
	assert.ErrorIs(t, err, types.ErrUnknownRecipe)
	assert.ErrorIs(t, c.SelectRecipe("CVD-X"), types.ErrUnknownRecipe)
	assert.Nil(t, c.Selected())
	assert.Empty(t, h.act.Calls())
}

func TestControllerRejectsInvalidParameters(t *testing.T) {
	h := newHarness(t, Policy{})
	c := NewController(h.engine, defaultParams, nil)

	bad := defaultParams
	bad.Purge1 = -1
	assert.ErrorIs(t, c.SetParameters(bad), types.ErrInvalidParameter)
	assert.Equal(t, defaultParams, c.Parameters())
}

func TestControllerRunsInBackground(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, Policy{})
	c := NewController(h.engine, defaultParams, nil)
	require.NoError(t, c.SelectRecipe("ALD"))

	runID, err := c.Go(context.Background())
	require.NoError(t, err)
	assert.Equal(t, epoch.Format(types.TimestampLayout), runID)
	c.Wait()

	res, ok := c.LastResult()
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, runID, res.RunID)
	assert.False(t, c.Stop(), "stop while idle is a no-op")
}

// 运行回到 IDLE 之后 STOP 不再报告有运行被停止
func TestControllerStopAfterRunReleased(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, Policy{})
	c := NewController(h.engine, defaultParams, nil)
	require.NoError(t, c.SelectRecipe("ALD"))

	stopped := true
	h.sink.onStatus = func(state types.RunState) {
		if state.Status == types.StatusIdle {
			stopped = c.Stop()
		}
	}

	_, err := c.Go(context.Background())
	require.NoError(t, err)
	c.Wait()

	assert.False(t, stopped)
	res, ok := c.LastResult()
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, res.Status)
}

func TestControllerGoWhileRunningAndStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, Policy{})
	c := NewController(h.engine, defaultParams, nil)
	require.NoError(t, c.SelectRecipe("peald"))

	// 在第一条前驱体命令处挂起运行
	entered := make(chan struct{})
	release := make(chan struct{})
	h.act.OnCall = func(call string) {
		if call == "gas_on(precursor1)" {
			close(entered)
			<-release
		}
	}

	_, err := c.Go(context.Background())
	require.NoError(t, err)
	<-entered

	_, err = c.Go(context.Background())
	assert.ErrorIs(t, err, types.ErrRunActive)
	assert.ErrorIs(t, c.TestPlasmaConnection(context.Background()), types.ErrRunActive)

	assert.True(t, c.Stop())
	close(release)
	c.Wait()

	res, ok := c.LastResult()
	require.True(t, ok)
	assert.Equal(t, types.StatusAborted, res.Status)
	assert.Equal(t, types.EndingForced, res.Ending)
	calls := h.act.Calls()
	assert.Equal(t, safeCalls, calls[len(calls)-4:])
	assert.NotContains(t, calls, "rf_on")
}

func TestControllerCallerContextDoesNotStopRun(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, Policy{})
	c := NewController(h.engine, defaultParams, nil)
	require.NoError(t, c.SelectRecipe("Purge"))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.Go(ctx)
	require.NoError(t, err)
	cancel()
	c.Wait()

	res, _ := c.LastResult()
	assert.Equal(t, types.StatusCompleted, res.Status)
}

func TestControllerAppliesConfiguredWait(t *testing.T) {
	h := newHarness(t, Policy{})
	waits := map[recipe.Kind]WaitSetting{recipe.PulsedPECVD: {Wait: 300 * time.Second}}
	c := NewController(h.engine, defaultParams, waits)
	require.NoError(t, c.SelectRecipe("Pulsed PECVD"))

	plan, err := c.Plan()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, plan.Wait)
	assert.False(t, plan.IncludeWait)
	assert.Equal(t, plan.TotalDuration(), plan.Estimate())

	require.NoError(t, c.SelectRecipe("PEALD"))
	plan, err = c.Plan()
	require.NoError(t, err)
	assert.Zero(t, plan.Wait)
}

func TestControllerParametersApplyToNextRun(t *testing.T) {
	h := newHarness(t, Policy{})
	c := NewController(h.engine, defaultParams, nil)
	require.NoError(t, c.SelectRecipe("cvd"))

	p := defaultParams
	p.Pulse1 = 7
	require.NoError(t, c.SetParameters(p))
	_, err := c.Go(context.Background())
	require.NoError(t, err)
	c.Wait()

	res, _ := c.LastResult()
	assert.Equal(t, 7*time.Second, res.Duration)
}

func TestPlasmaConnectionTest(t *testing.T) {
	h := newHarness(t, Policy{})
	c := NewController(h.engine, defaultParams, nil)

	require.NoError(t, c.TestPlasmaConnection(context.Background()))
	assert.Equal(t, []string{"power(300)"}, h.act.Calls())

	h.act.FailOn("power(300)", errors.New("no response"))
	err := c.TestPlasmaConnection(context.Background())
	var aerr *types.ActuatorError
	require.True(t, errors.As(err, &aerr))
	assert.Len(t, h.sink.Alerts(), 1)
}
