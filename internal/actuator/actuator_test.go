package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ald-reactor/internal/types"
	"ald-reactor/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSimulatedRelayRegisters(t *testing.T) {
	sim, err := NewSimulated(nil, discardLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sim.SetGas(ctx, types.LinePrecursor2, true))
	require.NoError(t, sim.SetGas(ctx, types.LineCarrier, true))
	require.NoError(t, sim.SetPlasmaPower(ctx, 300))
	require.NoError(t, sim.SetRF(ctx, true))

	st := sim.State()
	assert.Equal(t, map[int]bool{1: false, 2: true, 3: true, 4: false}, st.Relays)
	assert.True(t, st.Lines[types.LineCarrier])
	assert.False(t, st.Lines[types.LinePrecursor1])
	assert.True(t, st.RFOn)
	assert.Equal(t, 300.0, st.PlasmaPowerW)

	require.NoError(t, sim.SetGas(ctx, types.LinePrecursor2, false))
	assert.False(t, sim.State().Relays[2])
}

func TestSimulatedRejectsBadWiring(t *testing.T) {
	_, err := NewSimulated(map[types.Line]int{types.LineCarrier: 5}, discardLogger())
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 5.0, ve.Value)

	sim, err := NewSimulated(map[types.Line]int{types.LinePrecursor1: 1}, discardLogger())
	require.NoError(t, err)
	assert.Error(t, sim.SetGas(context.Background(), types.LineCarrier, true))
}

func TestSimulatedFailureInjection(t *testing.T) {
	sim, err := NewSimulated(nil, discardLogger())
	require.NoError(t, err)
	sim.FailRate = 1
	assert.ErrorIs(t, sim.SetRF(context.Background(), true), ErrInjected)
	assert.False(t, sim.State().RFOn)
}

func TestSimulatedLatencyHonoursContext(t *testing.T) {
	sim, err := NewSimulated(nil, discardLogger())
	require.NoError(t, err)
	sim.Latency = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sim.SetGas(ctx, types.LinePrecursor1, true), context.DeadlineExceeded)
}

func TestRemoteSendsRequestsWithTraceID(t *testing.T) {
	type seen struct {
		path, trace string
		body        map[string]any
	}
	var (
		mu  sync.Mutex
		got []seen
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, seen{path: r.URL.Path, trace: r.Header.Get("X-Trace-ID"), body: body})
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(GatewayResponse{Success: true})
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, time.Second, discardLogger())
	ctx := util.ContextWithTraceID(context.Background(), "trace-1")

	require.NoError(t, remote.SetGas(ctx, types.LinePrecursor1, true))
	require.NoError(t, remote.SetRF(ctx, false))
	require.NoError(t, remote.SetPlasmaPower(ctx, 250))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, "/gas", got[0].path)
	assert.Equal(t, "precursor1", got[0].body["line"])
	assert.Equal(t, true, got[0].body["on"])
	assert.Equal(t, "/rf", got[1].path)
	assert.Equal(t, "/power", got[2].path)
	assert.Equal(t, 250.0, got[2].body["watts"])
	for _, s := range got {
		assert.Equal(t, "trace-1", s.trace)
	}
}

func TestRemoteReportsGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(GatewayResponse{Success: false, Error: "relay board not responding"})
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, time.Second, discardLogger())
	err := remote.SetGas(context.Background(), types.LineCarrier, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay board not responding")
}

func TestRemoteHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	remote := NewRemote(srv.URL, time.Second, discardLogger())
	assert.NoError(t, remote.Health(context.Background()))

	srv.Close()
	assert.Error(t, remote.Health(context.Background()))
}

// fakePort 记录写入内容，并按顺序返回预置的应答
type fakePort struct {
	written bytes.Buffer
	replies *strings.Reader
	closed  bool
}

func newFakePort(replies ...string) *fakePort {
	return &fakePort{replies: strings.NewReader(strings.Join(replies, ""))}
}

func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *fakePort) Read(b []byte) (int, error)  { return p.replies.Read(b) }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestMKSSwitchCommands(t *testing.T) {
	port := newFakePort()
	mks := NewMKS(port, discardLogger())

	require.NoError(t, mks.On(1))
	require.NoError(t, mks.Off(1))
	require.NoError(t, mks.OnAll())
	require.NoError(t, mks.OffAll())
	assert.Equal(t, "ON 1\r\nOF 1\r\nON 0\r\nOF 0\r\n", port.written.String())

	require.NoError(t, mks.Close())
	assert.True(t, port.closed)
}

func TestMKSSetpointUsesRangeAndCorrection(t *testing.T) {
	// GC 100 => 校正系数 1.0；RA 6 => 100 SCCM
	port := newFakePort("100\r\n", "6\r\n")
	mks := NewMKS(port, discardLogger())

	require.NoError(t, mks.SetSetpoint(1, 30))
	assert.Equal(t, "GC 1 R\r\nRA 1 R\r\nFS 1 300\r\n", port.written.String())
}

func TestMKSActualFlow(t *testing.T) {
	port := newFakePort("50\r\n", "3\r\n", "500\r\n")
	mks := NewMKS(port, discardLogger())

	flow, err := mks.ActualFlow(2)
	require.NoError(t, err)
	// 量程 10 SCCM * 0.5 = 5 SCCM；读数 500‰ => 2.5 SCCM
	assert.InDelta(t, 2.5, flow, 1e-9)
}

func TestMKSValidation(t *testing.T) {
	port := newFakePort("100\r\n", "6\r\n")
	mks := NewMKS(port, discardLogger())

	var ve *types.ValidationError
	require.True(t, errors.As(mks.On(5), &ve))
	require.True(t, errors.As(mks.Off(-1), &ve))
	_, err := mks.CorrectionFactor(0)
	require.True(t, errors.As(err, &ve))

	err = mks.SetSetpoint(1, 150)
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "setpoint", ve.Field)
	assert.Equal(t, 100.0, ve.Max)
	assert.NotContains(t, port.written.String(), "FS")
}

func TestMKSReadTimeout(t *testing.T) {
	mks := NewMKS(&timeoutPort{}, discardLogger())
	_, err := mks.CorrectionFactor(1)
	assert.ErrorIs(t, err, ErrReadTimeout)
}

// timeoutPort 模拟串口读超时: Read 返回 (0, nil)
type timeoutPort struct{}

func (timeoutPort) Write(b []byte) (int, error) { return len(b), nil }
func (timeoutPort) Read([]byte) (int, error)    { return 0, nil }
func (timeoutPort) Close() error                { return nil }

func TestRouterDispatchesCarrier(t *testing.T) {
	base := NewRecorder()
	carrier := NewRecorder()
	r := NewRouter(base, map[types.Line]GasSetter{types.LineCarrier: carrier})
	ctx := context.Background()

	require.NoError(t, r.SetGas(ctx, types.LineCarrier, false))
	require.NoError(t, r.SetGas(ctx, types.LinePrecursor1, true))
	require.NoError(t, r.SetRF(ctx, true))
	require.NoError(t, r.SetPlasmaPower(ctx, 300))

	assert.Equal(t, []string{"gas_off(carrier)"}, carrier.Calls())
	assert.Equal(t, []string{"gas_on(precursor1)", "rf_on", "power(300)"}, base.Calls())
}

func TestMKSLineAsCarrier(t *testing.T) {
	port := newFakePort()
	line := &MKSLine{MKS: NewMKS(port, discardLogger()), Channel: 3}
	r := NewRouter(NewRecorder(), map[types.Line]GasSetter{types.LineCarrier: line})

	require.NoError(t, r.SetGas(context.Background(), types.LineCarrier, false))
	require.NoError(t, r.SetGas(context.Background(), types.LineCarrier, true))
	assert.Equal(t, "OF 3\r\nON 3\r\n", port.written.String())
}

func TestRecorderFailOn(t *testing.T) {
	rec := NewRecorder()
	boom := errors.New("boom")
	rec.FailOn("rf_on", boom)

	var hooked []string
	rec.OnCall = func(c string) { hooked = append(hooked, c) }

	assert.ErrorIs(t, rec.SetRF(context.Background(), true), boom)
	assert.NoError(t, rec.SetRF(context.Background(), false))
	assert.Equal(t, []string{"rf_on", "rf_off"}, rec.Calls())
	assert.Equal(t, rec.Calls(), hooked)

	rec.Reset()
	assert.Empty(t, rec.Calls())
}
