package remote_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/scensim/internal/metrics"
	"github.com/torosent/scensim/internal/registry"
	"github.com/torosent/scensim/internal/remote"
	"github.com/torosent/scensim/internal/simerr"
	"github.com/torosent/scensim/internal/simulator"
)

const pingScenario = `
scenario: ping
roles:
  - {name: client, dialog: ping, endpoint: loop}
dialogs:
  ping:
    schema: echo
    steps:
      - send: {name: request, body: "hello"}
      - expect: {name: request, body: "hello"}
        timeout: 1s
`

func newClient(t *testing.T) (*remote.Client, *simulator.Simulator) {
	t.Helper()
	sim := simulator.New(simulator.Options{TickInterval: 10 * time.Millisecond})
	t.Cleanup(func() { _ = sim.Quit(time.Second) })
	srv := httptest.NewServer(remote.NewServer(remote.NewTable(sim), nil).Handler())
	t.Cleanup(srv.Close)
	return remote.NewClient(srv.URL, 5*time.Second), sim
}

func TestOperationTableNames(t *testing.T) {
	table := remote.NewTable(simulator.New(simulator.Options{}))
	want := []string{
		"SetEndpointAddress", "GetEndpointNames", "GetSchemaNames", "GetSchemaInfos",
		"GetProtocolAdaptorTypes", "GetProtocolAdaptorTypeInfos", "GetProtocolAdaptorTypeForSchema",
		"CreateLocalEndpoint", "CreateLocalEndpointWithConfigurationFile", "BindRole", "Load",
		"LoadNoConfig", "LoadDataSet", "GetDataSetNames", "BindTable", "GetConfigurationDescription",
		"GetConfigurationNames", "SetPreferredScenario", "RemoveScenario", "GetScenarioNames",
		"GetInitiatingScenarioNames", "GetScenarioDescription", "GetScenarioBindings",
		"GetConnectivityStatusSummary", "RunSession", "VerifyStatus", "StartGeneratingSessions",
		"StopGeneratingSessions", "SetSessionRate", "RampUpSessionRate", "WaitUntilOperational",
		"GetSessionStatsSnapshot", "GetDialogStatsSnapshot", "ResetSessionAndDialogStats", "Quit",
	}
	assert.Len(t, table.Operations(), len(want))
	for _, name := range want {
		info, ok := table.Lookup(remote.Prefix + name)
		require.True(t, ok, name)
		assert.Equal(t, remote.Prefix+name, info.Name)

		_, ok = table.Lookup(name)
		assert.True(t, ok, "short name %s", name)
	}
}

func TestCallUnknownArgument(t *testing.T) {
	table := remote.NewTable(simulator.New(simulator.Options{}))
	_, err := table.Call(context.Background(), "ScenSimGetEndpointNames", remote.Args{"verbose": json.RawMessage("true")})
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestRemoteSessionLifecycle(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	var info registry.Info
	require.NoError(t, client.Call(ctx, "ScenSimCreateLocalEndpoint", map[string]any{
		"name":         "loop",
		"adaptor_type": "echo",
		"schemas":      "echo",
		"properties":   "delay=1ms\n",
	}, &info))
	assert.Equal(t, "loop", info.Name)

	require.NoError(t, client.Call(ctx, "ScenSimLoadNoConfig", map[string]any{"scenario": pingScenario}, nil))

	var names []string
	require.NoError(t, client.Call(ctx, "ScenSimGetInitiatingScenarioNames", nil, &names))
	assert.Equal(t, []string{"ping"}, names)

	var report remote.SessionReport
	require.NoError(t, client.Call(ctx, "ScenSimRunSession", map[string]any{"scenario": "ping", "messages": true}, &report))
	assert.Equal(t, metrics.OutcomeMatched, report.Outcome)
	require.Len(t, report.Messages, 2)
	assert.Equal(t, "hello", report.Messages[1].Body)

	var ok bool
	require.NoError(t, client.Call(ctx, "ScenSimVerifyStatus", nil, &ok))
	assert.True(t, ok)

	require.NoError(t, client.Call(ctx, "ScenSimSetSessionRate", map[string]any{"rate": "100"}, nil))
	var started bool
	require.NoError(t, client.Call(ctx, "ScenSimStartGeneratingSessions", nil, &started))
	assert.True(t, started)

	require.Eventually(t, func() bool {
		var snap metrics.SessionStatusSnapshot
		if err := client.Call(ctx, "ScenSimGetSessionStatsSnapshot", nil, &snap); err != nil {
			return false
		}
		return snap.Matching >= 3
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, client.Call(ctx, "StopGeneratingSessions", nil, nil))

	var stats remote.StatsReport
	require.NoError(t, client.Call(ctx, "ScenSimResetSessionAndDialogStats", nil, &stats))
	assert.Positive(t, stats.Sessions.Started)

	require.NoError(t, client.Call(ctx, "ScenSimQuit", map[string]any{"timeout": "1s"}, nil))
}

func TestRemoteErrorKinds(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	err := client.Call(ctx, "ScenSimGetScenarioDescription", map[string]any{"scenario": "absent"}, nil)
	var rerr *remote.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "configuration", rerr.Kind)
	assert.Equal(t, http.StatusBadRequest, rerr.Status)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)

	err = client.Call(ctx, "ScenSimLoad", map[string]any{"scenario": "::: not yaml"}, nil)
	assert.ErrorIs(t, err, simerr.ErrRecognition)

	err = client.Call(ctx, "ScenSimNoSuchThing", nil, nil)
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusNotFound, rerr.Status)

	err = client.Call(ctx, "ScenSimSetSessionRate", map[string]any{"rate": "fast"}, nil)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)

	err = client.Call(ctx, "ScenSimSetSessionRate", nil, nil)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestRemotePreferredScenario(t *testing.T) {
	client, sim := newClient(t)
	ctx := context.Background()

	require.NoError(t, client.Call(ctx, "ScenSimCreateLocalEndpoint", map[string]any{
		"name": "loop", "adaptor_type": "echo", "schemas": []string{"echo"},
	}, nil))
	require.NoError(t, client.Call(ctx, "ScenSimLoad", map[string]any{"scenario": pingScenario, "config": "main"}, nil))

	require.NoError(t, client.Call(ctx, "ScenSimSetPreferredScenario", map[string]any{"scenario": "ping"}, nil))

	var removed bool
	require.NoError(t, client.Call(ctx, "ScenSimRemoveScenario", map[string]any{"scenario": "ping"}, &removed))
	assert.False(t, removed)

	require.NoError(t, client.Call(ctx, "ScenSimSetPreferredScenario", map[string]any{"scenario": map[string]float64{}}, nil))
	require.NoError(t, client.Call(ctx, "ScenSimRemoveScenario", map[string]any{"scenario": "ping"}, &removed))
	assert.True(t, removed)
	assert.Empty(t, sim.ScenarioNames())

	err := client.Call(ctx, "ScenSimSetPreferredScenario", map[string]any{"scenario": map[string]float64{"absent": 1}}, nil)
	assert.ErrorIs(t, err, simerr.ErrSimulator)
}

func TestRemoteDataSetAndRamp(t *testing.T) {
	client, sim := newClient(t)
	ctx := context.Background()

	require.NoError(t, client.Call(ctx, "ScenSimLoadDataSet", map[string]any{
		"name": "users", "content": "name\nalice\nbob\n",
	}, nil))
	var names []string
	require.NoError(t, client.Call(ctx, "ScenSimGetDataSetNames", nil, &names))
	assert.Equal(t, []string{"users"}, names)

	require.NoError(t, client.Call(ctx, "ScenSimRampUpSessionRate", map[string]any{
		"initial": 2, "target": 4, "period": "1h",
	}, nil))
	assert.InDelta(t, 2, sim.SessionRate(), 0.1)

	err := client.Call(ctx, "ScenSimRampUpSessionRate", map[string]any{"initial": 2, "target": 4, "period": 0}, nil)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestListOperations(t *testing.T) {
	client, _ := newClient(t)
	ops, err := client.Operations(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, ops)

	var run remote.OperationInfo
	for _, op := range ops {
		if op.Name == "ScenSimRunSession" {
			run = op
		}
	}
	require.NotEmpty(t, run.Args)
	assert.Equal(t, "scenario", run.Args[0].Name)
	assert.False(t, run.Args[0].Optional)
}

func TestServeStopsOnQuit(t *testing.T) {
	sim := simulator.New(simulator.Options{})
	srv := remote.NewServer(remote.NewTable(sim), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), ln) }()

	client := remote.NewClient(ln.Addr().String(), 5*time.Second)
	require.NoError(t, client.Call(context.Background(), "ScenSimQuit", map[string]any{"timeout": 1}, nil))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after quit")
	}
}

func TestMalformedRequest(t *testing.T) {
	srv := httptest.NewServer(remote.NewServer(remote.NewTable(simulator.New(simulator.Options{})), nil).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/rpc", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body remote.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Error)
	assert.Equal(t, "configuration", body.Error.Kind)
}

type quitRecorder struct {
	simulator.Facade
	timeouts []time.Duration
}

func (q *quitRecorder) Quit(timeout time.Duration) error {
	q.timeouts = append(q.timeouts, timeout)
	return nil
}

func TestQuitTimeoutArgument(t *testing.T) {
	rec := &quitRecorder{}
	table := remote.NewTable(rec)
	ctx := context.Background()

	_, err := table.Call(ctx, "Quit", nil)
	require.NoError(t, err)
	_, err = table.Call(ctx, "ScenSimQuit", remote.Args{"timeout": json.RawMessage(`"250ms"`)})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{0, 250 * time.Millisecond}, rec.timeouts)
}

const slowScenario = `
scenario: slow
roles:
  - {name: client, dialog: ping, endpoint: slow}
dialogs:
  ping:
    schema: echo
    steps:
      - send: {name: request, body: "hello"}
      - expect: {name: request}
        timeout: 5s
`

func TestQuitWithoutTimeoutWaitsForSessions(t *testing.T) {
	sim := simulator.New(simulator.Options{TickInterval: 10 * time.Millisecond})
	table := remote.NewTable(sim)
	ctx := context.Background()

	_, err := sim.CreateLocalEndpoint("slow", "echo", []string{"echo"}, map[string]string{"delay": "300ms"})
	require.NoError(t, err)
	_, err = sim.LoadNoConfig(slowScenario)
	require.NoError(t, err)
	require.NoError(t, sim.SetSessionRate(20))
	require.True(t, sim.StartGeneratingSessions())

	require.Eventually(t, func() bool {
		return sim.SessionStatsSnapshot().Active > 0
	}, 5*time.Second, 5*time.Millisecond)

	_, err = table.Call(ctx, "Quit", nil)
	require.NoError(t, err)

	snap := sim.SessionStatsSnapshot()
	assert.Zero(t, snap.Active)
	assert.Zero(t, snap.Failed, "sessions in flight were forcibly terminated")
	assert.Positive(t, snap.Matching)
	assert.Equal(t, snap.Matching, snap.Finished)
}
