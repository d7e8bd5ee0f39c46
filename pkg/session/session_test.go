package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelink-protocol/corelink-go/pkg/connector"
)

func testOptions(f *fakeConnector) Options {
	return Options{
		Identity:   DeviceIdentity{DeviceID: "D1", Token: "T1"},
		Descriptor: DeviceDescriptor{Type: "sensor", Name: "Test Sensor"},
		NewConnector: func() (connector.Connector, error) {
			return f, nil
		},
	}
}

func newTestSession(t *testing.T, f *fakeConnector) *Session {
	t.Helper()

	s, err := New(testOptions(f))
	require.NoError(t, err)
	t.Cleanup(s.Destroy)
	return s
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Identity: DeviceIdentity{DeviceID: "D1", Token: "T1"}})
	require.Error(t, err, "missing device type must be rejected")
}

func TestInitPerformsHandshake(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	deviceID, err := s.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "D1", deviceID)
	assert.True(t, s.Connected())

	handshakes := f.callsTo(MethodInitialize)
	require.Len(t, handshakes, 1)

	args := handshakes[0].args
	require.GreaterOrEqual(t, len(args), 3)
	assert.Equal(t, "D1", args[0], "calls must be prefixed with the device id")
	assert.Equal(t, "T1", args[1], "calls must be prefixed with the device token")

	announcement, ok := args[2].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sensor", announcement["type"])
	assert.Equal(t, "Test Sensor", announcement["name"])
	assert.Equal(t, f.ConnectionID(), announcement["connectionId"])
	assert.NotContains(t, announcement, "parentDeviceId")
	assert.NotNil(t, announcement["versions"])
}

func TestInitTwiceFails(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	_, err = s.Init(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitWithoutFactory(t *testing.T) {
	s, err := New(Options{
		Identity:   DeviceIdentity{DeviceID: "D1", Token: "T1"},
		Descriptor: DeviceDescriptor{Type: "sensor"},
	})
	require.NoError(t, err)

	_, err = s.Init(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInitHandshakeFailure(t *testing.T) {
	f := newFakeConnector()
	f.setError(MethodInitialize, &connector.RemoteCallError{
		Method: MethodInitialize, Code: 403, Message: "invalid token",
	})
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.Error(t, err)

	var rce *connector.RemoteCallError
	assert.ErrorAs(t, err, &rce)
}

func TestReconnectWithFreshIDRepeatsHandshake(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)
	require.Len(t, f.callsTo(MethodInitialize), 1)

	f.drop()
	assert.False(t, s.Connected())

	f.reconnect(true)
	assert.True(t, s.Connected())
	assert.Len(t, f.callsTo(MethodInitialize), 2,
		"a new transport session id must trigger exactly one fresh handshake")
}

func TestReconnectWithSameIDSkipsHandshake(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	f.drop()
	f.reconnect(false)

	assert.True(t, s.Connected())
	assert.Len(t, f.callsTo(MethodInitialize), 1,
		"an unchanged transport session id means the core still knows the device")
}

func TestConnectivityEventsExactlyOnce(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	var flips []bool
	s.OnConnectionChanged(func(connected bool) {
		flips = append(flips, connected)
	})

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	// Duplicate report of the current state must be suppressed.
	f.connChangedHub.Publish(true)

	f.drop()
	f.connChangedHub.Publish(false)

	assert.Equal(t, []bool{true, false}, flips)
}

func TestAutoSubscriptionReplay(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	autoID, err := s.AutoSubscribe(context.Background(), "measurements", "room-1")
	require.NoError(t, err)
	_, err = s.AutoSubscribe(context.Background(), "alerts")
	require.NoError(t, err)
	plainID, err := s.Subscribe(context.Background(), "diagnostics")
	require.NoError(t, err)

	assert.Equal(t, 2, s.AutoSubscriptionCount())

	f.drop()
	f.reconnect(true)

	assert.Equal(t, 1, f.subscriptionsOf("measurements"))
	assert.Equal(t, 1, f.subscriptionsOf("alerts"))
	assert.Equal(t, 0, f.subscriptionsOf("diagnostics"),
		"plain subscriptions are not replayed")

	// The replay allocated fresh ids; the originals died with the
	// old transport session.
	assert.Equal(t, 2, s.AutoSubscriptionCount())
	assert.ErrorIs(t, s.Unsubscribe(autoID), connector.ErrSubscriptionNotFound)
	assert.ErrorIs(t, s.Unsubscribe(plainID), connector.ErrSubscriptionNotFound)
}

func TestUnsubscribeStopsReplay(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	id, err := s.AutoSubscribe(context.Background(), "measurements")
	require.NoError(t, err)

	require.NoError(t, s.Unsubscribe(id))
	assert.Equal(t, 0, s.AutoSubscriptionCount())

	f.drop()
	f.reconnect(true)

	assert.Equal(t, 0, f.subscriptionsOf("measurements"))
}

func TestCallMethodStateGuards(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.CallMethod(context.Background(), MethodPing)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = s.Init(context.Background())
	require.NoError(t, err)

	f.drop()
	_, err = s.CallMethod(context.Background(), MethodPing)
	assert.ErrorIs(t, err, ErrNotConnected)

	s.Destroy()
	_, err = s.CallMethod(context.Background(), MethodPing)
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestSetStatusRoundTrip(t *testing.T) {
	f := newFakeConnector()
	f.setResult(MethodStatus, map[string]any{
		"code":     int64(StatusGood),
		"messages": []any{"all fine"},
	})
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	accepted, err := s.SetStatus(context.Background(), Status{Code: StatusGood, Messages: []string{"all fine"}})
	require.NoError(t, err)
	assert.Equal(t, StatusGood, accepted.Code)
	assert.Equal(t, []string{"all fine"}, accepted.Messages)

	calls := f.callsTo(MethodStatus)
	require.Len(t, calls, 1)
	sent, ok := calls[0].args[2].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int(StatusGood), sent["code"])
}

func TestUnInitializeThenNotFound(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	released, err := s.UnInitialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "D1", released)

	// The core no longer knows the device; device-scoped calls fail
	// remotely and the error reaches the caller untouched.
	f.setError(MethodStatus, &connector.RemoteCallError{
		Method: MethodStatus, Code: connector.NotFoundCode, Message: "device not registered",
	})
	_, err = s.SetStatus(context.Background(), Status{Code: StatusGood})
	assert.True(t, connector.IsNotFound(err))
}

func TestPing(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Ping(context.Background()))
	assert.Len(t, f.callsTo(MethodPing), 1)
}

func TestDestroyIdempotent(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	disconnects := 0
	s.OnDisconnected(func() { disconnects++ })

	s.Destroy()
	s.Destroy()

	assert.Equal(t, 1, disconnects, "observers see exactly one disconnect")
	assert.False(t, s.Connected())
}

func TestDestroyClosesOwnedConnector(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	s.Destroy()

	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	assert.True(t, closed)
}

func TestCurrentTimeUsesCoreClock(t *testing.T) {
	f := newFakeConnector()
	// Core clock runs one hour ahead.
	f.setResult(MethodGetTime, time.Now().Add(time.Hour).UnixMilli())
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	diff := s.CurrentTime().Sub(time.Now().Add(time.Hour))
	assert.Less(t, diff.Abs(), time.Minute)

	ts := s.TimeSync()
	require.NotNil(t, ts)
	_, synced := ts.Quality()
	assert.True(t, synced)
}

func TestTimeSyncFailureIsNonFatal(t *testing.T) {
	f := newFakeConnector()
	f.setError(MethodGetTime, errors.New("no time service"))
	s := newTestSession(t, f)

	var asyncErrs []error
	s.OnError(func(err error) { asyncErrs = append(asyncErrs, err) })

	_, err := s.Init(context.Background())
	require.NoError(t, err, "a failed time sync must not fail Init")
	assert.True(t, s.Connected())
	assert.NotEmpty(t, asyncErrs)

	// Fallback to local time.
	assert.Less(t, time.Since(s.CurrentTime()).Abs(), time.Minute)
}

func TestKeepAlivePingsWhileIdle(t *testing.T) {
	f := newFakeConnector()
	opts := testOptions(f)
	opts.KeepAliveInterval = 30 * time.Millisecond

	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(s.Destroy)

	_, err = s.Init(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(f.callsTo(MethodPing)) >= 2
	}, time.Second, 10*time.Millisecond, "idle keep-alive must ping repeatedly")

	f.drop()
	pings := len(f.callsTo(MethodPing))
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, len(f.callsTo(MethodPing)), pings+1,
		"keep-alive must stop while disconnected")
}

func TestLivenessProbeSuccess(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	// Echo the token back, as the core would over its command channel.
	f.onCall = func(method string, args []any) (any, error) {
		if method == MethodPingWithEcho {
			token, _ := args[2].(string)
			go s.SetPingResponse(token)
		}
		return nil, nil
	}

	probe := &livenessProbe{sess: s, poll: 5 * time.Millisecond, attempts: 20}
	require.NoError(t, probe.run(context.Background()))
}

func TestLivenessProbeTimeout(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	// No echo ever arrives.
	probe := &livenessProbe{sess: s, poll: 2 * time.Millisecond, attempts: 3}
	assert.ErrorIs(t, probe.run(context.Background()), ErrEchoTimeout)
}

func TestLivenessProbeSendFailureStillWaitsForEcho(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	f.setError(MethodPingWithEcho, errors.New("transient send failure"))

	probe := &livenessProbe{sess: s, poll: 2 * time.Millisecond, attempts: 3}
	assert.ErrorIs(t, probe.run(context.Background()), ErrEchoTimeout,
		"a failed send is non-fatal; the probe still waits for the echo")
}

func TestLivenessProbeCancelled(t *testing.T) {
	f := newFakeConnector()
	s := newTestSession(t, f)

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	probe := &livenessProbe{sess: s, poll: time.Hour, attempts: 1}
	assert.ErrorIs(t, probe.run(ctx), context.Canceled)
}

func TestWatchdogProbeRegistration(t *testing.T) {
	f := newFakeConnector()
	opts := testOptions(f)
	opts.EnableWatchdog = true
	opts.WatchdogTimeout = time.Hour // keep cycles out of this test

	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(s.Destroy)

	_, err = s.Init(context.Background())
	require.NoError(t, err)

	wd := s.Watchdog()
	require.NotNil(t, wd)
	assert.True(t, wd.Armed())
	assert.Equal(t, 1, wd.CheckCount(), "probe registered while connected")

	f.drop()
	assert.Equal(t, 0, wd.CheckCount(), "probe removed while disconnected")

	f.reconnect(true)
	assert.Equal(t, 1, wd.CheckCount())

	s.Destroy()
	assert.False(t, wd.Armed())
}
