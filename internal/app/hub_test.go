package app

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/busboard/internal/core"
	"github.com/dkeye/busboard/internal/core/mocks"
	"github.com/dkeye/busboard/internal/domain"
	"github.com/dkeye/busboard/internal/protocol"
)

type directory map[string]domain.User

func (d directory) Lookup(username string) (domain.User, bool) {
	u, ok := d[username]
	return u, ok
}

// recorder is a SignalConnection that keeps every frame it was given.
type recorder struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (r *recorder) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return core.ErrConnectionClosed
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recorder) messages(t *testing.T) []protocol.Outbound {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Outbound, 0, len(r.frames))
	for _, f := range r.frames {
		msg, err := protocol.DecodeOutbound(f)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

type fixture struct {
	hub     *Hub
	gate    *Gate
	metrics *Metrics
	clock   *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &clock{t: time.Unix(10_000, 0)}
	metrics := NewMetrics(prometheus.NewRegistry())
	dir := directory{
		"admin": {ID: "u1", Username: "admin", Name: "Admin"},
		"kiosk": {ID: "u2", Username: "kiosk", Name: "Kiosk"},
	}
	gate := NewGate(dir, metrics, WithMaxAge(time.Hour), WithGateClock(clk.Now))
	hub := NewHub(core.NewStateStore(domain.NewSharedState()), gate, NewRegistry(), SimplePolicy{}, metrics)
	return &fixture{hub: hub, gate: gate, metrics: metrics, clock: clk}
}

func (f *fixture) creds(user string) Credentials {
	return f.login(user, "login-"+user)
}

func (f *fixture) login(user, loginID string) Credentials {
	return Credentials{Username: user, LoginID: loginID, IssuedAt: f.clock.t}
}

func (f *fixture) connect(t *testing.T, sid, user string) *recorder {
	t.Helper()
	return f.connectAs(t, sid, f.creds(user))
}

func (f *fixture) connectAs(t *testing.T, sid string, creds Credentials) *recorder {
	t.Helper()
	conn := &recorder{}
	_, err := f.hub.OnConnect(core.SessionID(sid), creds, conn, nil)
	require.NoError(t, err)
	return conn
}

func routePatch() domain.Patch {
	return domain.NewPatch().
		SetRouteTable(domain.RouteTable{"3": {DestinationLabel: "DOWNTOWN", Stops: []domain.Stop{{Name: "A"}, {Name: "B"}}}}).
		SetActiveRoute("3").
		SetActiveStopIndex(0)
}

func TestOnConnect_RejectedNeverJoins(t *testing.T) {
	f := newFixture(t)
	ctrl := gomock.NewController(t)
	conn := mocks.NewMockSignalConnection(ctrl)
	conn.EXPECT().Close()

	sess, err := f.hub.OnConnect("s1", f.creds("mallory"), conn, nil)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Nil(t, sess)
	assert.Equal(t, 0, f.hub.ActiveCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GateRejections.WithLabelValues(StageConnect)))
}

func TestOnConnect_SendsInitialState(t *testing.T) {
	f := newFixture(t)
	f.hub.Store.Apply(routePatch())

	conn := f.connect(t, "v1", "kiosk")

	msgs := conn.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeInitialState, msgs[0].Type)
	assert.Equal(t, uint64(1), msgs[0].Version)
	assert.Equal(t, "3", msgs[0].State.ActiveRouteID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActiveConnections))
}

func TestOnMessage_BroadcastsToOthersOnly(t *testing.T) {
	f := newFixture(t)
	controller := f.connect(t, "ctl", "admin")
	viewer := f.connect(t, "v1", "kiosk")

	require.NoError(t, f.hub.OnMessage("ctl", routePatch()))

	assert.Len(t, controller.messages(t), 1)
	msgs := viewer.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.TypeStateUpdated, msgs[1].Type)
	route, idx, hasStop, ok := msgs[1].State.ActiveStop()
	require.True(t, ok)
	require.True(t, hasStop)
	assert.Equal(t, "A", route.Stops[idx].Name)
}

func TestOnMessage_PreservesOrder(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "ctl", "admin")
	viewer := f.connect(t, "v1", "kiosk")

	require.NoError(t, f.hub.OnMessage("ctl", routePatch()))
	require.NoError(t, f.hub.OnMessage("ctl", domain.NewPatch().SetActiveStopIndex(1)))

	msgs := viewer.messages(t)
	require.Len(t, msgs, 3)
	assert.Equal(t, uint64(1), msgs[1].Version)
	assert.Equal(t, uint64(2), msgs[2].Version)
	assert.Equal(t, 1, msgs[2].State.ActiveStopIndex)
}

func TestOnMessage_FanOutIsolation(t *testing.T) {
	f := newFixture(t)
	ctrl := gomock.NewController(t)

	f.connect(t, "ctl", "admin")
	a := f.connect(t, "a", "kiosk")

	b := mocks.NewMockSignalConnection(ctrl)
	gomock.InOrder(
		b.EXPECT().TrySend(gomock.Any()).Return(nil),
		b.EXPECT().TrySend(gomock.Any()).Return(core.ErrBackpressure),
	)
	b.EXPECT().Close()
	_, err := f.hub.OnConnect("b", f.creds("kiosk"), b, nil)
	require.NoError(t, err)

	c := f.connect(t, "c", "kiosk")

	require.NoError(t, f.hub.OnMessage("ctl", routePatch()))

	assert.Len(t, a.messages(t), 2)
	assert.Len(t, c.messages(t), 2)
	assert.Equal(t, 3, f.hub.ActiveCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DeliveriesDropped))
	_, ok := f.hub.Registry.GetSession("b")
	assert.False(t, ok)
}

func TestOnMessage_MalformedFieldIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "ctl", "admin")
	require.NoError(t, f.hub.OnMessage("ctl", domain.NewPatch().SetActiveStopIndex(3)))

	in, err := protocol.DecodeInbound([]byte(`{"type":"patch","fields":{"activeStopIndex":"x","serviceStatus":"offline"}}`))
	require.NoError(t, err)
	require.NoError(t, f.hub.OnMessage("ctl", in.Patch))

	state, _ := f.hub.Snapshot()
	assert.Equal(t, 3, state.ActiveStopIndex)
	assert.Equal(t, domain.ServiceOffline, state.ServiceStatus)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MalformedFields.WithLabelValues("activeStopIndex")))
}

func TestOnMessage_ExpiredIdentityIsDisconnected(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t, "ctl", "admin")
	before, v := f.hub.Snapshot()

	f.clock.t = f.clock.t.Add(2 * time.Hour)
	err := f.hub.OnMessage("ctl", domain.NewPatch().SetActiveStopIndex(9))

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, conn.isClosed())
	after, v2 := f.hub.Snapshot()
	assert.Equal(t, before, after)
	assert.Equal(t, v, v2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GateRejections.WithLabelValues(StageMessage)))
}

func TestRevoke_DropsOnlyThatLogin(t *testing.T) {
	f := newFixture(t)
	panel := f.connectAs(t, "panel", f.login("admin", "browser-a"))
	kiosk := f.connectAs(t, "kiosk", f.login("admin", "browser-b"))

	f.clock.t = f.clock.t.Add(time.Second)
	f.gate.Revoke("browser-a")

	assert.True(t, panel.isClosed())
	assert.False(t, kiosk.isClosed())
	assert.ErrorIs(t, f.hub.OnMessage("panel", routePatch()), ErrUnknownSession)
	require.NoError(t, f.hub.OnMessage("kiosk", routePatch()))
	assert.Equal(t, []core.SessionID{"kiosk"}, f.hub.Registry.SessionsOf("admin"))

	_, err := f.hub.OnConnect("panel2", f.login("admin", "browser-a"), &recorder{}, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	f.connectAs(t, "panel3", f.login("admin", "browser-c"))
}

func TestRevokeUser_DropsEveryLogin(t *testing.T) {
	f := newFixture(t)
	a := f.connectAs(t, "a", f.login("admin", "browser-a"))
	b := f.connectAs(t, "b", f.login("admin", "browser-b"))
	viewer := f.connect(t, "v1", "kiosk")

	f.clock.t = f.clock.t.Add(time.Second)
	f.gate.RevokeUser("admin")

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.False(t, viewer.isClosed())

	_, err := f.hub.OnConnect("stale", Credentials{Username: "admin", LoginID: "browser-d", IssuedAt: f.clock.t.Add(-time.Millisecond)}, &recorder{}, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	f.clock.t = f.clock.t.Add(time.Second)
	f.connectAs(t, "fresh", f.login("admin", "browser-e"))
}

func TestOnRequestSnapshot(t *testing.T) {
	f := newFixture(t)
	viewer := f.connect(t, "v1", "kiosk")
	f.hub.Store.Apply(routePatch())

	require.NoError(t, f.hub.OnRequestSnapshot("v1"))
	msgs := viewer.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.TypeInitialState, msgs[1].Type)
	assert.Equal(t, "3", msgs[1].State.ActiveRouteID)

	assert.ErrorIs(t, f.hub.OnRequestSnapshot("nobody"), ErrUnknownSession)
}

func TestOnDisconnect_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "v1", "kiosk")
	before, _ := f.hub.Snapshot()

	f.hub.OnDisconnect("v1")
	f.hub.OnDisconnect("v1")

	after, _ := f.hub.Snapshot()
	assert.Equal(t, before, after)
	assert.Equal(t, 0, f.hub.ActiveCount())
	assert.Equal(t, 0, f.hub.Registry.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveConnections))
	assert.ErrorIs(t, f.hub.OnMessage("v1", routePatch()), ErrUnknownSession)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "ctl", "admin")
	require.NoError(t, f.hub.OnMessage("ctl", routePatch()))

	f.hub.Reset()

	state, _ := f.hub.Snapshot()
	assert.Equal(t, domain.NewSharedState(), state)
}
