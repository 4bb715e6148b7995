package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"orderrelay/internal/common"
	"orderrelay/internal/domain/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var coffeeOrder = order.Payload{
	Orderer: "Kim",
	Items:   []order.Item{{Name: "Coffee", Category: "premium", Quantity: "2"}},
}

type sessionRig struct {
	dispatcher *Dispatcher
	manager    *ConnectionManager
	session    *fakeSession
	timers     *fakeTimers
}

// newSessionRig wires a dispatcher whose session backend is connected.
func newSessionRig(t *testing.T, redeliverer Redeliverer) *sessionRig {
	t.Helper()

	dir := NewDirectory()
	session := &fakeSession{channels: []ChannelHandle{{ID: "c-1", Destination: "orders", MemberCount: 8}}}
	timers := &fakeTimers{}
	manager := NewConnectionManager(session, dir, ConnectionConfig{LoginTimeout: time.Second}, timers)

	selector := NewSelector(Availability{Session: true},
		NewSimulationBackend(dir, []string{"orders", "kitchen"}),
		NewSessionBackend(manager),
	)
	require.Equal(t, MethodSession, selector.Start(context.Background(), MethodAuto))
	require.Eventually(t, func() bool { return manager.Snapshot().State == StateConnected }, time.Second, 5*time.Millisecond)

	d := NewDispatcher(selector, manager, dir, NewStatusRecorder(), nil, redeliverer, DispatcherConfig{
		Destination: "orders",
		SendTimeout: time.Second,
	})
	return &sessionRig{dispatcher: d, manager: manager, session: session, timers: timers}
}

func TestDispatcher_SubmitOrderOverSession(t *testing.T) {
	rig := newSessionRig(t, nil)

	result := rig.dispatcher.SubmitOrder(context.Background(), coffeeOrder)

	assert.True(t, result.Accepted)
	assert.True(t, result.Outcome.Success)
	assert.Equal(t, MethodSession, result.Outcome.Method)
	assert.Equal(t, "Kim님 주문!\n⭐Coffee⭐, 2개", result.RenderedText)

	sent := rig.session.lastConn().sentTexts()
	require.Len(t, sent, 1)
	assert.Equal(t, "c-1", sent[0].channelID)
}

func TestDispatcher_SubmitOrderWhileDisconnected(t *testing.T) {
	rig := newSessionRig(t, nil)
	rig.session.lastConn().drop()
	require.Eventually(t, func() bool { return rig.manager.Snapshot().State == StateDisconnected }, time.Second, 5*time.Millisecond)

	result := rig.dispatcher.SubmitOrder(context.Background(), coffeeOrder)

	assert.False(t, result.Accepted)
	assert.False(t, result.Outcome.Success)
	assert.Equal(t, string(common.KindNotConnected), result.Outcome.Error)

	status := rig.dispatcher.Status()
	assert.Equal(t, StateDisconnected, status.ConnectionState)
	require.NotNil(t, status.LastOutcome)
	assert.Equal(t, string(common.KindNotConnected), status.LastOutcome.Error)
	assert.Equal(t, int64(1), status.Failed)
}

func TestDispatcher_QueuesRedeliverableFailures(t *testing.T) {
	redeliverer := &recordingRedeliverer{}
	rig := newSessionRig(t, redeliverer)
	rig.session.lastConn().drop()
	require.Eventually(t, func() bool { return rig.manager.Snapshot().State == StateDisconnected }, time.Second, 5*time.Millisecond)

	result := rig.dispatcher.SubmitOrder(context.Background(), coffeeOrder)

	assert.True(t, result.Accepted)
	assert.True(t, result.Queued)
	assert.False(t, result.Outcome.Success)
	require.Len(t, redeliverer.messages, 1)
	assert.Equal(t, "orders", redeliverer.messages[0].Destination)
	assert.Equal(t, "Kim", redeliverer.messages[0].Orderer)
}

func TestDispatcher_SwitchToSimulation(t *testing.T) {
	rig := newSessionRig(t, nil)

	resp, err := rig.dispatcher.SwitchMethod(context.Background(), "simulation")
	require.NoError(t, err)
	assert.True(t, resp.Outcome.Success)
	assert.Equal(t, MethodSimulation, resp.Status.Method)

	result := rig.dispatcher.SubmitOrder(context.Background(), coffeeOrder)

	assert.True(t, result.Outcome.Success)
	assert.Equal(t, MethodSimulation, result.Outcome.Method)
	assert.Equal(t, 2, rig.dispatcher.Status().ChannelCount)
	assert.Len(t, rig.dispatcher.Channels().Handles, 2)
	assert.Equal(t, StateUninitialized, rig.manager.Snapshot().State, "session is torn down")
}

func TestDispatcher_SwitchMethodErrors(t *testing.T) {
	rig := newSessionRig(t, nil)

	_, err := rig.dispatcher.SwitchMethod(context.Background(), "fax")
	var verr *common.ValidationError
	assert.True(t, errors.As(err, &verr))

	resp, err := rig.dispatcher.SwitchMethod(context.Background(), "team")
	require.NoError(t, err)
	assert.False(t, resp.Outcome.Success)
	assert.Equal(t, string(common.KindConfigMissing), resp.Outcome.Error)
	assert.Equal(t, MethodSession, resp.Status.Method)
}

func TestDispatcher_Reconnect(t *testing.T) {
	rig := newSessionRig(t, nil)
	rig.session.setFailNext(1)

	resp := rig.dispatcher.Reconnect()

	assert.False(t, resp.Outcome.Success)
	assert.Equal(t, string(common.KindNotConnected), resp.Outcome.Error)
	assert.Equal(t, StateConnecting, resp.Status.ConnectionState)
	assert.Equal(t, 1, resp.Status.Attempts)

	resp = rig.dispatcher.Reconnect()

	assert.True(t, resp.Outcome.Success)
	assert.Equal(t, StateConnected, resp.Status.ConnectionState)
	assert.Equal(t, 0, resp.Status.Attempts)
}

func TestDispatcher_ReconnectWithoutSession(t *testing.T) {
	dir := NewDirectory()
	selector := NewSelector(Availability{}, NewSimulationBackend(dir, []string{"orders"}))
	selector.Start(context.Background(), MethodAuto)
	d := NewDispatcher(selector, nil, dir, NewStatusRecorder(), nil, nil, DispatcherConfig{Destination: "orders"})

	resp := d.Reconnect()

	assert.False(t, resp.Outcome.Success)
	assert.Equal(t, string(common.KindConfigMissing), resp.Outcome.Error)
	assert.Equal(t, StateUninitialized, resp.Status.ConnectionState)
}

func TestDispatcher_ReconnectWhenSessionInactive(t *testing.T) {
	rig := newSessionRig(t, nil)
	_, err := rig.dispatcher.SwitchMethod(context.Background(), "simulation")
	require.NoError(t, err)

	resp := rig.dispatcher.Reconnect()

	assert.False(t, resp.Outcome.Success)
	assert.Equal(t, string(common.KindNotConnected), resp.Outcome.Error)
}

func TestDispatcher_DestinationRateLimit(t *testing.T) {
	newDispatcher := func(limiter DestinationLimiter) *Dispatcher {
		dir := NewDirectory()
		selector := NewSelector(Availability{}, NewSimulationBackend(dir, []string{"orders"}))
		selector.Start(context.Background(), MethodAuto)
		return NewDispatcher(selector, nil, dir, NewStatusRecorder(), limiter, nil, DispatcherConfig{Destination: "orders"})
	}

	t.Run("denied", func(t *testing.T) {
		result := newDispatcher(stubLimiter{allowed: false}).SubmitOrder(context.Background(), coffeeOrder)
		assert.False(t, result.Outcome.Success)
		assert.Equal(t, string(common.KindRateLimited), result.Outcome.Error)
	})

	t.Run("limiter unavailable fails open", func(t *testing.T) {
		result := newDispatcher(stubLimiter{err: errors.New("dial tcp: connection refused")}).SubmitOrder(context.Background(), coffeeOrder)
		assert.True(t, result.Outcome.Success)
	})
}

func TestDispatcher_RedeliverSkipsLimiter(t *testing.T) {
	dir := NewDirectory()
	stub := &stubBackend{method: MethodTeam}
	selector := NewSelector(Availability{Team: true}, NewSimulationBackend(dir, []string{"orders"}), stub)
	selector.Start(context.Background(), MethodAuto)
	d := NewDispatcher(selector, nil, dir, NewStatusRecorder(), stubLimiter{allowed: false}, nil, DispatcherConfig{Destination: "orders"})

	err := d.Redeliver(context.Background(), &Message{Destination: "orders", Text: "queued"})

	require.NoError(t, err)
	_, _, sent := stub.counts()
	assert.Equal(t, 1, sent)
}

func TestDispatcher_RedeliverKeepsKind(t *testing.T) {
	dir := NewDirectory()
	stub := &stubBackend{method: MethodTeam, err: common.NewDeliveryError(common.KindNotFound, "team", "no conversation")}
	selector := NewSelector(Availability{Team: true}, NewSimulationBackend(dir, []string{"orders"}), stub)
	selector.Start(context.Background(), MethodAuto)
	d := NewDispatcher(selector, nil, dir, NewStatusRecorder(), nil, nil, DispatcherConfig{Destination: "orders"})

	err := d.Redeliver(context.Background(), &Message{Destination: "orders", Text: "queued"})

	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestDispatcher_SwitchFromSimulationDropsSimulatedChannels(t *testing.T) {
	dir := NewDirectory()
	session := &fakeSession{channelsErr: errors.New("listing timed out")}
	manager := NewConnectionManager(session, dir, ConnectionConfig{LoginTimeout: time.Second}, &fakeTimers{})
	selector := NewSelector(Availability{Session: true},
		NewSimulationBackend(dir, []string{"orders"}),
		NewSessionBackend(manager),
	)
	require.Equal(t, MethodSimulation, selector.Start(context.Background(), MethodSimulation))
	d := NewDispatcher(selector, manager, dir, NewStatusRecorder(), nil, nil, DispatcherConfig{
		Destination: "orders",
		SendTimeout: time.Second,
	})
	require.Equal(t, 1, d.Status().ChannelCount)

	resp, err := d.SwitchMethod(context.Background(), "session")
	require.NoError(t, err)
	require.True(t, resp.Outcome.Success)
	require.Eventually(t, func() bool { return manager.Snapshot().State == StateConnected }, time.Second, 5*time.Millisecond)

	result := d.SubmitOrder(context.Background(), coffeeOrder)

	assert.False(t, result.Outcome.Success)
	assert.Equal(t, string(common.KindNotFound), result.Outcome.Error)
	assert.Empty(t, session.lastConn().sentTexts())
	assert.Empty(t, d.Channels().Handles)
}
