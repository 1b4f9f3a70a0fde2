package mqtt_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/completion-relay/shared/mqtt"
	"github.com/cuongbtq/completion-relay/shared/mqtt/mqtttest"
)

func newTestClient(f *mqtttest.Factory) *mqtt.Client {
	return mqtt.NewClient(&mqtt.Config{URL: "tcp://broker:1883", ClientID: "relay-api-1a2b3c4d"},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		mqtt.WithFactory(f.New),
	)
}

func TestClient_ConnReusesLiveSession(t *testing.T) {
	f := &mqtttest.Factory{}
	c := newTestClient(f)

	first, err := c.Conn()
	require.NoError(t, err)
	second, err := c.Conn()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, f.Dials())
	assert.Equal(t, "relay-api-1a2b3c4d", f.Last().ClientID())
}

func TestClient_ConnectFailure(t *testing.T) {
	f := &mqtttest.Factory{ConnectErr: errors.New("connection refused")}
	c := newTestClient(f)

	_, err := c.Conn()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestClient_ConnectionLostNotifiesListeners(t *testing.T) {
	f := &mqtttest.Factory{}
	c := newTestClient(f)

	session, err := c.Conn()
	require.NoError(t, err)

	var got []error
	c.NotifyLost(session, func(err error) { got = append(got, err) })

	dropErr := errors.New("keepalive timeout")
	f.Last().Drop(dropErr)

	require.Len(t, got, 1)
	assert.Equal(t, dropErr, got[0])

	// The dropped session is not reused, and its listeners do not fire twice
	next, err := c.Conn()
	require.NoError(t, err)
	assert.NotSame(t, session, next)
	assert.Equal(t, 2, f.Dials())
	assert.Len(t, got, 1)
}

func TestClient_StaleDropIsIgnored(t *testing.T) {
	f := &mqtttest.Factory{}
	c := newTestClient(f)

	old, err := c.Conn()
	require.NoError(t, err)
	oldFake := f.Last()
	oldFake.Disconnect(0)

	current, err := c.Conn()
	require.NoError(t, err)

	fired := 0
	c.NotifyLost(current, func(error) { fired++ })

	// A late report from the replaced session must not end the new one
	oldFake.Drop(errors.New("late"))
	assert.Equal(t, 0, fired)
	assert.NotSame(t, old, current)
}

func TestClient_ReplacingDeadSessionNotifiesListeners(t *testing.T) {
	f := &mqtttest.Factory{}
	c := newTestClient(f)

	session, err := c.Conn()
	require.NoError(t, err)

	var got error
	c.NotifyLost(session, func(err error) { got = err })

	// Connection gone without the handler firing, e.g. during a health check
	f.Last().Disconnect(0)
	_, err = c.Conn()
	require.NoError(t, err)

	assert.ErrorIs(t, got, mqtt.ErrSessionLost)
}

func TestClient_NotifyLostOnStaleSessionFiresImmediately(t *testing.T) {
	f := &mqtttest.Factory{}
	c := newTestClient(f)

	session, err := c.Conn()
	require.NoError(t, err)
	f.Last().Drop(errors.New("eof"))

	var got error
	cancel := c.NotifyLost(session, func(err error) { got = err })
	cancel()

	assert.ErrorIs(t, got, mqtt.ErrSessionLost)
}

func TestClient_CancelledListenerDoesNotFire(t *testing.T) {
	f := &mqtttest.Factory{}
	c := newTestClient(f)

	session, err := c.Conn()
	require.NoError(t, err)

	fired := false
	cancel := c.NotifyLost(session, func(error) { fired = true })
	cancel()

	f.Last().Drop(errors.New("eof"))
	assert.False(t, fired)
}

func TestClient_CloseEndsListenersAndRefusesConn(t *testing.T) {
	f := &mqtttest.Factory{}
	c := newTestClient(f)

	session, err := c.Conn()
	require.NoError(t, err)

	var got error
	c.NotifyLost(session, func(err error) { got = err })

	require.NoError(t, c.Close())
	assert.ErrorIs(t, got, mqtt.ErrNotConnected)
	assert.False(t, f.Last().IsConnected())

	_, err = c.Conn()
	assert.ErrorIs(t, err, mqtt.ErrNotConnected)
}
