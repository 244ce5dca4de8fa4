package handler

import (
	"context"
	"net"
	"remote-config/remoteconfig"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, transport *fakeTransport) *RemoteConfigHandler {
	t.Helper()
	h := NewRemoteConfigHandlerWithSession(context.Background(), newTestSession(t, transport))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestRemoteConfigHandler_DiscoverIsIdempotent(t *testing.T) {
	transport := newFakeTransport(
		newFakeNode("10.0.0.5", "10.0.0.5,sACN E1.31,DMX\n0,MyE131Node"),
		newFakeNode("10.0.0.2", "10.0.0.2,Art-Net,Stepper,0"),
	)
	h := newTestHandler(t, transport)
	ctx := context.Background()

	first, err := h.Discover(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)

	notification := <-h.NotificationCh
	assert.Equal(t, RegistryChanged, notification.Type)
	assert.Len(t, notification.Nodes, 2)

	second, err := h.Discover(ctx)
	require.NoError(t, err)
	require.Len(t, second, 2)
	for i := range first {
		assert.True(t, first[i].Equal(second[i]), "同じ応答からは同じ一覧ができる")
	}

	select {
	case n := <-h.NotificationCh:
		t.Fatalf("変化がないのに通知された: %v", n.Type)
	default:
	}
}

func TestRemoteConfigHandler_NoDevicesFound(t *testing.T) {
	transport := newFakeTransport(newFakeNode("10.0.0.5", "10.0.0.5,Art-Net,DMX,0"))
	h := newTestHandler(t, transport)
	ctx := context.Background()

	_, err := h.Discover(ctx)
	require.NoError(t, err)
	<-h.NotificationCh

	transport.mu.Lock()
	transport.nodes[0].silent = true
	transport.mu.Unlock()

	nodes, err := h.Discover(ctx)
	assert.ErrorIs(t, err, ErrNoDevicesFound)
	assert.Empty(t, nodes)
	assert.Empty(t, h.Nodes(), "見つからなければ一覧は空になる")

	notification := <-h.NotificationCh
	assert.Equal(t, NoDevicesFound, notification.Type)
}

func TestRemoteConfigHandler_SendFailureEmptiesRegistry(t *testing.T) {
	transport := newFakeTransport(newFakeNode("10.0.0.5", "10.0.0.5,Art-Net,DMX,0"))
	h := newTestHandler(t, transport)
	ctx := context.Background()

	_, err := h.Discover(ctx)
	require.NoError(t, err)
	require.Len(t, h.Nodes(), 1)
	<-h.NotificationCh

	transport.setFailSends(100)

	nodes, err := h.Discover(ctx)
	assert.ErrorIs(t, err, ErrNoDevicesFound)
	assert.Empty(t, nodes)
	assert.Empty(t, h.Nodes(), "送信できなくても前回の一覧は残さない")

	notification := <-h.NotificationCh
	assert.Equal(t, NoDevicesFound, notification.Type)
}

func TestRemoteConfigHandler_SetDebugDuringExchange(t *testing.T) {
	device := newFakeNode("10.0.0.5", "10.0.0.5,Art-Net,DMX,0")
	h := newTestHandler(t, newFakeTransport(device))
	ctx := context.Background()

	_, err := h.Discover(ctx)
	require.NoError(t, err)
	node, err := h.FindNode("10.0.0.5")
	require.NoError(t, err)
	client, err := h.Client(node)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			h.SetDebug(i%2 == 0)
		}
	}()
	for i := 0; i < 20; i++ {
		version, err := client.GetVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, device.version, version)
	}
	<-done
	h.SetDebug(true)
	assert.True(t, h.IsDebug())
}

func TestRemoteConfigHandler_FindNodeAndClient(t *testing.T) {
	device := newFakeNode("10.0.0.5", "10.0.0.5,sACN E1.31,DMX\n0,MyE131Node")
	device.files["e131.txt"] = "universe_port_a=1\n"
	h := newTestHandler(t, newFakeTransport(device))
	ctx := context.Background()

	_, err := h.Discover(ctx)
	require.NoError(t, err)

	node, err := h.FindNode("MyE131Node")
	require.NoError(t, err)
	assert.True(t, node.IP.Equal(net.ParseIP("10.0.0.5")))

	_, err = h.FindNode("10.0.0.99")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	client, err := h.Client(node)
	require.NoError(t, err)
	blob, ok, err := client.GetFile(ctx, remoteconfig.TxtE131)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"universe_port_a=1"}, blob.Lines())
}

func TestRemoteConfigHandler_Close(t *testing.T) {
	transport := newFakeTransport()
	h := NewRemoteConfigHandlerWithSession(context.Background(), NewSession(context.Background(), transport, SessionOptions{
		ReceiveTimeout: 10 * time.Millisecond,
	}))
	require.NoError(t, h.Close())

	_, open := <-h.NotificationCh
	assert.False(t, open)

	_, err := h.Discover(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = h.Client(nil)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.NoError(t, h.Close())
}

func TestRemoteConfigHandler_Rebind(t *testing.T) {
	loopback := net.IPv4(127, 0, 0, 1)
	port := getFreePort(t)
	opts := SessionOptions{LocalIP: loopback, Port: port, BroadcastIP: loopback, ReceiveTimeout: 10 * time.Millisecond}

	h, err := NewRemoteConfigHandler(context.Background(), opts)
	require.NoError(t, err)
	defer h.Close()
	h.SetDebug(true)

	require.NoError(t, h.Rebind(opts), "同じポートでも先に閉じるので bind できる")
	assert.True(t, h.IsDebug())

	_, err = h.Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoDevicesFound)
}
