package client_test

import (
	"context"
	"errors"
	"net"
	"remote-config/client"
	"remote-config/protocol"
	"remote-config/remoteconfig"
	"remote-config/remoteconfig/emulator"
	"remote-config/remoteconfig/handler"
	"remote-config/server"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lanBroadcast = net.IPv4(192, 168, 1, 255)

type remoteEnv struct {
	client  *client.WebSocketClient
	handler *handler.RemoteConfigHandler
}

// startRemote は擬似ノードにつながったハンドラと WebSocket サーバーを起動し、
// そこに接続したクライアントを返す
func startRemote(t *testing.T, nodes ...*emulator.Node) *remoteEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	lan := emulator.NewLAN(lanBroadcast, nodes...)
	session := handler.NewSession(ctx, lan, handler.SessionOptions{
		BroadcastIP:    lanBroadcast,
		ReceiveTimeout: 50 * time.Millisecond,
	})
	h := handler.NewRemoteConfigHandlerWithSession(ctx, session)
	t.Cleanup(func() { _ = h.Close() })

	_, err := h.Discover(ctx)
	if err != nil && !errors.Is(err, handler.ErrNoDevicesFound) {
		require.NoError(t, err)
	}

	ws, err := server.NewWebSocketServer(ctx, "127.0.0.1:0", client.NewRemoteConfigClientProxy(h), h)
	require.NoError(t, err)
	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- ws.Start(server.StartOptions{Ready: ready}) }()
	select {
	case <-ready:
	case err := <-errCh:
		t.Fatalf("server start failed: %v", err)
	}
	t.Cleanup(func() {
		_ = ws.Stop()
		<-errCh
	})

	c, err := client.NewWebSocketClient(ctx, "ws://"+ws.Addr().String()+"/ws", false)
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(func() { _ = c.Close() })

	return &remoteEnv{client: c, handler: h}
}

func pixelNode() *emulator.Node {
	node := emulator.NewNode("192.168.1.20", "192.168.1.20,Art-Net,Pixel,4,Stage right\n")
	node.SetFile("devices.txt", "type=WS2812B\ncount=170\n")
	return node
}

func TestWebSocketClient_InitialState(t *testing.T) {
	env := startRemote(t, pixelNode(), emulator.NewNode("192.168.1.3", "192.168.1.3,sACN E1.31,DMX,1\n"))

	require.Eventually(t, func() bool {
		return len(env.client.ListNodes()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	node, err := env.client.FindNode("Stage right")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20", node.IP.String())
	assert.Equal(t, remoteconfig.TxtDevices, node.ModeFile)

	_, err = env.client.FindNode("192.168.1.99")
	assert.ErrorIs(t, err, handler.ErrNodeNotFound)
}

func TestWebSocketClient_FilesAndCommands(t *testing.T) {
	device := pixelNode()
	device.SetUptime(42 * time.Second)
	env := startRemote(t, device)
	ctx := context.Background()

	require.Eventually(t, func() bool {
		return len(env.client.ListNodes()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	node := env.client.ListNodes()[0]

	text, found, err := env.client.GetFile(ctx, node, remoteconfig.TxtDevices)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "#devices.txt\ntype=WS2812B\ncount=170", text)

	require.NoError(t, env.client.SaveFile(ctx, node, "#devices.txt\ntype=SK6812W\ncount=60\n"))
	body, ok := device.File("devices.txt")
	require.True(t, ok)
	assert.Equal(t, "type=SK6812W\ncount=60", body)

	err = env.client.SaveFile(ctx, node, "type=SK6812W")
	assert.ErrorIs(t, err, handler.ErrMalformedSave)

	_, found, err = env.client.GetFile(ctx, node, remoteconfig.TxtArtNet)
	assert.False(t, found)
	var serverErr *client.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, protocol.ErrorCodeNodeRefused, serverErr.Code)

	require.NoError(t, env.client.SetDisplay(ctx, node, true))
	on, err := env.client.GetDisplayState(ctx, node)
	require.NoError(t, err)
	assert.True(t, on)

	uptime, err := env.client.GetUptime(ctx, node)
	require.NoError(t, err)
	assert.Equal(t, 42*time.Second, uptime)

	version, err := env.client.GetVersion(ctx, node)
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	require.NoError(t, env.client.Reboot(ctx, node))
	require.NoError(t, env.client.FactoryReset(ctx, node))
	assert.Equal(t, 1, device.Reboots())
	assert.Equal(t, 1, device.FactoryResets())

	device.SetSilent(true)
	_, err = env.client.GetTftpState(ctx, node)
	assert.ErrorIs(t, err, handler.ErrTimeout)
}

func TestWebSocketClient_DiscoverUpdatesNodes(t *testing.T) {
	env := startRemote(t)
	ctx := context.Background()

	_, err := env.client.Discover(ctx)
	assert.ErrorIs(t, err, handler.ErrNoDevicesFound)
	assert.Empty(t, env.client.ListNodes())
}

func TestWebSocketClient_Closed(t *testing.T) {
	env := startRemote(t, pixelNode())
	require.Eventually(t, func() bool {
		return len(env.client.ListNodes()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	node := env.client.ListNodes()[0]

	require.NoError(t, env.client.Close())
	err := env.client.Reboot(context.Background(), node)
	assert.Error(t, err)
}

func TestNewWebSocketClient_InvalidURL(t *testing.T) {
	_, err := client.NewWebSocketClient(context.Background(), "http://localhost:8080/ws", false)
	assert.Error(t, err)

	_, err = client.NewWebSocketClient(context.Background(), "://bad", false)
	assert.Error(t, err)
}

func TestServerError_Unwrap(t *testing.T) {
	err := &client.ServerError{Code: protocol.ErrorCodeNodeTimeout, Message: "no reply"}
	assert.ErrorIs(t, err, handler.ErrTimeout)
	assert.Equal(t, "NODE_TIMEOUT: no reply", err.Error())

	err = &client.ServerError{Code: protocol.ErrorCodeNodeRefused}
	assert.Nil(t, errors.Unwrap(err))
}
