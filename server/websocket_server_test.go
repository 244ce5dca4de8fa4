package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"remote-config/client"
	"remote-config/protocol"
	"remote-config/remoteconfig"
	"remote-config/remoteconfig/emulator"
	"remote-config/remoteconfig/handler"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testBroadcastIP = net.IPv4(10, 0, 0, 255)

// mockWebSocketTransport はテスト用のWebSocketTransportモック
type mockWebSocketTransport struct {
	mock.Mock
	mu   sync.Mutex
	sent map[string][][]byte
}

func newMockWebSocketTransport() *mockWebSocketTransport {
	return &mockWebSocketTransport{sent: make(map[string][][]byte)}
}

func (m *mockWebSocketTransport) Start(options StartOptions) error {
	return nil
}

func (m *mockWebSocketTransport) Stop() error {
	return nil
}

func (m *mockWebSocketTransport) SetMessageHandler(handler func(connID string, message []byte) error) {
}

func (m *mockWebSocketTransport) SetConnectHandler(handler func(connID string) error) {
}

func (m *mockWebSocketTransport) SetDisconnectHandler(handler func(connID string)) {
}

func (m *mockWebSocketTransport) SendMessage(connID string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[connID] = append(m.sent[connID], message)
	return nil
}

func (m *mockWebSocketTransport) BroadcastMessage(message []byte) error {
	args := m.Called(message)
	return args.Error(0)
}

func (m *mockWebSocketTransport) lastSent(t *testing.T, connID string) *protocol.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	messages := m.sent[connID]
	require.NotEmpty(t, messages, "no message sent to %s", connID)
	msg, err := protocol.ParseMessage(messages[len(messages)-1])
	require.NoError(t, err)
	return msg
}

type testEnv struct {
	ws        *WebSocketServer
	transport *mockWebSocketTransport
	handler   *handler.RemoteConfigHandler
	lan       *emulator.LAN
	broadcast chan *protocol.Message
}

func newTestEnv(t *testing.T, nodes ...*emulator.Node) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	lan := emulator.NewLAN(testBroadcastIP, nodes...)
	session := handler.NewSession(ctx, lan, handler.SessionOptions{
		BroadcastIP:    testBroadcastIP,
		ReceiveTimeout: 50 * time.Millisecond,
	})
	h := handler.NewRemoteConfigHandlerWithSession(ctx, session)

	env := &testEnv{
		transport: newMockWebSocketTransport(),
		handler:   h,
		lan:       lan,
		broadcast: make(chan *protocol.Message, 10),
	}
	env.transport.On("BroadcastMessage", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		msg, err := protocol.ParseMessage(args.Get(0).([]byte))
		if err == nil {
			env.broadcast <- msg
		}
	})
	env.ws = newWebSocketServer(ctx, cancel, env.transport, client.NewRemoteConfigClientProxy(h), h)

	t.Cleanup(func() {
		cancel()
		_ = h.Close()
	})
	return env
}

// request はメッセージを処理させ、返ってきた command_result を返す
func (env *testEnv) request(t *testing.T, msgType protocol.MessageType, payload interface{}) protocol.CommandResultPayload {
	t.Helper()
	data, err := protocol.CreateMessage(msgType, payload, "req-1")
	require.NoError(t, err)
	require.NoError(t, env.ws.handleClientMessage("conn-1", data))

	msg := env.transport.lastSent(t, "conn-1")
	require.Equal(t, protocol.MessageTypeCommandResult, msg.Type)
	assert.Equal(t, "req-1", msg.RequestID)

	var result protocol.CommandResultPayload
	require.NoError(t, protocol.ParsePayload(msg, &result))
	return result
}

func (env *testEnv) waitBroadcast(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case msg := <-env.broadcast:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast not received")
		return nil
	}
}

func requireErrorCode(t *testing.T, result protocol.CommandResultPayload, code protocol.ErrorCode) {
	t.Helper()
	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, code, result.Error.Code, result.Error.Message)
}

func decodeData(t *testing.T, result protocol.CommandResultPayload, v interface{}) {
	t.Helper()
	require.True(t, result.Success, "%+v", result.Error)
	require.NoError(t, json.Unmarshal(result.Data, v))
}

func e131Node() *emulator.Node {
	node := emulator.NewNode("10.0.0.5", "10.0.0.5,sACN E1.31,DMX\n0,MyE131Node")
	node.SetFile("e131.txt", "universe_port_a=1\n")
	return node
}

func TestWebSocketServer_DiscoverAndInitialState(t *testing.T) {
	env := newTestEnv(t, e131Node(), emulator.NewNode("10.0.0.2", "10.0.0.2,Art-Net,Stepper,0"))

	result := env.request(t, protocol.MessageTypeDiscoverDevices, protocol.DiscoverDevicesPayload{})
	var nodes []protocol.Node
	decodeData(t, result, &nodes)
	require.Len(t, nodes, 2)
	assert.Equal(t, "10.0.0.2", nodes[0].IP)
	assert.Equal(t, "MyE131Node", nodes[1].DisplayName)

	changed := env.waitBroadcast(t)
	assert.Equal(t, protocol.MessageTypeRegistryChanged, changed.Type)
	var changedPayload protocol.RegistryChangedPayload
	require.NoError(t, protocol.ParsePayload(changed, &changedPayload))
	if diff := cmp.Diff(nodes, changedPayload.Nodes); diff != "" {
		t.Errorf("registry_changed mismatch (-want +got):\n%s", diff)
	}

	// 新しく接続したクライアントには現在の一覧が送られる
	require.NoError(t, env.ws.handleClientConnect("conn-2"))
	initial := env.transport.lastSent(t, "conn-2")
	assert.Equal(t, protocol.MessageTypeInitialState, initial.Type)
	var state protocol.InitialStatePayload
	require.NoError(t, protocol.ParsePayload(initial, &state))
	if diff := cmp.Diff(nodes, state.Nodes); diff != "" {
		t.Errorf("initial_state mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, state.ServerStartupTime.IsZero())
}

func TestWebSocketServer_DiscoverNoDevices(t *testing.T) {
	env := newTestEnv(t)

	result := env.request(t, protocol.MessageTypeDiscoverDevices, protocol.DiscoverDevicesPayload{})
	requireErrorCode(t, result, protocol.ErrorCodeNoDevicesFound)

	notification := env.waitBroadcast(t)
	assert.Equal(t, protocol.MessageTypeErrorNotification, notification.Type)
	var payload protocol.ErrorNotificationPayload
	require.NoError(t, protocol.ParsePayload(notification, &payload))
	assert.Equal(t, protocol.ErrorCodeNoDevicesFound, payload.Code)
}

func TestWebSocketServer_ListDevices(t *testing.T) {
	env := newTestEnv(t, e131Node(), emulator.NewNode("10.0.0.2", "10.0.0.2,Art-Net,Stepper,0"))
	_, err := env.handler.Discover(context.Background())
	require.NoError(t, err)

	var all []protocol.Node
	decodeData(t, env.request(t, protocol.MessageTypeListDevices, protocol.ListDevicesPayload{}), &all)
	assert.Len(t, all, 2)

	var some []protocol.Node
	decodeData(t, env.request(t, protocol.MessageTypeListDevices, protocol.ListDevicesPayload{
		Targets: []string{"MyE131Node"},
	}), &some)
	require.Len(t, some, 1)
	assert.Equal(t, "10.0.0.5", some[0].IP)

	requireErrorCode(t, env.request(t, protocol.MessageTypeListDevices, protocol.ListDevicesPayload{
		Targets: []string{"10.0.0.99"},
	}), protocol.ErrorCodeTargetNotFound)
}

func TestWebSocketServer_GetFile(t *testing.T) {
	env := newTestEnv(t, e131Node())
	_, err := env.handler.Discover(context.Background())
	require.NoError(t, err)

	var data protocol.FileData
	decodeData(t, env.request(t, protocol.MessageTypeGetFile, protocol.GetFilePayload{
		Target: "10.0.0.5", File: "e131.txt",
	}), &data)
	assert.Equal(t, protocol.FileData{Name: "e131.txt", Text: "#e131.txt\nuniverse_port_a=1", Found: true}, data)

	tests := []struct {
		name    string
		payload protocol.GetFilePayload
		code    protocol.ErrorCode
	}{
		{"refused", protocol.GetFilePayload{Target: "10.0.0.5", File: "params.txt"}, protocol.ErrorCodeNodeRefused},
		{"unknown file", protocol.GetFilePayload{Target: "10.0.0.5", File: "secret.txt"}, protocol.ErrorCodeInvalidParameters},
		{"unknown node", protocol.GetFilePayload{Target: "Nobody", File: "e131.txt"}, protocol.ErrorCodeTargetNotFound},
		{"missing file", protocol.GetFilePayload{Target: "10.0.0.5"}, protocol.ErrorCodeInvalidParameters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireErrorCode(t, env.request(t, protocol.MessageTypeGetFile, tt.payload), tt.code)
		})
	}
}

func TestWebSocketServer_SaveFile(t *testing.T) {
	device := e131Node()
	env := newTestEnv(t, device)
	_, err := env.handler.Discover(context.Background())
	require.NoError(t, err)

	result := env.request(t, protocol.MessageTypeSaveFile, protocol.SaveFilePayload{
		Target: "MyE131Node",
		Text:   "#e131.txt\nuniverse_port_a=7\n",
	})
	assert.True(t, result.Success, "%+v", result.Error)
	body, ok := device.File("e131.txt")
	require.True(t, ok)
	assert.Equal(t, "universe_port_a=7", body)

	sent := env.lan.SentCount()
	requireErrorCode(t, env.request(t, protocol.MessageTypeSaveFile, protocol.SaveFilePayload{
		Target: "MyE131Node",
		Text:   "universe_port_a=7",
	}), protocol.ErrorCodeMalformedSave)
	assert.Equal(t, sent, env.lan.SentCount(), "不正な形式のときは何も送信しない")
}

func TestWebSocketServer_DeviceCommand(t *testing.T) {
	device := e131Node()
	device.SetUptime(3725 * time.Second)
	device.SetVersion("[V2.0] Mar  3 2024 10:00:00")
	env := newTestEnv(t, device)
	_, err := env.handler.Discover(context.Background())
	require.NoError(t, err)

	on := true
	var data protocol.DeviceCommandData
	decodeData(t, env.request(t, protocol.MessageTypeDeviceCommand, protocol.DeviceCommandPayload{
		Target: "10.0.0.5", Command: protocol.DeviceCommandDisplay, Value: &on,
	}), &data)
	require.Eventually(t, device.Display, time.Second, 10*time.Millisecond)

	data = protocol.DeviceCommandData{}
	decodeData(t, env.request(t, protocol.MessageTypeDeviceCommand, protocol.DeviceCommandPayload{
		Target: "10.0.0.5", Command: protocol.DeviceCommandDisplay,
	}), &data)
	require.NotNil(t, data.On)
	assert.True(t, *data.On)

	data = protocol.DeviceCommandData{}
	decodeData(t, env.request(t, protocol.MessageTypeDeviceCommand, protocol.DeviceCommandPayload{
		Target: "10.0.0.5", Command: protocol.DeviceCommandTftp,
	}), &data)
	require.NotNil(t, data.On)
	assert.False(t, *data.On)

	data = protocol.DeviceCommandData{}
	decodeData(t, env.request(t, protocol.MessageTypeDeviceCommand, protocol.DeviceCommandPayload{
		Target: "10.0.0.5", Command: protocol.DeviceCommandUptime,
	}), &data)
	require.NotNil(t, data.Uptime)
	assert.Equal(t, int64(3725), *data.Uptime)

	data = protocol.DeviceCommandData{}
	decodeData(t, env.request(t, protocol.MessageTypeDeviceCommand, protocol.DeviceCommandPayload{
		Target: "10.0.0.5", Command: protocol.DeviceCommandVersion,
	}), &data)
	assert.Equal(t, "[V2.0] Mar  3 2024 10:00:00", data.Version)

	for _, cmd := range []protocol.DeviceCommand{protocol.DeviceCommandReboot, protocol.DeviceCommandFactory} {
		result := env.request(t, protocol.MessageTypeDeviceCommand, protocol.DeviceCommandPayload{
			Target: "10.0.0.5", Command: cmd,
		})
		assert.True(t, result.Success, "%s: %+v", cmd, result.Error)
	}
	assert.Equal(t, 1, device.Reboots())
	assert.Equal(t, 1, device.FactoryResets())

	requireErrorCode(t, env.request(t, protocol.MessageTypeDeviceCommand, protocol.DeviceCommandPayload{
		Target: "10.0.0.5", Command: "selfdestruct",
	}), protocol.ErrorCodeInvalidParameters)
}

func TestWebSocketServer_NodeTimeout(t *testing.T) {
	device := e131Node()
	env := newTestEnv(t, device)
	_, err := env.handler.Discover(context.Background())
	require.NoError(t, err)
	device.SetSilent(true)

	requireErrorCode(t, env.request(t, protocol.MessageTypeDeviceCommand, protocol.DeviceCommandPayload{
		Target: "10.0.0.5", Command: protocol.DeviceCommandUptime,
	}), protocol.ErrorCodeNodeTimeout)
	requireErrorCode(t, env.request(t, protocol.MessageTypeGetFile, protocol.GetFilePayload{
		Target: "10.0.0.5", File: "network.txt",
	}), protocol.ErrorCodeNodeTimeout)
}

func TestWebSocketServer_InvalidMessages(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.ws.handleClientMessage("conn-1", []byte("{not json")))
	msg := env.transport.lastSent(t, "conn-1")
	assert.Equal(t, protocol.MessageTypeErrorNotification, msg.Type)
	var payload protocol.ErrorNotificationPayload
	require.NoError(t, protocol.ParsePayload(msg, &payload))
	assert.Equal(t, protocol.ErrorCodeInvalidRequestFormat, payload.Code)

	data, err := protocol.CreateMessage("set_properties", struct{}{}, "req-9")
	require.NoError(t, err)
	require.NoError(t, env.ws.handleClientMessage("conn-1", data))
	msg = env.transport.lastSent(t, "conn-1")
	assert.Equal(t, protocol.MessageTypeErrorNotification, msg.Type)
	assert.Equal(t, "req-9", msg.RequestID)

	requireErrorCode(t, env.request(t, protocol.MessageTypeGetFile, "not an object"), protocol.ErrorCodeInvalidRequestFormat)
}

func TestErrorCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want protocol.ErrorCode
	}{
		{fmt.Errorf("x: %w", handler.ErrNodeNotFound), protocol.ErrorCodeTargetNotFound},
		{fmt.Errorf("x: %w", handler.ErrMalformedSave), protocol.ErrorCodeMalformedSave},
		{handler.ErrUnknownTxtFile, protocol.ErrorCodeInvalidParameters},
		{handler.ErrTimeout, protocol.ErrorCodeNodeTimeout},
		{handler.ErrDeviceRefused{IP: net.IPv4(10, 0, 0, 1), Reply: "?get#ERROR#"}, protocol.ErrorCodeNodeRefused},
		{handler.ErrNoDevicesFound, protocol.ErrorCodeNoDevicesFound},
		{handler.ErrSendFailed, protocol.ErrorCodeCommunicationError},
		{fmt.Errorf("%w: x", remoteconfig.ErrUnexpectedReply), protocol.ErrorCodeCommunicationError},
		{fmt.Errorf("boom"), protocol.ErrorCodeInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorCodeFor(tt.err), tt.err.Error())
	}
}
