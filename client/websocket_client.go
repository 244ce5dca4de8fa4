package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"remote-config/protocol"
	"remote-config/remoteconfig"
	"remote-config/remoteconfig/handler"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultRequestTimeout はサーバーからの応答を待つ上限。
// サーバー側のディスカバリが終わるまで待てる長さにしておく
const DefaultRequestTimeout = 30 * time.Second

var ErrConnectionClosed = errors.New("websocket connection closed")

// ServerError はサーバーが command_result で返したエラー
type ServerError struct {
	Code    protocol.ErrorCode
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap はエラーコードに対応するハンドラのエラーを返す
func (e *ServerError) Unwrap() error {
	switch e.Code {
	case protocol.ErrorCodeNodeTimeout:
		return handler.ErrTimeout
	case protocol.ErrorCodeMalformedSave:
		return handler.ErrMalformedSave
	case protocol.ErrorCodeTargetNotFound:
		return handler.ErrNodeNotFound
	case protocol.ErrorCodeNoDevicesFound:
		return handler.ErrNoDevicesFound
	}
	return nil
}

// WebSocketClient implements the RemoteConfigClient interface using WebSocket
type WebSocketClient struct {
	ctx             context.Context
	cancel          context.CancelFunc
	conn            *websocket.Conn
	url             string
	debug           atomic.Bool
	registry        *handler.Registry
	RequestTimeout  time.Duration
	requestID       int
	requestIDMutex  sync.Mutex
	responseCh      map[string]chan *protocol.Message
	responseChMutex sync.Mutex
	writeMutex      sync.Mutex
	done            chan struct{} // 受信ループの終了
}

// NewWebSocketClient creates a new WebSocket client
func NewWebSocketClient(ctx context.Context, serverURL string, debug bool) (*WebSocketClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server URL scheme: %q", u.Scheme)
	}

	clientCtx, cancel := context.WithCancel(ctx)
	client := &WebSocketClient{
		ctx:            clientCtx,
		cancel:         cancel,
		url:            serverURL,
		registry:       handler.NewRegistry(),
		RequestTimeout: DefaultRequestTimeout,
		responseCh:     make(map[string]chan *protocol.Message),
		done:           make(chan struct{}),
	}
	client.debug.Store(debug)
	return client, nil
}

// Connect connects to the WebSocket server
func (c *WebSocketClient) Connect() error {
	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("error connecting to WebSocket server: %v", err)
	}
	c.conn = conn

	go c.listenForMessages()
	return nil
}

// Close closes the WebSocket connection
func (c *WebSocketClient) Close() error {
	c.cancel()
	if c.conn == nil {
		return nil
	}
	c.writeMutex.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMutex.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *WebSocketClient) IsDebug() bool {
	return c.debug.Load()
}

// SetDebug はクライアント側のデバッグ表示だけを切り替える
func (c *WebSocketClient) SetDebug(debug bool) {
	c.debug.Store(debug)
}

func (c *WebSocketClient) Discover(ctx context.Context) ([]*remoteconfig.Node, error) {
	var nodes []protocol.Node
	err := c.call(ctx, protocol.MessageTypeDiscoverDevices, protocol.DiscoverDevicesPayload{}, &nodes)
	if errors.Is(err, handler.ErrNoDevicesFound) {
		c.registry.Replace(nil)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	result := c.nodesFromProtocol(nodes)
	c.registry.Replace(result)
	return result, nil
}

func (c *WebSocketClient) ListNodes() []*remoteconfig.Node {
	return c.registry.Nodes()
}

func (c *WebSocketClient) FindNode(spec string) (*remoteconfig.Node, error) {
	node, ok := c.registry.Find(spec)
	if !ok {
		return nil, fmt.Errorf("%w: %s", handler.ErrNodeNotFound, spec)
	}
	return node, nil
}

func (c *WebSocketClient) GetFile(ctx context.Context, node *remoteconfig.Node, f remoteconfig.TxtFile) (string, bool, error) {
	var data protocol.FileData
	err := c.call(ctx, protocol.MessageTypeGetFile, protocol.GetFilePayload{
		Target: node.IP.String(),
		File:   f.String(),
	}, &data)
	if err != nil {
		return remoteconfig.SentinelBlob(f.String()), false, err
	}
	return data.Text, data.Found, nil
}

func (c *WebSocketClient) SaveFile(ctx context.Context, node *remoteconfig.Node, text string) error {
	return c.call(ctx, protocol.MessageTypeSaveFile, protocol.SaveFilePayload{
		Target: node.IP.String(),
		Text:   text,
	}, nil)
}

func (c *WebSocketClient) Reboot(ctx context.Context, node *remoteconfig.Node) error {
	_, err := c.deviceCommand(ctx, node, protocol.DeviceCommandReboot, nil)
	return err
}

func (c *WebSocketClient) FactoryReset(ctx context.Context, node *remoteconfig.Node) error {
	_, err := c.deviceCommand(ctx, node, protocol.DeviceCommandFactory, nil)
	return err
}

func (c *WebSocketClient) SetDisplay(ctx context.Context, node *remoteconfig.Node, on bool) error {
	_, err := c.deviceCommand(ctx, node, protocol.DeviceCommandDisplay, &on)
	return err
}

func (c *WebSocketClient) SetTftp(ctx context.Context, node *remoteconfig.Node, on bool) error {
	_, err := c.deviceCommand(ctx, node, protocol.DeviceCommandTftp, &on)
	return err
}

func (c *WebSocketClient) GetDisplayState(ctx context.Context, node *remoteconfig.Node) (bool, error) {
	return c.queryOnOff(ctx, node, protocol.DeviceCommandDisplay)
}

func (c *WebSocketClient) GetTftpState(ctx context.Context, node *remoteconfig.Node) (bool, error) {
	return c.queryOnOff(ctx, node, protocol.DeviceCommandTftp)
}

func (c *WebSocketClient) queryOnOff(ctx context.Context, node *remoteconfig.Node, cmd protocol.DeviceCommand) (bool, error) {
	data, err := c.deviceCommand(ctx, node, cmd, nil)
	if err != nil {
		return false, err
	}
	if data.On == nil {
		return false, fmt.Errorf("%w: %s state missing", remoteconfig.ErrUnexpectedReply, cmd)
	}
	return *data.On, nil
}

func (c *WebSocketClient) GetUptime(ctx context.Context, node *remoteconfig.Node) (time.Duration, error) {
	data, err := c.deviceCommand(ctx, node, protocol.DeviceCommandUptime, nil)
	if err != nil {
		return 0, err
	}
	if data.Uptime == nil {
		return 0, fmt.Errorf("%w: uptime missing", remoteconfig.ErrUnexpectedReply)
	}
	return time.Duration(*data.Uptime) * time.Second, nil
}

func (c *WebSocketClient) GetVersion(ctx context.Context, node *remoteconfig.Node) (string, error) {
	data, err := c.deviceCommand(ctx, node, protocol.DeviceCommandVersion, nil)
	if err != nil {
		return "", err
	}
	return data.Version, nil
}

func (c *WebSocketClient) deviceCommand(ctx context.Context, node *remoteconfig.Node, cmd protocol.DeviceCommand, value *bool) (protocol.DeviceCommandData, error) {
	var data protocol.DeviceCommandData
	err := c.call(ctx, protocol.MessageTypeDeviceCommand, protocol.DeviceCommandPayload{
		Target:  node.IP.String(),
		Command: cmd,
		Value:   value,
	}, &data)
	return data, err
}

// call は要求を送り command_result を待つ。data が nil でなければ結果をデコードする
func (c *WebSocketClient) call(ctx context.Context, msgType protocol.MessageType, payload interface{}, data interface{}) error {
	response, err := c.sendRequest(ctx, msgType, payload)
	if err != nil {
		return err
	}
	var result protocol.CommandResultPayload
	if err := protocol.ParsePayload(response, &result); err != nil {
		return fmt.Errorf("error parsing command_result: %v", err)
	}
	if !result.Success {
		if result.Error == nil {
			return &ServerError{Code: protocol.ErrorCodeInternalServerError, Message: "unknown error"}
		}
		return &ServerError{Code: result.Error.Code, Message: result.Error.Message}
	}
	if data == nil || len(result.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Data, data); err != nil {
		return fmt.Errorf("error parsing result data: %v", err)
	}
	return nil
}

func (c *WebSocketClient) nodesFromProtocol(nodes []protocol.Node) []*remoteconfig.Node {
	result := make([]*remoteconfig.Node, 0, len(nodes))
	for _, n := range nodes {
		node, err := protocol.NodeFromProtocol(n)
		if err != nil {
			slog.Warn("ノード情報を解釈できません", "ip", n.IP, "err", err)
			continue
		}
		result = append(result, node)
	}
	return result
}

func (c *WebSocketClient) listenForMessages() {
	defer close(c.done)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				slog.Warn("WebSocket の受信に失敗", "err", err)
			}
			c.cancel()
			return
		}

		msg, err := protocol.ParseMessage(message)
		if err != nil {
			if c.IsDebug() {
				slog.Debug("メッセージを解釈できません", "err", err)
			}
			continue
		}

		if msg.RequestID != "" {
			// 要求への応答
			c.responseChMutex.Lock()
			if ch, ok := c.responseCh[msg.RequestID]; ok {
				ch <- msg
				delete(c.responseCh, msg.RequestID)
			}
			c.responseChMutex.Unlock()
		} else {
			c.handleNotification(msg)
		}
	}
}

func (c *WebSocketClient) handleNotification(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MessageTypeInitialState:
		var payload protocol.InitialStatePayload
		if err := protocol.ParsePayload(msg, &payload); err != nil {
			slog.Warn("initial_state を解釈できません", "err", err)
			return
		}
		c.registry.Replace(c.nodesFromProtocol(payload.Nodes))
	case protocol.MessageTypeRegistryChanged:
		var payload protocol.RegistryChangedPayload
		if err := protocol.ParsePayload(msg, &payload); err != nil {
			slog.Warn("registry_changed を解釈できません", "err", err)
			return
		}
		c.registry.Replace(c.nodesFromProtocol(payload.Nodes))
	case protocol.MessageTypeErrorNotification:
		var payload protocol.ErrorNotificationPayload
		if err := protocol.ParsePayload(msg, &payload); err != nil {
			slog.Warn("error_notification を解釈できません", "err", err)
			return
		}
		if payload.Code == protocol.ErrorCodeNoDevicesFound {
			c.registry.Replace(nil)
		}
		if c.IsDebug() {
			slog.Debug("エラー通知", "code", payload.Code, "message", payload.Message)
		}
	}
}

// sendRequest sends a request to the WebSocket server and waits for a response
func (c *WebSocketClient) sendRequest(ctx context.Context, msgType protocol.MessageType, payload interface{}) (*protocol.Message, error) {
	if c.conn == nil {
		return nil, ErrConnectionClosed
	}

	c.requestIDMutex.Lock()
	c.requestID++
	requestID := fmt.Sprintf("req-%d", c.requestID)
	c.requestIDMutex.Unlock()

	data, err := protocol.CreateMessage(msgType, payload, requestID)
	if err != nil {
		return nil, fmt.Errorf("error creating message: %v", err)
	}

	responseCh := make(chan *protocol.Message, 1)
	c.responseChMutex.Lock()
	c.responseCh[requestID] = responseCh
	c.responseChMutex.Unlock()
	defer func() {
		c.responseChMutex.Lock()
		delete(c.responseCh, requestID)
		c.responseChMutex.Unlock()
	}()

	c.writeMutex.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMutex.Unlock()
	if err != nil {
		return nil, fmt.Errorf("error sending message: %v", err)
	}

	timer := time.NewTimer(c.RequestTimeout)
	defer timer.Stop()

	select {
	case response := <-responseCh:
		return response, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no response to %s", handler.ErrTimeout, msgType)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnectionClosed
	}
}
