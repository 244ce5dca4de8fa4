package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"remote-config/client"
	"remote-config/protocol"
	"remote-config/remoteconfig/handler"
	"time"
)

// StartOptions は WebSocketServer の起動オプションを表す
type StartOptions struct {
	// TLS証明書ファイルのパス (TLSを使用する場合)
	CertFile string
	// TLS秘密鍵ファイルのパス (TLSを使用する場合)
	KeyFile string
	// 待ち受けを始めたら close される (nil 可)
	Ready chan struct{}
}

// WebSocketServer は Web GUI などの外部クライアントにノード操作を提供する
type WebSocketServer struct {
	ctx         context.Context
	cancel      context.CancelFunc
	transport   WebSocketTransport
	rcClient    client.RemoteConfigClient
	handler     *handler.RemoteConfigHandler
	startupTime time.Time
}

// NewWebSocketServer creates a new WebSocket server
func NewWebSocketServer(ctx context.Context, addr string, rcClient client.RemoteConfigClient, h *handler.RemoteConfigHandler) (*WebSocketServer, error) {
	serverCtx, cancel := context.WithCancel(ctx)
	transport := NewDefaultWebSocketTransport(serverCtx, addr)
	return newWebSocketServer(serverCtx, cancel, transport, rcClient, h), nil
}

func newWebSocketServer(ctx context.Context, cancel context.CancelFunc, transport WebSocketTransport, rcClient client.RemoteConfigClient, h *handler.RemoteConfigHandler) *WebSocketServer {
	ws := &WebSocketServer{
		ctx:         ctx,
		cancel:      cancel,
		transport:   transport,
		rcClient:    rcClient,
		handler:     h,
		startupTime: time.Now(),
	}

	transport.SetConnectHandler(ws.handleClientConnect)
	transport.SetMessageHandler(ws.handleClientMessage)
	transport.SetDisconnectHandler(ws.handleClientDisconnect)

	if h != nil {
		go ws.listenForNotifications()
	}
	return ws
}

// Start starts the WebSocket server
func (ws *WebSocketServer) Start(options StartOptions) error {
	return ws.transport.Start(options)
}

// Stop stops the WebSocket server
func (ws *WebSocketServer) Stop() error {
	ws.cancel()
	return ws.transport.Stop()
}

// Addr は待ち受け中のアドレスを返す。transport が対応していなければ nil
func (ws *WebSocketServer) Addr() net.Addr {
	if t, ok := ws.transport.(interface{ Addr() net.Addr }); ok {
		return t.Addr()
	}
	return nil
}

func (ws *WebSocketServer) isDebug() bool {
	return ws.rcClient.IsDebug()
}

// handleClientConnect is called when a new client connects
func (ws *WebSocketServer) handleClientConnect(connID string) error {
	if ws.isDebug() {
		slog.Debug("New WebSocket connection established", "connID", connID)
	}
	return ws.sendInitialStateToClient(connID)
}

// handleClientDisconnect is called when a client disconnects
func (ws *WebSocketServer) handleClientDisconnect(connID string) {
	if ws.isDebug() {
		slog.Debug("WebSocket connection closed", "connID", connID)
	}
}

// handleClientMessage is called when a message is received from a client
func (ws *WebSocketServer) handleClientMessage(connID string, message []byte) error {
	msg, err := protocol.ParseMessage(message)
	if err != nil {
		slog.Warn("Error parsing message", "err", err)
		errorPayload := protocol.ErrorNotificationPayload{
			Code:    protocol.ErrorCodeInvalidRequestFormat,
			Message: fmt.Sprintf("Error parsing message: %v", err),
		}
		return ws.sendMessageToClient(connID, protocol.MessageTypeErrorNotification, errorPayload, "")
	}

	switch msg.Type {
	case protocol.MessageTypeDiscoverDevices:
		return ws.handleRequest(connID, msg, ws.handleDiscoverDevicesFromClient)
	case protocol.MessageTypeListDevices:
		return ws.handleRequest(connID, msg, ws.handleListDevicesFromClient)
	case protocol.MessageTypeGetFile:
		return ws.handleRequest(connID, msg, ws.handleGetFileFromClient)
	case protocol.MessageTypeSaveFile:
		return ws.handleRequest(connID, msg, ws.handleSaveFileFromClient)
	case protocol.MessageTypeDeviceCommand:
		return ws.handleRequest(connID, msg, ws.handleDeviceCommandFromClient)
	default:
		slog.Warn("Unknown message type", "type", msg.Type)
		errorPayload := protocol.ErrorNotificationPayload{
			Code:    protocol.ErrorCodeInvalidRequestFormat,
			Message: fmt.Sprintf("Unknown message type: %s", msg.Type),
		}
		return ws.sendMessageToClient(connID, protocol.MessageTypeErrorNotification, errorPayload, msg.RequestID)
	}
}

// handleRequest は要求を処理して結果を command_result で返す
func (ws *WebSocketServer) handleRequest(connID string, msg *protocol.Message, fn func(msg *protocol.Message) protocol.CommandResultPayload) error {
	if ws.isDebug() {
		slog.Debug("request", "connID", connID, "type", msg.Type, "requestID", msg.RequestID)
	}
	result := fn(msg)
	return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
}

// sendInitialStateToClient sends the initial state to a client
func (ws *WebSocketServer) sendInitialStateToClient(connID string) error {
	payload := protocol.InitialStatePayload{
		Nodes:             protocol.NodesToProtocol(ws.rcClient.ListNodes()),
		ServerStartupTime: ws.startupTime,
	}
	return ws.sendMessageToClient(connID, protocol.MessageTypeInitialState, payload, "")
}

// sendMessageToClient sends a message to a client
func (ws *WebSocketServer) sendMessageToClient(connID string, msgType protocol.MessageType, payload interface{}, requestID string) error {
	data, err := protocol.CreateMessage(msgType, payload, requestID)
	if err != nil {
		return fmt.Errorf("error creating message: %v", err)
	}
	return ws.transport.SendMessage(connID, data)
}

// broadcastMessageToClients sends a message to all connected clients
func (ws *WebSocketServer) broadcastMessageToClients(msgType protocol.MessageType, payload interface{}) error {
	data, err := protocol.CreateMessage(msgType, payload, "")
	if err != nil {
		slog.Error("Error creating broadcast message", "err", err)
		return err
	}
	return ws.transport.BroadcastMessage(data)
}

// listenForNotifications はディスカバリの結果を全クライアントに知らせる
func (ws *WebSocketServer) listenForNotifications() {
	for {
		select {
		case <-ws.ctx.Done():
			return
		case notification, ok := <-ws.handler.NotificationCh:
			if !ok {
				return
			}
			switch notification.Type {
			case handler.RegistryChanged:
				if ws.isDebug() {
					slog.Debug("Registry changed", "nodes", len(notification.Nodes))
				}
				_ = ws.broadcastMessageToClients(protocol.MessageTypeRegistryChanged, protocol.RegistryChangedPayload{
					Nodes: protocol.NodesToProtocol(notification.Nodes),
				})
			case handler.NoDevicesFound:
				_ = ws.broadcastMessageToClients(protocol.MessageTypeErrorNotification, protocol.ErrorNotificationPayload{
					Code:    protocol.ErrorCodeNoDevicesFound,
					Message: "No devices found",
				})
			}
		}
	}
}
