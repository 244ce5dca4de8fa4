package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait は1メッセージの書き込み期限
	writeWait = 10 * time.Second
	// pongWait は pong を待つ期限。これを過ぎると切断扱い
	pongWait = 60 * time.Second
	// pingPeriod は ping の送信間隔。pongWait より短くすること
	pingPeriod = (pongWait * 9) / 10
)

// WebSocketTransport はWebSocketサーバーのネットワーク層を抽象化するインターフェース
type WebSocketTransport interface {
	// Start はWebSocketサーバーを起動する。Stop されるまで戻らない
	Start(options StartOptions) error

	// Stop はWebSocketサーバーを停止する
	Stop() error

	// SetMessageHandler はクライアントからメッセージを受信した時に呼び出されるハンドラを設定する
	// connID はクライアント接続を識別するための一意なID
	SetMessageHandler(handler func(connID string, message []byte) error)

	// SetConnectHandler は新しいクライアントが接続した時に呼び出されるハンドラを設定する
	SetConnectHandler(handler func(connID string) error)

	// SetDisconnectHandler はクライアントが切断した時に呼び出されるハンドラを設定する
	SetDisconnectHandler(handler func(connID string))

	// SendMessage は特定のクライアントにメッセージを送信する
	SendMessage(connID string, message []byte) error

	// BroadcastMessage は接続中の全クライアントにメッセージを送信する
	BroadcastMessage(message []byte) error
}

// clientConnection wraps a WebSocket connection with a mutex for safe concurrent writes
type clientConnection struct {
	conn     *websocket.Conn
	mutex    sync.Mutex
	pingDone chan struct{}
}

func (c *clientConnection) write(messageType int, data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// DefaultWebSocketTransport は WebSocketTransport インターフェースのデフォルト実装
type DefaultWebSocketTransport struct {
	ctx               context.Context
	cancel            context.CancelFunc
	server            *http.Server
	upgrader          websocket.Upgrader
	clients           map[string]*clientConnection
	clientsReverse    map[*websocket.Conn]string
	clientsMutex      sync.RWMutex
	listenAddr        net.Addr
	listenMutex       sync.Mutex
	messageHandler    func(connID string, message []byte) error
	connectHandler    func(connID string) error
	disconnectHandler func(connID string)
}

// NewDefaultWebSocketTransport は DefaultWebSocketTransport の新しいインスタンスを作成する
func NewDefaultWebSocketTransport(ctx context.Context, addr string) *DefaultWebSocketTransport {
	transportCtx, cancel := context.WithCancel(ctx)

	transport := &DefaultWebSocketTransport{
		ctx:    transportCtx,
		cancel: cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Web GUI は別オリジンから接続してくる
				return true
			},
		},
		clients:        make(map[string]*clientConnection),
		clientsReverse: make(map[*websocket.Conn]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", transport.handleWebSocket)

	transport.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return transport
}

// Addr は待ち受け中のアドレスを返す。Start 前は nil
func (t *DefaultWebSocketTransport) Addr() net.Addr {
	t.listenMutex.Lock()
	defer t.listenMutex.Unlock()
	return t.listenAddr
}

// Start はWebSocketサーバーを起動する
func (t *DefaultWebSocketTransport) Start(options StartOptions) error {
	// 先にリスナーをバインド
	listener, err := net.Listen("tcp", t.server.Addr)
	if err != nil {
		return err
	}
	t.listenMutex.Lock()
	t.listenAddr = listener.Addr()
	t.listenMutex.Unlock()

	// 待ち受け完了を通知
	if options.Ready != nil {
		close(options.Ready)
	}
	slog.Info("WebSocket server starting", "addr", listener.Addr().String())

	if options.CertFile != "" && options.KeyFile != "" {
		slog.Info("Using TLS with certificate", "certFile", options.CertFile)
		err = t.server.ServeTLS(listener, options.CertFile, options.KeyFile)
	} else {
		err = t.server.Serve(listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop はWebSocketサーバーを停止する
func (t *DefaultWebSocketTransport) Stop() error {
	slog.Info("Stopping WebSocket server", "addr", t.server.Addr)
	t.cancel()

	// Shutdown は hijack された接続を待たないので、こちらで閉じる
	t.clientsMutex.RLock()
	for _, client := range t.clients {
		_ = client.conn.Close()
	}
	t.clientsMutex.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := t.server.Shutdown(ctx)
	if err != nil {
		slog.Info("Error shutting down WebSocket server", "err", err)
	}
	return err
}

func (t *DefaultWebSocketTransport) SetMessageHandler(handler func(connID string, message []byte) error) {
	t.messageHandler = handler
}

func (t *DefaultWebSocketTransport) SetConnectHandler(handler func(connID string) error) {
	t.connectHandler = handler
}

func (t *DefaultWebSocketTransport) SetDisconnectHandler(handler func(connID string)) {
	t.disconnectHandler = handler
}

// isConnectionClosedError checks if the error indicates a closed connection
func isConnectionClosedError(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// removeClient safely removes a client from the transport and calls the disconnect handler.
// Returns true if the client was actually removed, false if it was already removed.
func (t *DefaultWebSocketTransport) removeClient(connID string) bool {
	t.clientsMutex.Lock()
	client, exists := t.clients[connID]
	if !exists {
		t.clientsMutex.Unlock()
		return false
	}
	delete(t.clients, connID)
	if client.conn != nil {
		delete(t.clientsReverse, client.conn)
	}
	t.clientsMutex.Unlock()

	close(client.pingDone)
	if t.ctx.Err() == nil && t.disconnectHandler != nil {
		t.disconnectHandler(connID)
	}
	return true
}

// SendMessage は特定のクライアントにメッセージを送信する
func (t *DefaultWebSocketTransport) SendMessage(connID string, message []byte) error {
	t.clientsMutex.RLock()
	client, exists := t.clients[connID]
	t.clientsMutex.RUnlock()

	if !exists {
		return fmt.Errorf("client with ID %s not found", connID)
	}

	if err := client.write(websocket.TextMessage, message); err != nil {
		if isConnectionClosedError(err) {
			t.removeClient(connID)
		}
		return fmt.Errorf("failed to send message to client %s: %w", connID, err)
	}
	return nil
}

// BroadcastMessage は接続中の全クライアントにメッセージを送信する
func (t *DefaultWebSocketTransport) BroadcastMessage(message []byte) error {
	t.clientsMutex.RLock()
	clients := make(map[string]*clientConnection, len(t.clients))
	for connID, client := range t.clients {
		clients[connID] = client
	}
	t.clientsMutex.RUnlock()

	var disconnectedClients []string
	for connID, client := range clients {
		if err := client.write(websocket.TextMessage, message); err != nil {
			if isConnectionClosedError(err) {
				disconnectedClients = append(disconnectedClients, connID)
			} else {
				slog.Error("Error broadcasting message to client", "err", err, "connID", connID)
			}
		}
	}

	for _, connID := range disconnectedClients {
		t.removeClient(connID)
	}
	return nil
}

// pingLoop は pingDone が閉じられるまで定期的に ping を送る
func (t *DefaultWebSocketTransport) pingLoop(connID string, client *clientConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			client.mutex.Lock()
			err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			client.mutex.Unlock()
			if err != nil {
				slog.Debug("ping の送信に失敗", "connID", connID, "err", err)
				return
			}
		case <-client.pingDone:
			return
		case <-t.ctx.Done():
			return
		}
	}
}

// handleWebSocket はWebSocket接続を処理する
func (t *DefaultWebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Error upgrading to WebSocket", "err", err,
			"remote_addr", r.RemoteAddr,
			"user_agent", r.Header.Get("User-Agent"))
		return
	}
	defer conn.Close()

	connID := fmt.Sprintf("%p", conn)

	client := &clientConnection{
		conn:     conn,
		pingDone: make(chan struct{}),
	}
	t.clientsMutex.Lock()
	t.clients[connID] = client
	t.clientsReverse[conn] = connID
	t.clientsMutex.Unlock()

	defer t.removeClient(connID)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go t.pingLoop(connID, client)

	if t.connectHandler != nil {
		if err := t.connectHandler(connID); err != nil {
			slog.Error("Error in connect handler", "err", err)
			return
		}
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				slog.Error("Unexpected WebSocket close error", "err", err)
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if t.messageHandler != nil {
			if err := t.messageHandler(connID, message); err != nil {
				errStr := err.Error()
				if !isConnectionClosedError(err) &&
					!(strings.Contains(errStr, "client with ID") && strings.Contains(errStr, "not found")) {
					slog.Error("Error in message handler", "err", err)
				}
			}
		}
	}
}
