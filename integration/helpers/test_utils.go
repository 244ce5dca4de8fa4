//go:build integration

package helpers

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"remote-config/protocol"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConnection はWebSocket接続のテスト用ラッパー
type WebSocketConnection struct {
	conn      *websocket.Conn
	url       string
	closed    bool
	requestID atomic.Int64
}

// NewWebSocketConnection は新しいWebSocket接続を作成する
func NewWebSocketConnection(serverURL string) (*WebSocketConnection, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("URLの解析に失敗: %v", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 5 * time.Second

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket接続に失敗: %v", err)
	}

	return &WebSocketConnection{
		conn: conn,
		url:  serverURL,
	}, nil
}

// SendMessage は type と payload からメッセージを組み立てて送信し、requestId を返す
func (wsc *WebSocketConnection) SendMessage(msgType protocol.MessageType, payload interface{}) (string, error) {
	if wsc.closed {
		return "", fmt.Errorf("接続が既に閉じられています")
	}

	requestID := fmt.Sprintf("it-%d", wsc.requestID.Add(1))
	data, err := protocol.CreateMessage(msgType, payload, requestID)
	if err != nil {
		return "", err
	}
	return requestID, wsc.conn.WriteMessage(websocket.TextMessage, data)
}

// ReceiveMessage はWebSocketメッセージを受信する
func (wsc *WebSocketConnection) ReceiveMessage(timeout time.Duration) (*protocol.Message, error) {
	if wsc.closed {
		return nil, fmt.Errorf("接続が既に閉じられています")
	}

	// タイムアウトを設定
	if timeout > 0 {
		_ = wsc.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	_, data, err := wsc.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("メッセージの受信に失敗: %v", err)
	}
	return protocol.ParseMessage(data)
}

// WaitForMessage は特定の条件にマッチするメッセージを待機する
func (wsc *WebSocketConnection) WaitForMessage(predicate func(*protocol.Message) bool, timeout time.Duration) (*protocol.Message, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		message, err := wsc.ReceiveMessage(time.Until(deadline))
		if err != nil {
			return nil, err
		}

		if predicate(message) {
			return message, nil
		}
	}

	return nil, fmt.Errorf("タイムアウト: 条件にマッチするメッセージが受信されませんでした")
}

// Request は要求を送り、対応する command_result を返す
func (wsc *WebSocketConnection) Request(msgType protocol.MessageType, payload interface{}, timeout time.Duration) (*protocol.CommandResultPayload, error) {
	requestID, err := wsc.SendMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	msg, err := wsc.WaitForMessage(func(m *protocol.Message) bool {
		return m.Type == protocol.MessageTypeCommandResult && m.RequestID == requestID
	}, timeout)
	if err != nil {
		return nil, err
	}
	var result protocol.CommandResultPayload
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return nil, fmt.Errorf("command_result の解析に失敗: %v", err)
	}
	return &result, nil
}

// URL は接続先の URL
func (wsc *WebSocketConnection) URL() string {
	return wsc.url
}

// Close はWebSocket接続を閉じる
func (wsc *WebSocketConnection) Close() error {
	if wsc.closed {
		return nil
	}

	wsc.closed = true
	return wsc.conn.Close()
}

// CreateTempFile は一時ファイルを作成する
func CreateTempFile(t *testing.T, content string, suffix string) string {
	t.Helper()

	tempFile := filepath.Join(t.TempDir(), "temp"+suffix)
	if err := os.WriteFile(tempFile, []byte(content), 0644); err != nil {
		t.Fatalf("一時ファイルの作成に失敗: %v", err)
	}
	return tempFile
}

// WaitForCondition は条件が満たされるまで待機する
func WaitForCondition(condition func() bool, timeout time.Duration, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}
	return condition()
}
