//go:build integration

package helpers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"remote-config/client"
	"remote-config/config"
	"remote-config/remoteconfig/emulator"
	"remote-config/remoteconfig/handler"
	"remote-config/server"
	"sync"
	"time"
)

// TestServer は統合テスト用のサーバーを管理する。
// UDP の代わりに擬似ノードの LAN を使い、WebSocket サーバーは実ポートで待ち受ける
type TestServer struct {
	Handler    *handler.RemoteConfigHandler
	WSServer   *server.WebSocketServer
	Config     *config.Config
	LAN        *emulator.LAN
	mu         sync.Mutex
	running    bool
	errCh      chan error
	logManager *server.LogManager
	tempDir    string
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewTestServer は新しいテストサーバーを作成する
func NewTestServer(nodes ...*emulator.Node) (*TestServer, error) {
	// 一時ディレクトリを作成
	tempDir, err := os.MkdirTemp("", "remote-config-test-*")
	if err != nil {
		return nil, fmt.Errorf("一時ディレクトリの作成に失敗: %v", err)
	}

	// テスト用設定を作成
	cfg := config.NewConfig()
	cfg.Debug = true
	cfg.WebSocket.Enabled = true
	cfg.WebSocket.Addr = "127.0.0.1:0"
	cfg.Network.BroadcastIP = "10.0.0.255"
	cfg.Network.ReceiveTimeout = "100ms"
	cfg.Log.Filename = filepath.Join(tempDir, "test-remote-config.log")

	broadcast, err := cfg.BroadcastIP()
	if err != nil {
		return nil, err
	}

	// コンテキスト作成
	ctx, cancel := context.WithCancel(context.Background())

	return &TestServer{
		Config:  cfg,
		LAN:     emulator.NewLAN(broadcast, nodes...),
		tempDir: tempDir,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start はハンドラと WebSocket サーバーを起動し、起動時のディスカバリを済ませる
func (ts *TestServer) Start() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.running {
		return fmt.Errorf("サーバーは既に実行中です")
	}

	logManager, err := server.NewLogManager(ts.Config.Log.Filename, ts.Config.Debug)
	if err != nil {
		return fmt.Errorf("ログマネージャーの作成に失敗: %v", err)
	}
	ts.logManager = logManager

	broadcast, _ := ts.Config.BroadcastIP()
	timeout, err := ts.Config.ReceiveTimeout()
	if err != nil {
		return err
	}
	session := handler.NewSession(ts.ctx, ts.LAN, handler.SessionOptions{
		BroadcastIP:    broadcast,
		ReceiveTimeout: timeout,
		Debug:          ts.Config.Debug,
	})
	ts.Handler = handler.NewRemoteConfigHandlerWithSession(ts.ctx, session)

	ts.WSServer, err = server.NewWebSocketServer(ts.ctx, ts.Config.WebSocket.Addr, client.NewRemoteConfigClientProxy(ts.Handler), ts.Handler)
	if err != nil {
		return fmt.Errorf("WebSocketサーバーの作成に失敗: %v", err)
	}

	ready := make(chan struct{})
	ts.errCh = make(chan error, 1)
	go func() {
		ts.errCh <- ts.WSServer.Start(server.StartOptions{Ready: ready})
	}()
	select {
	case <-ready:
	case err := <-ts.errCh:
		return fmt.Errorf("WebSocketサーバーの起動に失敗: %v", err)
	case <-time.After(5 * time.Second):
		return fmt.Errorf("WebSocketサーバーの起動がタイムアウトしました")
	}

	if _, err := ts.Handler.Discover(ts.ctx); err != nil && !errors.Is(err, handler.ErrNoDevicesFound) {
		return fmt.Errorf("起動時のディスカバリに失敗: %v", err)
	}

	ts.running = true
	return nil
}

// Stop はサーバーを停止し、一時ファイルを削除する
func (ts *TestServer) Stop() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.running {
		return nil
	}
	ts.running = false

	var errs []error
	if err := ts.WSServer.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := <-ts.errCh; err != nil {
		errs = append(errs, err)
	}
	if err := ts.Handler.Close(); err != nil {
		errs = append(errs, err)
	}
	ts.cancel()
	if ts.logManager != nil {
		if err := ts.logManager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	_ = os.RemoveAll(ts.tempDir)
	return errors.Join(errs...)
}

// GetWebSocketURL は WebSocket サーバーの URL を返す
func (ts *TestServer) GetWebSocketURL() string {
	return "ws://" + ts.WSServer.Addr().String() + "/ws"
}

// IsRunning はサーバーが実行中かどうかを返す
func (ts *TestServer) IsRunning() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.running
}

// Addr は WebSocket サーバーの待ち受けアドレス
func (ts *TestServer) Addr() net.Addr {
	return ts.WSServer.Addr()
}
