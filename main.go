package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"remote-config/client"
	"remote-config/config"
	"remote-config/console"
	"remote-config/remoteconfig/handler"
	"remote-config/remoteconfig/network"
	"remote-config/server"
	"syscall"

	"golang.org/x/term"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		os.Exit(1)
	}
}

// sessionOptions は設定からソケットとセッションのオプションを作る
func sessionOptions(cfg *config.Config) (handler.SessionOptions, error) {
	var opts handler.SessionOptions
	localIP, err := cfg.InterfaceIP()
	if err != nil {
		return opts, err
	}
	broadcastIP, err := cfg.BroadcastIP()
	if err != nil {
		return opts, err
	}
	receiveTimeout, err := cfg.ReceiveTimeout()
	if err != nil {
		return opts, err
	}
	monitorInterval, err := cfg.MonitorInterval()
	if err != nil {
		return opts, err
	}

	opts = handler.SessionOptions{
		LocalIP:        localIP,
		Port:           cfg.Network.Port,
		BroadcastIP:    broadcastIP,
		ReceiveTimeout: receiveTimeout,
		Debug:          cfg.Debug,
	}
	if monitorInterval > 0 {
		opts.NetworkMonitor = &network.NetworkMonitorConfig{
			Enabled:  true,
			Interval: monitorInterval,
		}
	}
	return opts, nil
}

func run() error {
	// コマンドライン引数の解析
	args, err := config.ParseCommandLineArgs(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	// 設定ファイルの読み込みとコマンドライン引数の適用
	cfg, err := config.LoadConfig(args.ConfigFile)
	if err != nil {
		return err
	}
	cfg.ApplyCommandLineArgs(args)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("設定エラー: %w", err)
	}

	// ロガーのセットアップ (SIGHUP でローテーション)
	logManager, err := server.NewLogManager(cfg.Log.Filename, cfg.Debug)
	if err != nil {
		return fmt.Errorf("ログ設定エラー: %w", err)
	}
	defer func() {
		_ = logManager.Close()
	}()

	// ルートコンテキストの作成
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // プログラム終了時にコンテキストをキャンセル

	// シグナルハンドリングの設定 (SIGINT, SIGTERM)
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	go func() {
		select {
		case <-signalCh:
			fmt.Println("\nシグナルを受信しました。終了します...")
			cancel()
		case <-ctx.Done():
		}
	}()

	var rcClient client.RemoteConfigClient

	// WebSocket クライアントだけを使う場合はノード用のソケットを開かない
	if !cfg.WebSocketClient.Enabled || cfg.WebSocket.Enabled {
		opts, err := sessionOptions(cfg)
		if err != nil {
			return err
		}
		srv, err := server.NewServer(ctx, opts)
		if err != nil {
			// ポートを使えないと何もできないので終了する
			return fmt.Errorf("UDPポート %d を開けません: %w", cfg.Network.Port, err)
		}
		defer func() {
			if err := srv.Close(); err != nil {
				fmt.Printf("セッションのクローズ中にエラーが発生しました: %v\n", err)
			}
		}()

		// 起動時のディスカバリ
		srv.StartDiscovery()

		proxy := client.NewRemoteConfigClientProxy(srv.GetHandler())
		rcClient = proxy

		if cfg.WebSocket.Enabled {
			wsServer, err := server.NewWebSocketServer(ctx, cfg.WebSocket.Addr, proxy, srv.GetHandler())
			if err != nil {
				return fmt.Errorf("WebSocketサーバーの作成に失敗: %w", err)
			}
			startOptions := server.StartOptions{Ready: make(chan struct{})}
			if cfg.TLS.Enabled {
				startOptions.CertFile = cfg.TLS.CertFile
				startOptions.KeyFile = cfg.TLS.KeyFile
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- wsServer.Start(startOptions)
			}()
			select {
			case <-startOptions.Ready:
				fmt.Printf("WebSocketサーバーを起動しました: %s\n", cfg.WebSocket.Addr)
			case err := <-errCh:
				return fmt.Errorf("WebSocketサーバーの起動に失敗: %w", err)
			case <-ctx.Done():
				_ = wsServer.Stop()
				return nil
			}
			go func() {
				if err := <-errCh; err != nil {
					slog.Error("WebSocketサーバーエラー", "err", err)
					cancel()
				}
			}()
			defer func() {
				_ = wsServer.Stop()
			}()
		} else {
			srv.PrintNotifications(os.Stdout)
		}
	}

	if cfg.WebSocketClient.Enabled {
		wsClient, err := client.NewWebSocketClient(ctx, cfg.WebSocketClient.Addr, cfg.Debug)
		if err != nil {
			return err
		}
		if err := wsClient.Connect(); err != nil {
			return fmt.Errorf("WebSocketサーバーへの接続に失敗: %w", err)
		}
		defer func() {
			_ = wsClient.Close()
		}()
		rcClient = wsClient
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		console.ConsoleProcess(ctx, rcClient)
		return nil
	}

	// 端末でなければサーバーとして動き続ける
	<-ctx.Done()
	return nil
}
