package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"remote-config/remoteconfig/handler"
)

// Server はソケットを持つハンドラと、その起動時の処理をまとめたもの
type Server struct {
	ctx     context.Context
	handler *handler.RemoteConfigHandler
}

// NewServer は UDP ポートを bind してハンドラを作成する。
// ポートが使用中などで bind できない場合はエラーを返す。
func NewServer(ctx context.Context, opts handler.SessionOptions) (*Server, error) {
	h, err := handler.NewRemoteConfigHandler(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Server{ctx: ctx, handler: h}, nil
}

// StartDiscovery は起動時のディスカバリを goroutine で行う
func (s *Server) StartDiscovery() {
	go func() {
		nodes, err := s.handler.Discover(s.ctx)
		if err != nil && !errors.Is(err, handler.ErrNoDevicesFound) && s.ctx.Err() == nil {
			slog.Error("起動時のディスカバリに失敗", "err", err)
			return
		}
		slog.Info("起動時のディスカバリ", "nodes", len(nodes))
	}()
}

// PrintNotifications はレジストリの通知を w に書き出す。
// WebSocket サーバーを使わない場合に通知チャネルを消費するためのもの。
func (s *Server) PrintNotifications(w io.Writer) {
	go func() {
		for notification := range s.handler.NotificationCh {
			switch notification.Type {
			case handler.RegistryChanged:
				fmt.Fprintf(w, "%d 台のノードが見つかりました\n", len(notification.Nodes))
			case handler.NoDevicesFound:
				fmt.Fprintln(w, "ノードが見つかりませんでした")
			}
		}
	}()
}

func (s *Server) Close() error {
	return s.handler.Close()
}

func (s *Server) GetHandler() *handler.RemoteConfigHandler {
	return s.handler
}
