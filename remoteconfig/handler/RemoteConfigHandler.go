package handler

import (
	"context"
	"fmt"
	"log/slog"
	"remote-config/remoteconfig"
	"sync"
)

// NotificationType はレジストリ通知の種類
type NotificationType int

const (
	RegistryChanged NotificationType = iota // ディスカバリで一覧が変わった
	NoDevicesFound                          // ディスカバリで1台も見つからなかった
)

func (t NotificationType) String() string {
	switch t {
	case RegistryChanged:
		return "RegistryChanged"
	case NoDevicesFound:
		return "NoDevicesFound"
	}
	return fmt.Sprintf("NotificationType(%d)", int(t))
}

// RegistryNotification はディスカバリ結果の通知
type RegistryNotification struct {
	Type  NotificationType
	Nodes []*remoteconfig.Node
}

// RemoteConfigHandler はセッション・レジストリをまとめて front-end に提供する
type RemoteConfigHandler struct {
	ctx            context.Context
	cancel         context.CancelFunc
	mu             sync.RWMutex
	session        *Session
	registry       *Registry
	NotificationCh chan RegistryNotification
	closeOnce      sync.Once
}

// NewRemoteConfigHandler は UDP ポートを bind してハンドラを作成する
func NewRemoteConfigHandler(ctx context.Context, opts SessionOptions) (*RemoteConfigHandler, error) {
	session, err := CreateSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	return NewRemoteConfigHandlerWithSession(ctx, session), nil
}

// NewRemoteConfigHandlerWithSession は既存の Session からハンドラを作成する
func NewRemoteConfigHandlerWithSession(ctx context.Context, session *Session) *RemoteConfigHandler {
	handlerCtx, cancel := context.WithCancel(ctx)
	return &RemoteConfigHandler{
		ctx:            handlerCtx,
		cancel:         cancel,
		session:        session,
		registry:       NewRegistry(),
		NotificationCh: make(chan RegistryNotification, 100),
	}
}

func (h *RemoteConfigHandler) currentSession() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

// Rebind はソケットを閉じてから opts で bind し直す
func (h *RemoteConfigHandler) Rebind(opts SessionOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session != nil {
		if err := h.session.Close(); err != nil {
			slog.Warn("ソケットのクローズに失敗", "err", err)
		}
	}
	opts.Debug = h.session != nil && h.session.IsDebug()
	session, err := CreateSession(h.ctx, opts)
	if err != nil {
		h.session = nil
		return err
	}
	h.session = session
	return nil
}

// Discover はディスカバリを1回行い、レジストリを置き換える。
// 1台も見つからなければレジストリを空にして ErrNoDevicesFound を返す。
func (h *RemoteConfigHandler) Discover(ctx context.Context) ([]*remoteconfig.Node, error) {
	session := h.currentSession()
	if session == nil {
		return nil, ErrSessionClosed
	}
	nodes, err := session.Discover(ctx)
	if err != nil {
		return nil, err
	}

	changed := h.registry.Replace(nodes)
	if len(nodes) == 0 {
		slog.Info("ノードが見つかりませんでした")
		h.notify(RegistryNotification{Type: NoDevicesFound})
		return nil, ErrNoDevicesFound
	}
	slog.Info("ディスカバリ完了", "nodes", len(nodes), "changed", changed)
	if changed {
		h.notify(RegistryNotification{Type: RegistryChanged, Nodes: nodes})
	}
	return nodes, nil
}

func (h *RemoteConfigHandler) notify(n RegistryNotification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ctx.Err() != nil {
		return
	}
	select {
	case h.NotificationCh <- n:
	default:
		slog.Warn("通知チャネルがブロックされています")
	}
}

// Nodes は直近のディスカバリ結果を返す
func (h *RemoteConfigHandler) Nodes() []*remoteconfig.Node {
	return h.registry.Nodes()
}

// FindNode は IP アドレスまたは表示名でノードを探す
func (h *RemoteConfigHandler) FindNode(spec string) (*remoteconfig.Node, error) {
	node, ok := h.registry.Find(spec)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, spec)
	}
	return node, nil
}

// Client は node と通信するクライアントを返す
func (h *RemoteConfigHandler) Client(node *remoteconfig.Node) (*Client, error) {
	session := h.currentSession()
	if session == nil {
		return nil, ErrSessionClosed
	}
	return NewClient(session, node), nil
}

func (h *RemoteConfigHandler) SetDebug(debug bool) {
	if session := h.currentSession(); session != nil {
		session.SetDebug(debug)
	}
}

func (h *RemoteConfigHandler) IsDebug() bool {
	session := h.currentSession()
	return session != nil && session.IsDebug()
}

// Close はソケットを閉じ、通知チャネルを閉じる
func (h *RemoteConfigHandler) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.cancel()
		h.mu.Lock()
		if h.session != nil {
			err = h.session.Close()
			h.session = nil
		}
		close(h.NotificationCh)
		h.mu.Unlock()
	})
	return err
}
