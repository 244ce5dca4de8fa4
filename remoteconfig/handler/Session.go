package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"remote-config/remoteconfig"
	"remote-config/remoteconfig/network"
	"sync"
	"sync/atomic"
	"time"
)

// SessionOptions は Session の作成オプション
type SessionOptions struct {
	LocalIP        net.IP // bind するアドレス。nil ならワイルドカード
	Port           int    // 0 なら remoteconfig.RemoteConfigPort
	BroadcastIP    net.IP // nil ならインターフェースから自動検出
	ReceiveTimeout time.Duration
	NetworkMonitor *network.NetworkMonitorConfig
	Debug          bool
}

// Session は1つのソケットを所有し、送受信のやり取りを1つずつ順番に実行する。
// ディスカバリもノードへの操作もすべて Do を通る。
type Session struct {
	transport      Transport
	BroadcastIP    net.IP
	ReceiveTimeout time.Duration

	debug     atomic.Bool // コンソールや WebSocket から切り替えられる
	ctx       context.Context
	cancel    context.CancelFunc
	reqCh     chan *exchangeRequest
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type exchangeRequest struct {
	ctx  context.Context
	fn   func(*Exchange) error
	err  error
	done chan struct{}
}

// CreateSession は UDP ポートを bind して Session を作成する。
// ポートが使用中の場合はエラーを返す。
func CreateSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	port := opts.Port
	if port == 0 {
		port = remoteconfig.RemoteConfigPort
	}
	conn, err := network.CreateUDPConnection(ctx, opts.LocalIP, port, opts.NetworkMonitor)
	if err != nil {
		return nil, err
	}
	if opts.BroadcastIP == nil {
		opts.BroadcastIP = network.BroadcastIPFor(opts.LocalIP)
	}
	slog.Info("ソケットを作成しました", "addr", conn.LocalAddr, "broadcast", opts.BroadcastIP)
	return NewSession(ctx, conn, opts), nil
}

// NewSession は既存の Transport から Session を作成する
func NewSession(ctx context.Context, transport Transport, opts SessionOptions) *Session {
	sessionCtx, cancel := context.WithCancel(ctx)

	broadcastIP := opts.BroadcastIP
	if broadcastIP == nil {
		broadcastIP = net.IPv4bcast
	}
	timeout := opts.ReceiveTimeout
	if timeout <= 0 {
		timeout = remoteconfig.DefaultReceiveTimeout
	}

	s := &Session{
		transport:      transport,
		BroadcastIP:    broadcastIP,
		ReceiveTimeout: timeout,
		ctx:            sessionCtx,
		cancel:         cancel,
		reqCh:          make(chan *exchangeRequest),
		done:           make(chan struct{}),
	}
	s.debug.Store(opts.Debug)
	go s.worker()
	return s
}

// SetDebug はデバッグ出力を切り替える。やり取りの途中でも呼べる
func (s *Session) SetDebug(debug bool) {
	s.debug.Store(debug)
}

func (s *Session) IsDebug() bool {
	return s.debug.Load()
}

// Do は fn を排他的に実行する。fn の実行中は他のやり取りは行われない。
func (s *Session) Do(ctx context.Context, fn func(*Exchange) error) error {
	req := &exchangeRequest{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case s.reqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
	<-req.done
	return req.err
}

func (s *Session) worker() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.reqCh:
			req.err = s.run(req)
			close(req.done)
		}
	}
}

func (s *Session) run(req *exchangeRequest) error {
	if err := req.ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(req.ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	err := req.fn(&Exchange{ctx: ctx, session: s})
	if err != nil && s.ctx.Err() != nil && req.ctx.Err() == nil {
		return ErrSessionClosed
	}
	return err
}

// Close はワーカーを止めてソケットを閉じる
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.closeErr = s.transport.Close()
	})
	return s.closeErr
}

// Exchange は Do の中で使う送受信ハンドル
type Exchange struct {
	ctx     context.Context
	session *Session
}

// Context は Do に渡されたコンテキスト
func (x *Exchange) Context() context.Context {
	return x.ctx
}

// Send は ip 宛てに data を送信する
func (x *Exchange) Send(ip net.IP, data []byte) error {
	if x.session.IsDebug() {
		slog.Debug("送信", "to", ip, "data", string(data))
	}
	if _, err := x.session.transport.SendTo(ip, data); err != nil {
		slog.Warn("送信に失敗しました", "to", ip, "err", err)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Broadcast はブロードキャストアドレス宛てに data を送信する
func (x *Exchange) Broadcast(data []byte) error {
	return x.Send(x.session.BroadcastIP, data)
}

// Receive は deadline までに受信した応答を1つ返す。
// 自分の送信したパケットや表示できない内容のパケットは読み飛ばす。
// 期限切れは ErrTimeout、Do のコンテキストがキャンセルされた場合はそのエラーを返す。
func (x *Exchange) Receive(deadline time.Time) (string, *net.UDPAddr, error) {
	ctx, cancel := context.WithDeadline(x.ctx, deadline)
	defer cancel()

	for {
		data, addr, err := x.session.transport.Receive(ctx)
		if err != nil {
			if x.ctx.Err() != nil {
				return "", nil, x.ctx.Err()
			}
			if ctx.Err() != nil || isTimeoutError(err) {
				return "", nil, ErrTimeout
			}
			if errors.Is(err, net.ErrClosed) {
				return "", nil, ErrSessionClosed
			}
			return "", nil, fmt.Errorf("receive: %w", err)
		}
		if data == nil {
			continue
		}
		if len(data) > remoteconfig.BufferSize {
			data = data[:remoteconfig.BufferSize]
		}
		text, ok := remoteconfig.DecodeReply(data)
		if !ok {
			if x.session.IsDebug() {
				slog.Debug("表示できない応答を破棄", "from", addr, "len", len(data))
			}
			continue
		}
		if x.session.IsDebug() {
			slog.Debug("受信", "from", addr, "data", text)
		}
		return text, addr, nil
	}
}

// ReceiveFrom は ip からの応答だけを待つ。他のアドレスからのパケットは破棄する。
func (x *Exchange) ReceiveFrom(ip net.IP, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		text, addr, err := x.Receive(deadline)
		if err != nil {
			return "", err
		}
		if addr != nil && addr.IP.Equal(ip) {
			return text, nil
		}
		if x.session.IsDebug() {
			slog.Debug("要求先以外からの応答を破棄", "want", ip, "from", addr)
		}
	}
}
