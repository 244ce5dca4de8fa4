package handler

import (
	"context"
	"errors"
	"log/slog"
	"remote-config/remoteconfig"
	"time"

	"golang.org/x/exp/slices"
)

// Discover はブロードキャストでノードを探し、アドレス順に並べて返す。
// `?list#*` を複数回送って収集した後、`?list#` を1回送って再度収集する。
// 同じアドレスからの応答は最初のものだけが使われる。
// 送信の失敗はログに残して収集を続ける。エラーを返すのはキャンセルとクローズのときだけ。
func (s *Session) Discover(ctx context.Context) ([]*remoteconfig.Node, error) {
	seen := make(map[remoteconfig.NodeKey]*remoteconfig.Node)

	err := s.Do(ctx, func(x *Exchange) error {
		for i := 0; i < remoteconfig.DiscoveryBroadcastRepeat; i++ {
			if err := s.broadcast(x, remoteconfig.Query(remoteconfig.CmdList, "*")); err != nil {
				return err
			}
		}
		if err := s.collect(x, seen); err != nil {
			return err
		}

		if err := s.broadcast(x, remoteconfig.Query(remoteconfig.CmdList, "")); err != nil {
			return err
		}
		return s.collect(x, seen)
	})
	if err != nil {
		return nil, err
	}

	nodes := make([]*remoteconfig.Node, 0, len(seen))
	for _, node := range seen {
		nodes = append(nodes, node)
	}
	slices.SortFunc(nodes, compareNodes)
	return nodes, nil
}

// broadcast は msg をブロードキャストする。送信エラーは Send がログに残すので無視し、
// コンテキストが終わっている場合だけエラーを返す
func (s *Session) broadcast(x *Exchange, msg remoteconfig.Message) error {
	if err := x.Broadcast(msg.Encode()); err != nil {
		if ctxErr := x.Context().Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return nil
}

// collect は ReceiveTimeout の間応答がなくなるまで受信を続ける
func (s *Session) collect(x *Exchange, seen map[remoteconfig.NodeKey]*remoteconfig.Node) error {
	for {
		text, addr, err := x.Receive(time.Now().Add(s.ReceiveTimeout))
		if errors.Is(err, ErrTimeout) {
			return nil
		}
		if err != nil {
			return err
		}

		node, err := remoteconfig.ParseNode(text)
		if err != nil {
			slog.Debug("ノード情報として解釈できない応答を破棄", "from", addr, "reply", text, "err", err)
			continue
		}
		if _, dup := seen[node.Key()]; dup {
			continue
		}
		seen[node.Key()] = node
		if s.IsDebug() {
			slog.Debug("ノードを発見", "node", node.IdentityLine, "name", node.DisplayName)
		}
	}
}

func compareNodes(a, b *remoteconfig.Node) int {
	switch {
	case a.Key() < b.Key():
		return -1
	case a.Key() > b.Key():
		return 1
	}
	return 0
}
