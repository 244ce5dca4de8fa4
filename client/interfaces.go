package client

import (
	"context"
	"remote-config/remoteconfig"
	"time"
)

type Debugger interface {
	IsDebug() bool
	SetDebug(debug bool)
}

type NodeManager interface {
	// Discover はディスカバリを1回行い、見つかったノードを返す
	Discover(ctx context.Context) ([]*remoteconfig.Node, error)
	ListNodes() []*remoteconfig.Node
	// FindNode は IP アドレスまたは表示名でノードを探す
	FindNode(spec string) (*remoteconfig.Node, error)
}

type FileManager interface {
	// GetFile は設定ファイルをヘッダ付きのテキストで返す。
	// 取得できなかった場合は found=false でヘッダのみのテキストを返す。
	GetFile(ctx context.Context, node *remoteconfig.Node, f remoteconfig.TxtFile) (text string, found bool, err error)
	SaveFile(ctx context.Context, node *remoteconfig.Node, text string) error
}

type NodeController interface {
	Reboot(ctx context.Context, node *remoteconfig.Node) error
	FactoryReset(ctx context.Context, node *remoteconfig.Node) error
	SetDisplay(ctx context.Context, node *remoteconfig.Node, on bool) error
	SetTftp(ctx context.Context, node *remoteconfig.Node, on bool) error
	GetDisplayState(ctx context.Context, node *remoteconfig.Node) (bool, error)
	GetTftpState(ctx context.Context, node *remoteconfig.Node) (bool, error)
	GetUptime(ctx context.Context, node *remoteconfig.Node) (time.Duration, error)
	GetVersion(ctx context.Context, node *remoteconfig.Node) (string, error)
}

// RemoteConfigClient はコンソールから使う操作の集合。
// ローカルのハンドラ経由でも WebSocket 経由でも同じように使える。
type RemoteConfigClient interface {
	Debugger
	NodeManager
	FileManager
	NodeController
	Close() error
}
