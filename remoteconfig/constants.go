package remoteconfig

import "time"

const (
	// RemoteConfigPort はノードの設定用 UDP ポート (0x2905)
	RemoteConfigPort = 0x2905

	// BufferSize は受信バッファのサイズ。ファームウェア側の UDP_BUFFER_SIZE に合わせる
	BufferSize = 768

	// DefaultReceiveTimeout は1回の受信待ちの上限
	DefaultReceiveTimeout = 1 * time.Second

	// DiscoveryBroadcastRepeat は ?list#* を送る回数 (パケットロス対策)
	DiscoveryBroadcastRepeat = 2
)
