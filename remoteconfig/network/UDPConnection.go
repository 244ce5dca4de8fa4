package network

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ReceiveBufferSize は1回の受信で読み込む最大サイズ
const ReceiveBufferSize = 1500

// UDPConnection はノードとの通信に使う唯一の UDP ソケットを管理します
type UDPConnection struct {
	UdpConn        *net.UDPConn
	LocalAddr      *net.UDPAddr
	localIPs       []net.IP // ローカルインターフェースのIPリスト
	Port           int
	RemotePort     int // 送信先ポート。通常は Port と同じ
	mu             sync.RWMutex
	networkMonitor *NetworkMonitor
}

// NetworkMonitor はネットワークインターフェースの監視を行います
type NetworkMonitor struct {
	ctx          context.Context
	cancel       context.CancelFunc
	interfaces   []net.Interface
	interfacesMu sync.RWMutex
	done         chan struct{} // goroutine終了通知用
}

// NetworkMonitorConfig はネットワーク監視の設定を表します
type NetworkMonitorConfig struct {
	Enabled  bool
	Interval time.Duration
}

// CreateUDPConnection は IPv4 の port に排他的に bind したソケットを作成します。
// ip が nil の場合はワイルドカード listen。ブロードキャストの送受信も同じソケットで行います。
// ポートが使用中の場合はエラーになります。
func CreateUDPConnection(ctx context.Context, ip net.IP, port int, networkMonitorConfig *NetworkMonitorConfig) (*UDPConnection, error) {
	if ip != nil && ip.To4() == nil {
		return nil, fmt.Errorf("IPv6 not supported for local ip")
	}

	bindIP := ip
	if bindIP == nil || bindIP.IsUnspecified() {
		bindIP = net.IPv4zero
	}
	// Go の UDP ソケットは SO_BROADCAST が有効な状態で作られる
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: bindIP, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to bind udp port %d: %w", port, err)
	}

	localIPs, err := GetLocalIPv4s()
	if err != nil {
		slog.Warn("自身の送信パケットを判定するためのローカルIPを取得できません", "err", err)
		localIPs = []net.IP{}
	}
	// Listen したアドレスが Unspecified でない場合、それもリストに追加する
	listenAddrIP := conn.LocalAddr().(*net.UDPAddr).IP
	if listenAddrIP.To4() != nil && !listenAddrIP.IsUnspecified() && !containsIP(localIPs, listenAddrIP) {
		localIPs = append(localIPs, listenAddrIP)
	}

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	udpConn := &UDPConnection{
		UdpConn:    conn,
		LocalAddr:  localAddr,
		localIPs:   localIPs,
		Port:       localAddr.Port,
		RemotePort: localAddr.Port,
	}

	if networkMonitorConfig != nil && networkMonitorConfig.Enabled {
		udpConn.initNetworkMonitor(ctx, networkMonitorConfig.Interval)
	}

	return udpConn, nil
}

func containsIP(ips []net.IP, ip net.IP) bool {
	for _, lip := range ips {
		if lip.Equal(ip) {
			return true
		}
	}
	return false
}

// isSelfPacket は指定されたアドレスが自身のいずれかのローカルIPとポートから送信されたものかを確認します。
// ブロードキャストした ?list# は自分にも届くため、これを除外します。
func (c *UDPConnection) isSelfPacket(src *net.UDPAddr) bool {
	if src == nil {
		return false
	}
	if src.Port != c.Port {
		return false
	}
	return c.IsLocalIP(src.IP)
}

// IsLocalIP は指定されたIPアドレスが自身のローカルIPのいずれかと一致するかを確認します
func (c *UDPConnection) IsLocalIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return containsIP(c.localIPs, ip)
}

// Close はソケットを閉じます
func (c *UDPConnection) Close() error {
	c.mu.Lock()
	monitor := c.networkMonitor
	c.networkMonitor = nil
	c.mu.Unlock()

	if monitor != nil {
		monitor.stop()
	}
	return c.UdpConn.Close()
}

// SendTo は dstIP の RemotePort 宛てにデータを送信します
func (c *UDPConnection) SendTo(dstIP net.IP, data []byte) (int, error) {
	return c.UdpConn.WriteTo(data, &net.UDPAddr{IP: dstIP, Port: c.RemotePort})
}

// bufferPool は受信バッファのプールです
var bufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, ReceiveBufferSize) },
}

// Receive は UDP パケットを受信し、送信元アドレスとデータを返します。
// 自送信パケットの場合は data, addr ともに nil を返します。
// ctx の期限が受信の期限になり、キャンセルされると受信を中断します。
func (c *UDPConnection) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.UdpConn.SetReadDeadline(deadline)
	} else {
		c.UdpConn.SetReadDeadline(time.Time{})
	}

	type result struct {
		data []byte
		addr *net.UDPAddr
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		buf := bufferPool.Get().([]byte)
		defer bufferPool.Put(buf)
		n, addr, err := c.UdpConn.ReadFrom(buf)
		if err != nil {
			ch <- result{nil, nil, err}
			return
		}
		src := addr.(*net.UDPAddr)
		if c.isSelfPacket(src) {
			ch <- result{nil, nil, nil}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		ch <- result{data, src, nil}
	}()

	select {
	case <-ctx.Done():
		c.UdpConn.SetReadDeadline(time.Now())
		<-ch
		return nil, nil, ctx.Err()
	case res := <-ch:
		if res.err != nil && ctx.Err() != nil {
			// 読み込み期限とコンテキストの期限が同時に来た場合
			return nil, nil, ctx.Err()
		}
		return res.data, res.addr, res.err
	}
}

// initNetworkMonitor はネットワーク監視機能を初期化します
func (c *UDPConnection) initNetworkMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	monitorCtx, cancel := context.WithCancel(ctx)

	monitor := &NetworkMonitor{
		ctx:    monitorCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if err := monitor.updateNetworkInterfaces(); err != nil {
		slog.Warn("ネットワークインターフェース情報の取得に失敗", "err", err)
	}

	c.mu.Lock()
	c.networkMonitor = monitor
	c.mu.Unlock()

	go c.networkMonitorLoop(monitor, interval)
	slog.Info("ネットワーク監視が開始されました", "interval", interval)
}

func (nm *NetworkMonitor) stop() {
	nm.cancel()
	<-nm.done
	slog.Info("ネットワーク監視が停止されました")
}

// networkMonitorLoop はネットワーク監視のメインループです
func (c *UDPConnection) networkMonitorLoop(monitor *NetworkMonitor, interval time.Duration) {
	defer close(monitor.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-monitor.ctx.Done():
			return
		case <-ticker.C:
			c.monitorNetworkChanges(monitor)
		}
	}
}

// monitorNetworkChanges はインターフェースが変わっていればローカルIPのリストを更新します
func (c *UDPConnection) monitorNetworkChanges(monitor *NetworkMonitor) {
	currentInterfaces, err := net.Interfaces()
	if err != nil {
		slog.Warn("ネットワークインターフェース情報の取得に失敗", "err", err)
		return
	}

	monitor.interfacesMu.Lock()
	previousInterfaces := monitor.interfaces
	monitor.interfaces = currentInterfaces
	monitor.interfacesMu.Unlock()

	if !hasNetworkChanged(previousInterfaces, currentInterfaces) {
		return
	}
	slog.Info("ネットワークインターフェースの変更を検出しました")

	newLocalIPs, err := GetLocalIPv4s()
	if err != nil {
		slog.Warn("ローカルIPアドレスの再取得に失敗", "err", err)
		return
	}
	c.mu.Lock()
	c.localIPs = newLocalIPs
	c.mu.Unlock()
	slog.Debug("ローカルIPアドレスを更新しました", "count", len(newLocalIPs))
}

// hasNetworkChanged はインターフェース名とフラグの変更をチェックします
func hasNetworkChanged(previous, current []net.Interface) bool {
	if len(previous) != len(current) {
		return true
	}
	prevMap := make(map[string]net.Flags, len(previous))
	for _, iface := range previous {
		prevMap[iface.Name] = iface.Flags
	}
	for _, iface := range current {
		if prevFlags, exists := prevMap[iface.Name]; !exists || prevFlags != iface.Flags {
			return true
		}
	}
	return false
}

func (nm *NetworkMonitor) updateNetworkInterfaces() error {
	interfaces, err := net.Interfaces()
	if err != nil {
		return err
	}
	nm.interfacesMu.Lock()
	nm.interfaces = interfaces
	nm.interfacesMu.Unlock()
	return nil
}

// IsNetworkMonitorEnabled はネットワーク監視が有効かどうかを返します
func (c *UDPConnection) IsNetworkMonitorEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.networkMonitor != nil
}
