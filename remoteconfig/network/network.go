package network

import (
	"fmt"
	"log/slog"
	"net"
)

// GetIPv4BroadcastIP は、ローカルネットワークのIPv4ブロードキャストアドレスを自動的に検出します
func GetIPv4BroadcastIP() net.IP {
	defaultBroadcast := net.IPv4bcast

	interfaces, err := net.Interfaces()
	if err != nil {
		slog.Warn("ネットワークインターフェースの取得に失敗しました", "err", err)
		return defaultBroadcast
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if broadcast := directedBroadcast(ipnet); broadcast != nil {
				slog.Debug("ブロードキャストアドレスを検出", "interface", iface.Name, "broadcast", broadcast)
				return broadcast
			}
		}
	}
	return defaultBroadcast
}

// BroadcastIPFor は localIP が属するサブネットのブロードキャストアドレスを返します。
// 該当するインターフェースが見つからない場合は 255.255.255.255
func BroadcastIPFor(localIP net.IP) net.IP {
	if localIP == nil || localIP.IsUnspecified() {
		return GetIPv4BroadcastIP()
	}
	interfaces, err := net.Interfaces()
	if err != nil {
		slog.Warn("ネットワークインターフェースの取得に失敗しました", "err", err)
		return net.IPv4bcast
	}
	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || !ipnet.IP.Equal(localIP) {
				continue
			}
			if broadcast := directedBroadcast(ipnet); broadcast != nil {
				return broadcast
			}
		}
	}
	return net.IPv4bcast
}

// directedBroadcast = IPアドレス | (^サブネットマスク)
func directedBroadcast(ipnet *net.IPNet) net.IP {
	ip4 := ipnet.IP.To4()
	if ip4 == nil || len(ipnet.Mask) != net.IPv4len {
		return nil
	}
	broadcast := make(net.IP, net.IPv4len)
	for i := range ip4 {
		broadcast[i] = ip4[i] | ^ipnet.Mask[i]
	}
	return broadcast
}

// GetLocalUDPAddressFor は、指定された宛先IPアドレスとポートに対するローカルアドレスを取得します
func GetLocalUDPAddressFor(ip net.IP, port int) (*net.UDPAddr, error) {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: ip, Port: port})
	if err != nil {
		return nil, err
	}
	defer func(conn *net.UDPConn) {
		_ = conn.Close()
	}(conn)
	return conn.LocalAddr().(*net.UDPAddr), nil
}

// GetLocalIPv4s はローカルマシンの非ループバックIPv4アドレスのリストを取得します
func GetLocalIPv4s() ([]net.IP, error) {
	localIPs := []net.IP{}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get interfaces: %w", err)
	}
	for _, i := range ifaces {
		if (i.Flags&net.FlagUp == 0) || (i.Flags&net.FlagLoopback != 0) {
			continue
		}
		addrs, err := i.Addrs()
		if err != nil {
			slog.Warn("インターフェースのアドレス取得に失敗", "interface", i.Name, "err", err)
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip4 := ip.To4(); ip4 != nil {
				localIPs = append(localIPs, ip4)
			}
		}
	}
	if len(localIPs) == 0 {
		slog.Warn("ローカルIPv4アドレスが見つかりません")
	}
	return localIPs, nil
}
