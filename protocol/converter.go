package protocol

import (
	"errors"
	"fmt"
	"net"
	"remote-config/remoteconfig"
	"strings"
)

var ErrInvalidIP = errors.New("invalid IP address")

// NodeToProtocol は remoteconfig.Node を protocol.Node に変換する
func NodeToProtocol(node *remoteconfig.Node) Node {
	files := node.Files()
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.String()
	}
	return Node{
		IP:           node.IP.String(),
		IdentityLine: node.IdentityLine,
		DisplayName:  node.DisplayName,
		Capability:   node.Capability.String(),
		Mode:         node.Mode.String(),
		Flag:         node.Flag,
		Files:        names,
	}
}

// NodesToProtocol は一覧を変換する。順序は保たれる
func NodesToProtocol(nodes []*remoteconfig.Node) []Node {
	result := make([]Node, len(nodes))
	for i, node := range nodes {
		result[i] = NodeToProtocol(node)
	}
	return result
}

// NodeFromProtocol は protocol.Node から remoteconfig.Node を作り直す。
// ファイル一覧などは capability と mode から再計算される。
func NodeFromProtocol(node Node) (*remoteconfig.Node, error) {
	ip := net.ParseIP(node.IP)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, node.IP)
	}
	flag := node.Flag
	if flag == "" {
		flag = "0"
	}
	fields := []string{ip.String(), node.Capability, node.Mode, flag}
	if node.DisplayName != "" {
		fields = append(fields, node.DisplayName)
	}
	return remoteconfig.ParseNode(strings.Join(fields, ","))
}
