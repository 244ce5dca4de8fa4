// Package emulator はノードのファームウェアの応答を真似る。
// LAN は handler.Transport を満たすので、実機なしでセッションを動かせる。
package emulator

import (
	"context"
	"net"
	"remote-config/remoteconfig"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Node は1台分のファームウェアの状態
type Node struct {
	mu            sync.Mutex
	ip            net.IP
	listReply     string
	files         map[string]string // ファイル名 -> 本文
	display       bool
	tftp          bool
	uptime        time.Duration
	version       string
	silent        bool
	reboots       int
	factoryResets int
}

// NewNode は ?list# に listReply を返すノードを作る
func NewNode(ip, listReply string) *Node {
	return &Node{
		ip:        net.ParseIP(ip).To4(),
		listReply: listReply,
		files:     make(map[string]string),
		version:   "[V1.0] Jan  1 2020 00:00:00",
	}
}

func (n *Node) IP() net.IP {
	return n.ip
}

func (n *Node) SetFile(name, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.files[name] = body
}

func (n *Node) File(name string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	body, ok := n.files[name]
	return body, ok
}

// SetSilent が true の間は何も応答しない
func (n *Node) SetSilent(silent bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.silent = silent
}

func (n *Node) SetUptime(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.uptime = d
}

func (n *Node) SetVersion(version string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.version = version
}

func (n *Node) Display() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.display
}

func (n *Node) Tftp() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tftp
}

func (n *Node) Reboots() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reboots
}

func (n *Node) FactoryResets() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.factoryResets
}

// Handle は要求を1つ処理し、応答がある場合は ok=true で返す
func (n *Node) Handle(request string) (reply string, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.silent {
		return "", false
	}

	if strings.HasPrefix(request, string(remoteconfig.KindFile)) {
		blob, err := remoteconfig.ParseFileBlob(request)
		if err != nil {
			return "!" + remoteconfig.ErrorMarker + "\n", true
		}
		n.files[blob.Name] = blob.Body
		return "", false
	}

	msg, err := remoteconfig.ParseMessage([]byte(request))
	if err != nil {
		return "?" + remoteconfig.ErrorMarker + "\n", true
	}
	isAction := msg.Kind == remoteconfig.KindAction
	switch msg.Command {
	case remoteconfig.CmdList:
		return n.listReply, true
	case remoteconfig.CmdGet:
		body, ok := n.files[msg.Arg]
		if !ok {
			return "?get" + remoteconfig.ErrorMarker + "\n", true
		}
		return "#" + msg.Arg + "\n" + body, true
	case remoteconfig.CmdReboot:
		n.reboots++
	case remoteconfig.CmdFactory:
		n.factoryResets++
		n.files = make(map[string]string)
	case remoteconfig.CmdDisplay:
		if isAction {
			n.display = msg.Arg == "1"
			return "", false
		}
		return "display:" + onOff(n.display) + "\n", true
	case remoteconfig.CmdTftp:
		if isAction {
			n.tftp = msg.Arg == "1"
			return "", false
		}
		return "tftp:" + onOff(n.tftp) + "\n", true
	case remoteconfig.CmdUptime:
		return "uptime:" + strconv.FormatInt(int64(n.uptime/time.Second), 10) + "s\n", true
	case remoteconfig.CmdVersion:
		return "version:" + n.version + "\n", true
	default:
		return "?" + msg.Command + remoteconfig.ErrorMarker + "\n", true
	}
	return "", false
}

func onOff(on bool) string {
	if on {
		return "On"
	}
	return "Off"
}

type packet struct {
	data []byte
	addr *net.UDPAddr
}

// LAN はノードがつながったメモリ上のネットワーク
type LAN struct {
	mu        sync.Mutex
	broadcast net.IP
	nodes     []*Node
	inbox     chan packet
	closed    bool
	sent      int
}

func NewLAN(broadcast net.IP, nodes ...*Node) *LAN {
	return &LAN{
		broadcast: broadcast,
		nodes:     nodes,
		inbox:     make(chan packet, 256),
	}
}

// SendTo は宛先のノード (ブロードキャストなら全ノード) に data を届ける
func (l *LAN) SendTo(ip net.IP, data []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, net.ErrClosed
	}
	l.sent++
	for _, node := range l.nodes {
		if ip.Equal(l.broadcast) || ip.Equal(node.ip) {
			if reply, ok := node.Handle(string(data)); ok {
				l.deliver(node.ip, reply)
			}
		}
	}
	return len(data), nil
}

// Inject は ip から reply が届いたことにする
func (l *LAN) Inject(ip net.IP, reply string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deliver(ip, reply)
}

func (l *LAN) deliver(ip net.IP, reply string) {
	buf := make([]byte, remoteconfig.BufferSize)
	copy(buf, reply)
	select {
	case l.inbox <- packet{data: buf, addr: &net.UDPAddr{IP: ip, Port: remoteconfig.RemoteConfigPort}}:
	default:
		// 受信側が読まなければ捨てる
	}
}

func (l *LAN) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case p := <-l.inbox:
		return p.data, p.addr, nil
	}
}

func (l *LAN) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// SentCount は送信されたパケット数
func (l *LAN) SentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}
