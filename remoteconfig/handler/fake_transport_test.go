package handler

import (
	"context"
	"errors"
	"net"
	"remote-config/remoteconfig"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

var testBroadcastIP = net.IPv4(10, 0, 0, 255)

// fakeNode はファームウェアの応答を真似る擬似ノード
type fakeNode struct {
	ip        net.IP
	listReply string
	files     map[string]string // ファイル名 -> 本文
	display   bool
	tftp      bool
	uptime    int
	version   string
	silent    bool // 何も応答しない
	rebooted  int
	factory   int
}

func newFakeNode(ip, listReply string) *fakeNode {
	return &fakeNode{
		ip:        net.ParseIP(ip).To4(),
		listReply: listReply,
		files:     make(map[string]string),
		version:   "[V1.0] Jan  1 2020 00:00:00",
	}
}

type packet struct {
	data []byte
	addr *net.UDPAddr
}

type sentPacket struct {
	to   net.IP
	data string
}

// fakeTransport は擬似ノードにつながった Transport
type fakeTransport struct {
	mu     sync.Mutex
	nodes  []*fakeNode
	sent   []sentPacket
	inbox  chan packet
	closed bool

	failSends int // 次の failSends 回の送信を失敗させる
}

var errNetworkUnreachable = errors.New("write: network is unreachable")

func newFakeTransport(nodes ...*fakeNode) *fakeTransport {
	return &fakeTransport{nodes: nodes, inbox: make(chan packet, 256)}
}

func (t *fakeTransport) SendTo(ip net.IP, data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, net.ErrClosed
	}
	if t.failSends > 0 {
		t.failSends--
		return 0, errNetworkUnreachable
	}
	t.sent = append(t.sent, sentPacket{to: ip, data: string(data)})
	for _, node := range t.nodes {
		if ip.Equal(testBroadcastIP) || ip.Equal(node.ip) {
			if reply, ok := node.handle(string(data)); ok {
				t.inject(node.ip, reply)
			}
		}
	}
	return len(data), nil
}

// inject は ip から reply が届いたことにする。呼び出し側でロックを取ること
func (t *fakeTransport) inject(ip net.IP, reply string) {
	buf := make([]byte, remoteconfig.BufferSize)
	copy(buf, reply)
	t.inbox <- packet{data: buf, addr: &net.UDPAddr{IP: ip, Port: remoteconfig.RemoteConfigPort}}
}

func (t *fakeTransport) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case p := <-t.inbox:
		return p.data, p.addr, nil
	}
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) sentTo(ip net.IP) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var result []string
	for _, p := range t.sent {
		if p.to.Equal(ip) {
			result = append(result, p.data)
		}
	}
	return result
}

func (t *fakeTransport) setFailSends(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failSends = n
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (n *fakeNode) handle(request string) (string, bool) {
	if n.silent {
		return "", false
	}
	if strings.HasPrefix(request, "#") {
		blob, err := remoteconfig.ParseFileBlob(request)
		if err != nil {
			return "!#ERROR#\n", true
		}
		n.files[blob.Name] = blob.Body
		return "", false
	}
	msg, err := remoteconfig.ParseMessage([]byte(request))
	if err != nil {
		return "?#ERROR#\n", true
	}
	switch {
	case msg.Command == remoteconfig.CmdList:
		return n.listReply, true
	case msg.Command == remoteconfig.CmdGet:
		body, ok := n.files[msg.Arg]
		if !ok {
			return "?get#ERROR#\n", true
		}
		return "#" + msg.Arg + "\n" + body, true
	case msg.Command == remoteconfig.CmdReboot:
		n.rebooted++
	case msg.Command == remoteconfig.CmdFactory:
		n.factory++
	case msg.Kind == remoteconfig.KindAction && msg.Command == remoteconfig.CmdDisplay:
		n.display = msg.Arg == "1"
	case msg.Kind == remoteconfig.KindAction && msg.Command == remoteconfig.CmdTftp:
		n.tftp = msg.Arg == "1"
	case msg.Command == remoteconfig.CmdDisplay:
		return "display:" + onOff(n.display) + "\n", true
	case msg.Command == remoteconfig.CmdTftp:
		return "tftp:" + onOff(n.tftp) + "\n", true
	case msg.Command == remoteconfig.CmdUptime:
		return "uptime:" + strconv.Itoa(n.uptime) + "s\n", true
	case msg.Command == remoteconfig.CmdVersion:
		return "version:" + n.version + "\n", true
	}
	return "", false
}

func onOff(on bool) string {
	if on {
		return "On"
	}
	return "Off"
}

func newTestSession(t *testing.T, transport Transport) *Session {
	t.Helper()
	s := NewSession(context.Background(), transport, SessionOptions{
		BroadcastIP:    testBroadcastIP,
		ReceiveTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}
