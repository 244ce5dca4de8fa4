package remoteconfig

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrTooFewFields      = errors.New("too few fields in list reply")
	ErrUnknownCapability = errors.New("unknown capability")
	ErrUnknownMode       = errors.New("unknown mode")
	ErrInvalidAddress    = errors.New("invalid node address")
)

// minListFields は ?list# 応答に必要な最小フィールド数 (address,capability,mode,flag)
const minListFields = 4

// NodeKey は IPv4 アドレスをビッグエンディアンの uint32 にしたもの。
// レジストリのキーと並び順に使う。
type NodeKey uint32

func (k NodeKey) IP() net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, uint32(k))
	return ip
}

func (k NodeKey) String() string {
	return k.IP().String()
}

// MakeNodeKey は IPv4 アドレスから NodeKey を作る
func MakeNodeKey(ip net.IP) (NodeKey, bool) {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, false
	}
	return NodeKey(binary.BigEndian.Uint32(ip4)), true
}

// Node は ?list# 応答から作られた1台分のノード情報
type Node struct {
	IP           net.IP
	IdentityLine string
	DisplayName  string
	Capability   Capability
	Mode         Mode
	Flag         string
	ModeFile     TxtFile   // モードの主設定ファイル。無い場合は TxtNone
	AuxFiles     []TxtFile // capability/mode から導かれるその他のファイル

	key   NodeKey
	cache *BlobCache
}

// ParseNode は ?list# 応答 `address,capability,mode[\nflag],flag[,displayName]` を解析する。
// 既知の capability と mode の組み合わせにならない応答はエラーを返す。
func ParseNode(payload string) (*Node, error) {
	payload = strings.TrimRight(payload, "\x00 \t\r\n")
	values := strings.Split(payload, ",")
	if len(values) < minListFields {
		return nil, fmt.Errorf("%w: %d", ErrTooFewFields, len(values))
	}

	address := strings.TrimSpace(values[0])
	label := strings.TrimSpace(values[1])

	capability, ok := ParseCapability(label)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, label)
	}

	modeLines := strings.Split(values[2], "\n")
	modeLine := strings.TrimSpace(modeLines[0])
	mode, ok := ParseMode(modeLine)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, modeLine)
	}

	// モード欄が複数行のときは2行目がフラグで、以降のフィールドが表示名
	var flag, displayName string
	if len(modeLines) > 1 {
		flag = strings.TrimSpace(modeLines[1])
		displayName = strings.Join(values[3:], ",")
	} else {
		flag = strings.TrimSpace(values[3])
		displayName = strings.Join(values[4:], ",")
	}
	displayName = strings.TrimSpace(displayName)

	ip, err := resolveIPv4(address)
	if err != nil {
		return nil, err
	}
	key, _ := MakeNodeKey(ip)

	identityFlag := flag
	if identityFlag == "0" {
		identityFlag = ""
	}

	node := &Node{
		IP:           ip,
		IdentityLine: address + " " + label + " " + modeLine + " " + identityFlag,
		DisplayName:  displayName,
		Capability:   capability,
		Mode:         mode,
		Flag:         flag,
		ModeFile:     mode.TxtFile(),
		key:          key,
		cache:        NewBlobCache(),
	}
	for _, f := range AllTxtFiles() {
		if f != node.ModeFile && f.AppliesTo(capability, mode) {
			node.AuxFiles = append(node.AuxFiles, f)
		}
	}
	return node, nil
}

func resolveIPv4(address string) (net.IP, error) {
	if ip := net.ParseIP(address); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("%w: %q is not IPv4", ErrInvalidAddress, address)
	}
	addr, err := net.ResolveIPAddr("ip4", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return addr.IP.To4(), nil
}

func (n *Node) Key() NodeKey {
	return n.key
}

// Cache はノードの設定ファイルキャッシュを返す
func (n *Node) Cache() *BlobCache {
	return n.cache
}

// Files はノードに存在する全設定ファイルを表示順で返す
func (n *Node) Files() []TxtFile {
	files := make([]TxtFile, 0, len(n.AuxFiles)+1)
	if n.ModeFile.IsValid() {
		files = append(files, n.ModeFile)
	}
	return append(files, n.AuxFiles...)
}

// HasFile は f がこのノードに存在するか
func (n *Node) HasFile(f TxtFile) bool {
	for _, file := range n.Files() {
		if file == f {
			return true
		}
	}
	return false
}

// Equal はキャッシュを除いた内容が同じかどうか
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.key != other.key || n.IdentityLine != other.IdentityLine || n.DisplayName != other.DisplayName ||
		n.Capability != other.Capability || n.Mode != other.Mode || n.ModeFile != other.ModeFile ||
		len(n.AuxFiles) != len(other.AuxFiles) {
		return false
	}
	for i := range n.AuxFiles {
		if n.AuxFiles[i] != other.AuxFiles[i] {
			return false
		}
	}
	return true
}

// String は表示名があれば表示名、なければ識別行を返す
func (n *Node) String() string {
	if n.DisplayName != "" {
		return n.DisplayName
	}
	return n.IdentityLine
}
