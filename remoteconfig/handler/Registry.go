package handler

import (
	"net"
	"remote-config/remoteconfig"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// Registry は直近のディスカバリで見つかったノードの一覧。
// ディスカバリのたびに丸ごと置き換えられる。
type Registry struct {
	mu    sync.RWMutex
	nodes []*remoteconfig.Node // Key() の昇順
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Replace は一覧を nodes で置き換え、内容が変わったかどうかを返す
func (r *Registry) Replace(nodes []*remoteconfig.Node) bool {
	sorted := slices.Clone(nodes)
	slices.SortFunc(sorted, compareNodes)

	r.mu.Lock()
	defer r.mu.Unlock()
	changed := !slices.EqualFunc(r.nodes, sorted, func(a, b *remoteconfig.Node) bool {
		return a.Equal(b)
	})
	r.nodes = sorted
	return changed
}

// Nodes はノード一覧のコピーを返す
func (r *Registry) Nodes() []*remoteconfig.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.nodes)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

func (r *Registry) FindByIP(ip net.IP) (*remoteconfig.Node, bool) {
	key, ok := remoteconfig.MakeNodeKey(ip)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, found := slices.BinarySearchFunc(r.nodes, key, func(n *remoteconfig.Node, k remoteconfig.NodeKey) int {
		switch {
		case n.Key() < k:
			return -1
		case n.Key() > k:
			return 1
		}
		return 0
	})
	if !found {
		return nil, false
	}
	return r.nodes[i], true
}

// Find は IP アドレスまたは表示名でノードを探す
func (r *Registry) Find(spec string) (*remoteconfig.Node, bool) {
	spec = strings.TrimSpace(spec)
	if ip := net.ParseIP(spec); ip != nil {
		return r.FindByIP(ip)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := slices.IndexFunc(r.nodes, func(n *remoteconfig.Node) bool {
		return n.DisplayName != "" && n.DisplayName == spec
	})
	if i < 0 {
		return nil, false
	}
	return r.nodes[i], true
}
