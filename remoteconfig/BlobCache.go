package remoteconfig

import "sync"

// BlobCache はノードごとの設定ファイルのキャッシュ
type BlobCache struct {
	mu    sync.Mutex
	blobs map[TxtFile]FileBlob
}

func NewBlobCache() *BlobCache {
	return &BlobCache{blobs: make(map[TxtFile]FileBlob)}
}

// Lookup はキャッシュされた内容を返す
func (c *BlobCache) Lookup(f TxtFile) (FileBlob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	blob, ok := c.blobs[f]
	return blob, ok
}

func (c *BlobCache) Store(f TxtFile, blob FileBlob) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blobs[f] = blob
}

// Invalidate は f のキャッシュだけを破棄する
func (c *BlobCache) Invalidate(f TxtFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blobs, f)
}

func (c *BlobCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blobs = make(map[TxtFile]FileBlob)
}

// Get はキャッシュがあればそれを返し、なければ fetch を呼んで結果を保存する。
// fetch がエラーもしくはデータなし (ok=false) を返した場合は保存しない。
// fetch はロックの外で呼ばれる。
func (c *BlobCache) Get(f TxtFile, fetch func() (FileBlob, bool, error)) (FileBlob, bool, error) {
	if blob, ok := c.Lookup(f); ok {
		return blob, true, nil
	}
	blob, ok, err := fetch()
	if err != nil || !ok {
		return FileBlob{}, false, err
	}
	c.Store(f, blob)
	return blob, true, nil
}
