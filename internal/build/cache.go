package build

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orizon-lang/wp4c/internal/codegen"
	"github.com/orizon-lang/wp4c/internal/target"
)

// Key identifies the artifacts of one input under one target record.
type Key string

// KeyOf hashes the encoded program, the header name the implementation
// includes and the target record.
func KeyOf(program []byte, headerName string, cfg *target.Config) Key {
	h := sha256.New()
	h.Write(program)
	h.Write([]byte{0})
	h.Write([]byte(headerName))
	h.Write([]byte{0})
	h.Write(cfg.Fingerprint())
	return Key(hex.EncodeToString(h.Sum(nil)))
}

// CacheStats exposes basic metrics.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Entries   int64
	Bytes     int64
	Evictions int64
}

// Cache stores generated artifacts by key.
type Cache interface {
	Get(key Key) (*codegen.Artifacts, bool, error)
	Put(key Key, a *codegen.Artifacts) error
	Invalidate(key Key) error
	Stats() CacheStats
}

// ArtifactCache is a thread-safe LRU cache with a max entry count.
type ArtifactCache struct {
	mu       sync.Mutex
	capacity int
	llHead   *lruNode
	llTail   *lruNode
	table    map[Key]*lruNode
	stats    CacheStats
}

type lruNode struct {
	key  Key
	val  *codegen.Artifacts
	size int64
	prev *lruNode
	next *lruNode
}

// NewArtifactCache creates a cache holding at most capacity entries. If
// capacity<=0, defaults to 256.
func NewArtifactCache(capacity int) *ArtifactCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &ArtifactCache{capacity: capacity, table: make(map[Key]*lruNode)}
}

func (c *ArtifactCache) moveToFront(n *lruNode) {
	if c.llHead == n {
		return
	}
	c.detach(n)
	n.next = c.llHead
	if c.llHead != nil {
		c.llHead.prev = n
	}
	c.llHead = n
	if c.llTail == nil {
		c.llTail = n
	}
}

func (c *ArtifactCache) detach(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.llHead == n {
		c.llHead = n.next
	}
	if c.llTail == n {
		c.llTail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *ArtifactCache) evictIfNeeded() {
	for len(c.table) > c.capacity && c.llTail != nil {
		n := c.llTail
		c.detach(n)
		delete(c.table, n.key)
		c.stats.Evictions++
		c.stats.Entries = int64(len(c.table))
		c.stats.Bytes -= n.size
	}
}

func artifactSize(a *codegen.Artifacts) int64 {
	return int64(len(a.Header) + len(a.Source))
}

func (c *ArtifactCache) Get(key Key) (*codegen.Artifacts, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.table[key]; ok {
		c.moveToFront(n)
		c.stats.Hits++
		return n.val, true, nil
	}
	c.stats.Misses++
	return nil, false, nil
}

func (c *ArtifactCache) Put(key Key, a *codegen.Artifacts) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.table[key]; ok {
		old := n.size
		n.val = a
		n.size = artifactSize(a)
		c.stats.Bytes += n.size - old
		c.moveToFront(n)
		return nil
	}
	n := &lruNode{key: key, val: a, size: artifactSize(a)}
	n.next = c.llHead
	if c.llHead != nil {
		c.llHead.prev = n
	}
	c.llHead = n
	if c.llTail == nil {
		c.llTail = n
	}
	c.table[key] = n
	c.stats.Entries = int64(len(c.table))
	c.stats.Bytes += n.size
	c.evictIfNeeded()
	return nil
}

func (c *ArtifactCache) Invalidate(key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.table[key]; ok {
		c.detach(n)
		delete(c.table, key)
		c.stats.Entries = int64(len(c.table))
		c.stats.Bytes -= n.size
	}
	return nil
}

func (c *ArtifactCache) Stats() CacheStats { c.mu.Lock(); defer c.mu.Unlock(); return c.stats }

// DiskCache stores artifacts under a root directory so that they survive
// between runs. Each key owns a directory with a manifest and gzip blobs.
type DiskCache struct {
	root  string
	mu    sync.Mutex
	stats CacheStats
}

// NewDiskCache ensures the root directory exists.
func NewDiskCache(root string) (*DiskCache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{root: root}, nil
}

type diskManifest struct {
	Key        string      `json:"key"`
	CreatedAt  time.Time   `json:"created_at"`
	HeaderName string      `json:"header_name"`
	Files      []diskEntry `json:"files"`
}

type diskEntry struct {
	Name   string `json:"name"`
	Blob   string `json:"blob"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Blob names inside a key directory.
const (
	headerBlob = "header"
	sourceBlob = "source"
)

func (dc *DiskCache) pathForKey(key Key) string { return filepath.Join(dc.root, string(key)) }
func (dc *DiskCache) pathForManifest(key Key) string {
	return filepath.Join(dc.pathForKey(key), "manifest.json")
}

func (dc *DiskCache) Get(key Key) (*codegen.Artifacts, bool, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	b, err := os.ReadFile(dc.pathForManifest(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			dc.stats.Misses++
			return nil, false, nil
		}
		return nil, false, err
	}
	var man diskManifest
	if err := json.Unmarshal(b, &man); err != nil {
		return nil, false, err
	}

	files := make(map[string]string, len(man.Files))
	for _, fe := range man.Files {
		data, err := dc.readBlob(key, fe)
		if err != nil {
			return nil, false, err
		}
		files[fe.Name] = string(data)
	}
	dc.stats.Hits++
	return &codegen.Artifacts{
		HeaderName: man.HeaderName,
		Header:     files[headerBlob],
		Source:     files[sourceBlob],
	}, true, nil
}

func (dc *DiskCache) readBlob(key Key, fe diskEntry) ([]byte, error) {
	rb, err := os.ReadFile(filepath.Join(dc.pathForKey(key), fe.Blob))
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(rb))
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(zr)
	zr.Close()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	if int64(len(data)) != fe.Size || hex.EncodeToString(sum[:]) != fe.SHA256 {
		return nil, fmt.Errorf("cache entry %s: %s is corrupt", key, fe.Name)
	}
	return data, nil
}

func (dc *DiskCache) Put(key Key, a *codegen.Artifacts) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dir := dc.pathForKey(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	man := diskManifest{Key: string(key), CreatedAt: time.Now().UTC(), HeaderName: a.HeaderName}
	var total int64
	for _, f := range []struct{ name, data string }{{headerBlob, a.Header}, {sourceBlob, a.Source}} {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write([]byte(f.data)); err != nil {
			return err
		}
		if err := gw.Close(); err != nil {
			return err
		}
		blob := f.name + ".gz"
		if err := writeAtomic(filepath.Join(dir, blob), buf.Bytes()); err != nil {
			return err
		}
		sum := sha256.Sum256([]byte(f.data))
		man.Files = append(man.Files, diskEntry{
			Name: f.name, Blob: blob, Size: int64(len(f.data)), SHA256: hex.EncodeToString(sum[:]),
		})
		total += int64(len(f.data))
	}

	mb, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(dc.pathForManifest(key), mb); err != nil {
		return err
	}
	dc.stats.Entries++
	dc.stats.Bytes += total
	return nil
}

func (dc *DiskCache) Invalidate(key Key) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dir := dc.pathForKey(key)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	err := os.RemoveAll(dir)
	if err == nil {
		dc.stats.Entries--
	}
	return err
}

func (dc *DiskCache) Stats() CacheStats { dc.mu.Lock(); defer dc.mu.Unlock(); return dc.stats }
