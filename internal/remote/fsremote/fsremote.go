// Package fsremote implements the remote blob store on a local directory.
// Objects are addressed by content id and fanned out by the id's tail.
package fsremote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vault-md/walrusdb/internal/remote"
)

const metaSuffix = ".meta"

// Client stores blobs under a root directory.
type Client struct {
	dir   string
	quota int64

	mu         sync.Mutex
	ensureOnce sync.Once
	ensureErr  error
}

type objectMeta struct {
	Deletable bool      `json:"deletable"`
	Epochs    int       `json:"epochs"`
	StoredAt  time.Time `json:"stored_at"`
}

// New returns a client rooted at dir. A positive quota bounds the bytes the
// store will accept; zero means unlimited.
func New(dir string, quotaBytes int64) *Client {
	return &Client{dir: dir, quota: quotaBytes}
}

// ensureDir initialises the objects directory the first time it is needed.
func (c *Client) ensureDir() error {
	c.ensureOnce.Do(func() {
		c.ensureErr = os.MkdirAll(c.dir, 0o750)
	})
	return c.ensureErr
}

func (c *Client) objectPath(blobID string) string {
	fanout := blobID
	if len(blobID) > 2 {
		fanout = blobID[len(blobID)-2:]
	}
	return filepath.Join(c.dir, fanout, blobID)
}

func (c *Client) Write(ctx context.Context, data []byte, opts remote.WriteOptions) (remote.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return remote.WriteResult{}, err
	}
	if err := c.ensureDir(); err != nil {
		return remote.WriteResult{}, err
	}

	blobID, err := remote.ContentID(data)
	if err != nil {
		return remote.WriteResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.objectPath(blobID)
	existed := fileExists(path)
	if !existed && c.quota > 0 {
		used, err := c.usedBytes()
		if err != nil {
			return remote.WriteResult{}, err
		}
		if used+int64(len(data)) > c.quota {
			return remote.WriteResult{}, fmt.Errorf("fsremote: quota of %d bytes exceeded", c.quota)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return remote.WriteResult{}, err
	}
	if err := writeAtomic(path, data); err != nil {
		return remote.WriteResult{}, remote.Retryable(err)
	}

	deletable := opts.Deletable
	if existed {
		prev, err := readMeta(path)
		if err != nil {
			return remote.WriteResult{}, err
		}
		deletable = deletable && prev.Deletable
	}

	meta, err := json.Marshal(objectMeta{
		Deletable: deletable,
		Epochs:    opts.Epochs,
		StoredAt:  time.Now().UTC(),
	})
	if err != nil {
		return remote.WriteResult{}, err
	}
	if err := writeAtomic(path+metaSuffix, meta); err != nil {
		return remote.WriteResult{}, remote.Retryable(err)
	}

	return remote.WriteResult{BlobID: blobID}, nil
}

func (c *Client) Read(ctx context.Context, blobID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := remote.ValidateID(blobID); err != nil {
		return nil, err
	}

	//nolint:gosec // G304: path is derived from a validated content id
	data, err := os.ReadFile(c.objectPath(blobID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", remote.ErrBlobNotFound, blobID)
		}
		return nil, err
	}
	return data, nil
}

func (c *Client) Delete(ctx context.Context, blobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := remote.ValidateID(blobID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.objectPath(blobID)
	if !fileExists(path) {
		return fmt.Errorf("%w: %s", remote.ErrBlobNotFound, blobID)
	}

	meta, err := readMeta(path)
	if err != nil {
		return err
	}
	if !meta.Deletable {
		return fmt.Errorf("fsremote: blob %s was not stored as deletable", blobID)
	}

	if err := os.Remove(path); err != nil {
		return err
	}
	if err := os.Remove(path + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Balance reports the remaining quota in bytes, or +Inf when unlimited.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if c.quota <= 0 {
		return math.Inf(1), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	used, err := c.usedBytes()
	if err != nil {
		return 0, err
	}
	return float64(c.quota - used), nil
}

func (c *Client) Address() string {
	return "file://" + filepath.ToSlash(c.dir)
}

// Reset is a no-op; the filesystem holds no connection state.
func (c *Client) Reset() {}

func (c *Client) usedBytes() (int64, error) {
	var total int64
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, metaSuffix) || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// readMeta loads the sidecar of the object at path. A missing sidecar reads
// as a permanent blob.
func readMeta(path string) (objectMeta, error) {
	var meta objectMeta
	//nolint:gosec // G304: path is derived from a validated content id
	raw, err := os.ReadFile(path + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, nil
		}
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("fsremote: corrupt metadata for %s: %w", filepath.Base(path), err)
	}
	return meta, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
