// Package memremote is an in-process remote blob store. It backs the
// "memory" backend and doubles as a fault-injecting fake in tests.
package memremote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/vault-md/walrusdb/internal/remote"
)

// ErrInjected is the error returned by injected write failures.
var ErrInjected = errors.New("memremote: injected failure")

type object struct {
	data      []byte
	deletable bool
}

// Client keeps blobs in a map guarded by a mutex.
type Client struct {
	mu       sync.Mutex
	objects  map[string]object
	failures []error
	balance  float64

	writes  int
	reads   int
	deletes int
	resets  int
}

// New returns an empty store with an unlimited balance.
func New() *Client {
	return &Client{
		objects: make(map[string]object),
		balance: math.Inf(1),
	}
}

// FailNextWrites makes the next n writes fail. Retryable failures are
// wrapped so remote.IsRetryable reports true.
func (c *Client) FailNextWrites(n int, retryable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		err := fmt.Errorf("%w (write %d)", ErrInjected, i+1)
		if retryable {
			err = remote.Retryable(err)
		}
		c.failures = append(c.failures, err)
	}
}

// SetBalance fixes the value reported by Balance.
func (c *Client) SetBalance(balance float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = balance
}

func (c *Client) Write(ctx context.Context, data []byte, opts remote.WriteOptions) (remote.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return remote.WriteResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writes++
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return remote.WriteResult{}, err
	}

	blobID, err := remote.ContentID(data)
	if err != nil {
		return remote.WriteResult{}, err
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	deletable := opts.Deletable
	if prev, ok := c.objects[blobID]; ok && !prev.deletable {
		deletable = false
	}
	c.objects[blobID] = object{data: stored, deletable: deletable}

	return remote.WriteResult{BlobID: blobID, TxDigest: uuid.NewString()}, nil
}

func (c *Client) Read(ctx context.Context, blobID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.reads++
	obj, ok := c.objects[blobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", remote.ErrBlobNotFound, blobID)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (c *Client) Delete(ctx context.Context, blobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.deletes++
	obj, ok := c.objects[blobID]
	if !ok {
		return fmt.Errorf("%w: %s", remote.ErrBlobNotFound, blobID)
	}
	if !obj.deletable {
		return fmt.Errorf("memremote: blob %s was not stored as deletable", blobID)
	}
	delete(c.objects, blobID)
	return nil
}

func (c *Client) Balance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}

func (c *Client) Address() string {
	return "memory://local"
}

func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
}

// Writes returns the number of Write calls, failed ones included.
func (c *Client) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// Reads returns the number of Read calls.
func (c *Client) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Resets returns the number of Reset calls.
func (c *Client) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

// Len returns the number of blobs currently held.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}
