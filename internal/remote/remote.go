// Package remote defines the blob store capability consumed by the core and
// the error classification shared by every backend.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ErrBlobNotFound is returned by Read and Delete for unknown blob ids.
var ErrBlobNotFound = errors.New("remote: blob not found")

// WriteOptions are passed through to the backend on every write.
type WriteOptions struct {
	Deletable bool
	Epochs    int
}

// WriteResult is what a backend reports after a successful write.
type WriteResult struct {
	BlobID   string
	TxDigest string
}

// Client is a content-addressed remote blob store. Implementations classify
// transient failures by wrapping them with Retryable.
type Client interface {
	Write(ctx context.Context, data []byte, opts WriteOptions) (WriteResult, error)
	Read(ctx context.Context, blobID string) ([]byte, error)
	Delete(ctx context.Context, blobID string) error
	Balance(ctx context.Context) (float64, error)
	Address() string
	// Reset drops connection state after a retryable failure.
	Reset()
}

// RetryableError marks a transient backend failure.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err so IsRetryable reports true. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err, or anything it wraps, is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

var idPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// ContentID returns the CIDv1 (raw codec, sha2-256) of data in its default
// base32 string form. Backends that address content locally use it as the blob id.
func ContentID(data []byte) (string, error) {
	c, err := idPrefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("remote: compute content id: %w", err)
	}
	return c.String(), nil
}

// ValidateID rejects strings that are not CIDs.
func ValidateID(blobID string) error {
	if _, err := cid.Decode(blobID); err != nil {
		return fmt.Errorf("remote: invalid blob id %q: %w", blobID, err)
	}
	return nil
}
