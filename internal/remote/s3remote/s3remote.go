// Package s3remote implements the remote blob store on an S3-compatible bucket.
package s3remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vault-md/walrusdb/internal/remote"
)

const deletableMetaKey = "walrusdb-deletable"

// Options locate the bucket. Endpoint is optional and selects an
// S3-compatible service instead of AWS.
type Options struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// Client writes blobs as objects keyed by content id.
type Client struct {
	opts   Options
	awsCfg aws.Config

	mu     sync.Mutex
	client *s3.Client
}

// New loads the default AWS configuration and checks that the bucket is reachable.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3remote: bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               opts.Endpoint,
					HostnameImmutable: true,
					SigningRegion:     opts.Region,
				}, nil
			})))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3remote: load aws config: %w", err)
	}

	c := &Client{
		opts:   opts,
		awsCfg: awsCfg,
		client: s3.NewFromConfig(awsCfg),
	}

	// make sure we can access the specified bucket
	if _, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(opts.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("s3remote: could not access bucket %q: %w", opts.Bucket, err)
	}

	return c, nil
}

func (c *Client) s3() *s3.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *Client) key(blobID string) string {
	fanout := blobID
	if len(blobID) > 2 {
		fanout = blobID[len(blobID)-2:]
	}
	return path.Join(c.opts.Prefix, fanout, blobID)
}

func (c *Client) Write(ctx context.Context, data []byte, opts remote.WriteOptions) (remote.WriteResult, error) {
	blobID, err := remote.ContentID(data)
	if err != nil {
		return remote.WriteResult{}, err
	}

	deletable := "false"
	if opts.Deletable {
		// An existing permanent copy stays permanent.
		sticky, err := c.storedPermanent(ctx, blobID)
		if err != nil {
			return remote.WriteResult{}, err
		}
		if !sticky {
			deletable = "true"
		}
	}

	uploader := manager.NewUploader(c.s3())
	out, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(c.opts.Bucket),
		Key:      aws.String(c.key(blobID)),
		Body:     bytes.NewReader(data),
		Metadata: map[string]string{deletableMetaKey: deletable},
	})
	if err != nil {
		return remote.WriteResult{}, classify(err, blobID)
	}

	digest := aws.ToString(out.VersionID)
	if digest == "" {
		digest = out.Location
	}
	return remote.WriteResult{BlobID: blobID, TxDigest: digest}, nil
}

// storedPermanent reports whether blobID already exists without the
// deletable flag.
func (c *Client) storedPermanent(ctx context.Context, blobID string) (bool, error) {
	head, err := c.s3().HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(c.key(blobID)),
	})
	if err != nil {
		err = classify(err, blobID)
		if errors.Is(err, remote.ErrBlobNotFound) {
			return false, nil
		}
		return false, err
	}
	return head.Metadata[deletableMetaKey] != "true", nil
}

func (c *Client) Read(ctx context.Context, blobID string) ([]byte, error) {
	if err := remote.ValidateID(blobID); err != nil {
		return nil, err
	}

	out, err := c.s3().GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(c.key(blobID)),
	})
	if err != nil {
		return nil, classify(err, blobID)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, remote.Retryable(err)
	}
	return data, nil
}

func (c *Client) Delete(ctx context.Context, blobID string) error {
	if err := remote.ValidateID(blobID); err != nil {
		return err
	}

	head, err := c.s3().HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(c.key(blobID)),
	})
	if err != nil {
		return classify(err, blobID)
	}
	if head.Metadata[deletableMetaKey] != "true" {
		return fmt.Errorf("s3remote: blob %s was not stored as deletable", blobID)
	}

	if _, err := c.s3().DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(c.key(blobID)),
	}); err != nil {
		return classify(err, blobID)
	}
	return nil
}

// Balance is unbounded; S3 has no prepaid account model.
func (c *Client) Balance(context.Context) (float64, error) {
	return math.Inf(1), nil
}

func (c *Client) Address() string {
	return "s3://" + path.Join(c.opts.Bucket, c.opts.Prefix)
}

// Reset rebuilds the S3 client from the loaded configuration.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = s3.NewFromConfig(c.awsCfg)
}

// classify maps SDK errors onto the remote error taxonomy.
func classify(err error, blobID string) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %s", remote.ErrBlobNotFound, blobID)
	}

	var responseError *awshttp.ResponseError
	if errors.As(err, &responseError) {
		status := responseError.ResponseError.HTTPStatusCode()
		switch {
		case status == http.StatusNotFound:
			return fmt.Errorf("%w: %s", remote.ErrBlobNotFound, blobID)
		case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
			return remote.Retryable(err)
		default:
			return err
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return remote.Retryable(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return remote.Retryable(err)
	}
	return err
}
