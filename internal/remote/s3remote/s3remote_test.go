package s3remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"

	"github.com/vault-md/walrusdb/internal/remote"
)

func responseError(status int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      fmt.Errorf("status %d", status),
		},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		notFound  bool
		retryable bool
	}{
		{name: "no such key", err: &types.NoSuchKey{}, notFound: true},
		{name: "404", err: responseError(http.StatusNotFound), notFound: true},
		{name: "503", err: responseError(http.StatusServiceUnavailable), retryable: true},
		{name: "429", err: responseError(http.StatusTooManyRequests), retryable: true},
		{name: "403", err: responseError(http.StatusForbidden)},
		{name: "deadline", err: fmt.Errorf("put: %w", context.DeadlineExceeded), retryable: true},
		{name: "network", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, retryable: true},
		{name: "other", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, "bafkreiexample")
			assert.Equal(t, tt.notFound, errors.Is(got, remote.ErrBlobNotFound))
			assert.Equal(t, tt.retryable, remote.IsRetryable(got))
		})
	}
}

func TestKeyUsesPrefixAndFanout(t *testing.T) {
	c := &Client{opts: Options{Bucket: "b", Prefix: "blobs"}}
	assert.Equal(t, "blobs/yz/abcxyz", c.key("abcxyz"))
	assert.Equal(t, "s3://b/blobs", c.Address())
}
