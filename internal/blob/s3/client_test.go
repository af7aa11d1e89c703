package s3blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"", true, ""},
		{"minio:9000", false, "http://minio:9000"},
		{"e2.example.com/", true, "https://e2.example.com"},
		{"http://localhost:9000", true, "http://localhost:9000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, endpointURL(tt.endpoint, tt.useSSL), tt.endpoint)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, ClientConfig{Region: "us-east-1"})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = New(ctx, ClientConfig{Bucket: "archive"})
	assert.ErrorContains(t, err, "region is required")

	c, err := New(ctx, ClientConfig{
		Endpoint:       "localhost:9000",
		Region:         "us-east-1",
		Bucket:         "archive",
		AccessKey:      "minio",
		SecretKey:      "minio123",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "archive", c.Bucket())
	assert.NotNil(t, NewWriter(c))
	assert.NoError(t, c.Close())
}
