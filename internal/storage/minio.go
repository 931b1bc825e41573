package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOClient implements the Client interface using minio-go
type MinIOClient struct {
	client *minio.Client
}

// NewMinIOClient creates a new MinIO client
func NewMinIOClient(cfg Config) (*MinIOClient, error) {
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOClient{client: client}, nil
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port format
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, nil
}

// HeadObject gets object metadata
func (c *MinIOClient) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, err
	}

	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
		Metadata:     info.UserMetadata,
	}, nil
}

// GetObject retrieves a whole object
func (c *MinIOClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

// GetObjectRange retrieves length bytes of an object starting at offset
func (c *MinIOClient) GetObjectRange(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, fmt.Errorf("invalid range [%d,%d): %w", offset, offset+length, err)
	}
	return c.client.GetObject(ctx, bucket, key, opts)
}

// PutObject uploads an object in a single request
func (c *MinIOClient) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) error {
	putOpts := minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	}

	_, err := c.client.PutObject(ctx, bucket, key, reader, size, putOpts)
	return err
}

// NewMultipartUpload initiates a multipart upload
func (c *MinIOClient) NewMultipartUpload(ctx context.Context, bucket, key string, opts PutOptions) (string, error) {
	putOpts := minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	}

	// Multipart primitives live on the core API
	core := &minio.Core{Client: c.client}
	return core.NewMultipartUpload(ctx, bucket, key, putOpts)
}

// UploadPart uploads a single part
func (c *MinIOClient) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, reader io.Reader, size int64) (string, error) {
	core := &minio.Core{Client: c.client}
	part, err := core.PutObjectPart(ctx, bucket, key, uploadID, partNumber, reader, size, minio.PutObjectPartOptions{})
	if err != nil {
		return "", err
	}
	return part.ETag, nil
}

// ListParts returns the parts already uploaded under uploadID
func (c *MinIOClient) ListParts(ctx context.Context, bucket, key, uploadID string) ([]CompletedPart, error) {
	core := &minio.Core{Client: c.client}

	var parts []CompletedPart
	marker := 0
	for {
		result, err := core.ListObjectParts(ctx, bucket, key, uploadID, marker, 1000)
		if err != nil {
			return nil, err
		}
		for _, p := range result.ObjectParts {
			parts = append(parts, CompletedPart{
				PartNumber: p.PartNumber,
				ETag:       p.ETag,
				Size:       p.Size,
			})
		}
		if !result.IsTruncated {
			return parts, nil
		}
		marker = result.NextPartNumberMarker
	}
}

// CompleteMultipartUpload completes a multipart upload
func (c *MinIOClient) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) error {
	minioParts := make([]minio.CompletePart, len(parts))
	for i, part := range parts {
		minioParts[i] = minio.CompletePart{
			PartNumber: part.PartNumber,
			ETag:       part.ETag,
		}
	}

	core := &minio.Core{Client: c.client}
	_, err := core.CompleteMultipartUpload(ctx, bucket, key, uploadID, minioParts, minio.PutObjectOptions{})
	return err
}

// AbortMultipartUpload aborts a multipart upload
func (c *MinIOClient) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	core := &minio.Core{Client: c.client}
	return core.AbortMultipartUpload(ctx, bucket, key, uploadID)
}
