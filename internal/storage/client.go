package storage

import (
	"context"
	"io"
	"time"
)

// Client is the remote-store collaborator the transfer engine drives. One
// call per byte range; retry policy belongs to the caller, not here.
type Client interface {
	// Whole-object operations
	HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	GetObjectRange(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) error

	// Multipart operations
	NewMultipartUpload(ctx context.Context, bucket, key string, opts PutOptions) (string, error)
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, reader io.Reader, size int64) (string, error)
	ListParts(ctx context.Context, bucket, key, uploadID string) ([]CompletedPart, error)
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
}

// ObjectInfo contains object metadata
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
	Metadata     map[string]string
}

// PutOptions contains options for put operations
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// CompletedPart identifies one uploaded part of a multipart upload
type CompletedPart struct {
	PartNumber int
	ETag       string
	Size       int64
}

// Config contains client configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
}
