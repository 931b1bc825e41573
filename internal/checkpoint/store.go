package checkpoint

import (
	"time"
)

// UploadRecord tracks an in-flight multipart upload so an interrupted
// transfer can resume with the same upload ID and part size instead of
// starting over.
type UploadRecord struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	UploadID  string    `json:"upload_id"`
	TotalSize int64     `json:"total_size"`
	PartSize  int64     `json:"part_size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PartRecord is one completed part of a journaled upload.
type PartRecord struct {
	Number int    `json:"number"`
	ETag   string `json:"etag"`
	Size   int64  `json:"size"`
}

// Store defines the interface for the resume journal
type Store interface {
	GetUpload(bucket, key string) (*UploadRecord, error)
	SaveUpload(record *UploadRecord) error
	DeleteUpload(bucket, key string) error

	ListParts(bucket, key string) ([]PartRecord, error)
	SavePart(bucket, key string, part PartRecord) error

	Close() error
}
