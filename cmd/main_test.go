package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBucketKey(t *testing.T) {
	cases := []struct {
		path   string
		bucket string
		key    string
	}{
		{"mybucket/file.bin", "mybucket", "file.bin"},
		{"mybucket/nested/path/file.bin", "mybucket", "nested/path/file.bin"},
		{"s3://mybucket/file.bin", "mybucket", "file.bin"},
	}

	for _, tc := range cases {
		bucket, key, err := splitBucketKey(tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.bucket, bucket)
		assert.Equal(t, tc.key, key)
	}
}

func TestSplitBucketKeyInvalid(t *testing.T) {
	for _, path := range []string{"", "bucketonly", "bucket/", "/key"} {
		_, _, err := splitBucketKey(path)
		assert.Error(t, err, path)
	}
}
