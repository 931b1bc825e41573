package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"blobmove/internal/checkpoint"
	"blobmove/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClient is an in-memory storage.Client recording every call the
// coordinator makes.
type fakeClient struct {
	mu sync.Mutex

	objects map[string][]byte // bucket/key -> data, for downloads and Head

	uploads       map[string]map[int][]byte // uploadID -> part number -> data
	uploadCounter int
	failParts     map[int]bool // part numbers whose upload fails
	slowParts     time.Duration

	completed      map[string][]byte // bucket/key -> assembled data
	completedOrder []int             // part numbers as passed to Complete
	aborted        []string          // upload IDs aborted
	singlePut      map[string][]byte // bucket/key -> data from PutObject
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		objects:   make(map[string][]byte),
		uploads:   make(map[string]map[int][]byte),
		failParts: make(map[int]bool),
		completed: make(map[string][]byte),
		singlePut: make(map[string][]byte),
	}
}

func objectPath(bucket, key string) string { return bucket + "/" + key }

func (f *fakeClient) HeadObject(_ context.Context, bucket, key string) (storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectPath(bucket, key)]
	if !ok {
		return storage.ObjectInfo{}, fmt.Errorf("no such object: %s/%s", bucket, key)
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeClient) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectPath(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("no such object: %s/%s", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeClient) GetObjectRange(_ context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectPath(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("no such object: %s/%s", bucket, key)
	}
	if offset+length > int64(len(data)) {
		return nil, fmt.Errorf("range [%d,%d) out of bounds", offset, offset+length)
	}
	return io.NopCloser(bytes.NewReader(data[offset : offset+length])), nil
}

func (f *fakeClient) PutObject(_ context.Context, bucket, key string, reader io.Reader, size int64, _ storage.PutOptions) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singlePut[objectPath(bucket, key)] = data
	return nil
}

func (f *fakeClient) NewMultipartUpload(_ context.Context, _, _ string, _ storage.PutOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCounter++
	id := fmt.Sprintf("upload-%d", f.uploadCounter)
	f.uploads[id] = make(map[int][]byte)
	return id, nil
}

func (f *fakeClient) UploadPart(ctx context.Context, _, _, uploadID string, partNumber int, reader io.Reader, size int64) (string, error) {
	if f.slowParts > 0 {
		select {
		case <-time.After(f.slowParts):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	fail := f.failParts[partNumber]
	f.mu.Unlock()
	if fail {
		return "", fmt.Errorf("injected failure for part %d", partNumber)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("part %d: read %d bytes, want %d", partNumber, len(data), size)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.uploads[uploadID]
	if !ok {
		return "", fmt.Errorf("no such upload: %s", uploadID)
	}
	parts[partNumber] = data
	return fmt.Sprintf("etag-%d", partNumber), nil
}

func (f *fakeClient) ListParts(_ context.Context, _, _, uploadID string) ([]storage.CompletedPart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.uploads[uploadID]
	if !ok {
		return nil, fmt.Errorf("no such upload: %s", uploadID)
	}
	var out []storage.CompletedPart
	for number, data := range parts {
		out = append(out, storage.CompletedPart{
			PartNumber: number,
			ETag:       fmt.Sprintf("etag-%d", number),
			Size:       int64(len(data)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out, nil
}

func (f *fakeClient) CompleteMultipartUpload(_ context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.uploads[uploadID]
	if !ok {
		return fmt.Errorf("no such upload: %s", uploadID)
	}
	var assembled []byte
	f.completedOrder = nil
	for _, part := range parts {
		f.completedOrder = append(f.completedOrder, part.PartNumber)
		data, ok := stored[part.PartNumber]
		if !ok {
			return fmt.Errorf("part %d never uploaded", part.PartNumber)
		}
		assembled = append(assembled, data...)
	}
	f.completed[objectPath(bucket, key)] = assembled
	delete(f.uploads, uploadID)
	return nil
}

func (f *fakeClient) AbortMultipartUpload(_ context.Context, _, _, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, uploadID)
	delete(f.uploads, uploadID)
	return nil
}

func testCoordinator(client storage.Client, journal checkpoint.Store, opts Options) *Coordinator {
	return NewCoordinator(opts, DefaultLimits, client, journal, nil, nil, zap.NewNop())
}

// patternData is deterministic non-repeating content so a misplaced or
// duplicated part corrupts the assembled object visibly.
func patternData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*31 + i/251)
	}
	return data
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestUploadMultipart(t *testing.T) {
	data := patternData(10_000)
	path := writeTempFile(t, data)

	client := newFakeClient()
	c := testCoordinator(client, nil, Options{
		PartSize:           1024,
		MultipartThreshold: 512,
		Workers:            4,
		QueueCapacity:      3,
	})

	require.NoError(t, c.Upload(context.Background(), "bkt", "obj", path))

	assert.Equal(t, data, client.completed["bkt/obj"])
	assert.Empty(t, client.aborted)
	assert.Empty(t, client.singlePut)

	// Parts must be handed to Complete in ascending part-number order
	// regardless of worker completion order.
	require.Len(t, client.completedOrder, 10)
	assert.True(t, sort.IntsAreSorted(client.completedOrder))
}

func TestUploadFinalPartRemainder(t *testing.T) {
	// 2500 bytes in 1024-byte parts: two full parts and a 452-byte tail.
	data := patternData(2500)
	path := writeTempFile(t, data)

	client := newFakeClient()
	c := testCoordinator(client, nil, Options{
		PartSize:           1024,
		MultipartThreshold: 100,
		Workers:            2,
		QueueCapacity:      0,
	})

	require.NoError(t, c.Upload(context.Background(), "bkt", "obj", path))
	assert.Equal(t, data, client.completed["bkt/obj"])
	assert.Equal(t, []int{1, 2, 3}, client.completedOrder)
}

func TestUploadSingleBelowThreshold(t *testing.T) {
	data := patternData(100)
	path := writeTempFile(t, data)

	client := newFakeClient()
	c := testCoordinator(client, nil, Options{
		PartSize:           1024,
		MultipartThreshold: 512,
		Workers:            2,
	})

	require.NoError(t, c.Upload(context.Background(), "bkt", "obj", path))
	assert.Equal(t, data, client.singlePut["bkt/obj"])
	assert.Empty(t, client.completed)
}

func TestUploadPartFailureAborts(t *testing.T) {
	data := patternData(5000)
	path := writeTempFile(t, data)

	client := newFakeClient()
	client.failParts[3] = true
	c := testCoordinator(client, nil, Options{
		PartSize:           1024,
		MultipartThreshold: 512,
		Workers:            2,
		QueueCapacity:      2,
	})

	err := c.Upload(context.Background(), "bkt", "obj", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "part 3")
	assert.Len(t, client.aborted, 1)
	assert.Empty(t, client.completed)
}

func TestUploadCancelledKeepsUpload(t *testing.T) {
	data := patternData(20_000)
	path := writeTempFile(t, data)

	client := newFakeClient()
	client.slowParts = 50 * time.Millisecond
	c := testCoordinator(client, nil, Options{
		PartSize:           1024,
		MultipartThreshold: 512,
		Workers:            2,
		QueueCapacity:      2,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(75 * time.Millisecond)
		cancel()
	}()

	err := c.Upload(ctx, "bkt", "obj", path)
	require.Error(t, err)
	// The in-flight upload must survive cancellation so it can resume.
	assert.Empty(t, client.aborted)
	assert.Empty(t, client.completed)
}

func TestUploadResumeSkipsJournaledParts(t *testing.T) {
	data := patternData(5000)
	path := writeTempFile(t, data)

	client := newFakeClient()
	journal, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer journal.Close()

	// Simulate a previous interrupted run: parts 1 and 3 already uploaded
	// under a journaled upload ID.
	uploadID, err := client.NewMultipartUpload(context.Background(), "bkt", "obj", storage.PutOptions{})
	require.NoError(t, err)
	for _, n := range []int{1, 3} {
		offset := int64(n-1) * 1024
		_, err := client.UploadPart(context.Background(), "bkt", "obj", uploadID, n,
			bytes.NewReader(data[offset:offset+1024]), 1024)
		require.NoError(t, err)
	}
	require.NoError(t, journal.SaveUpload(&checkpoint.UploadRecord{
		Bucket:    "bkt",
		Key:       "obj",
		UploadID:  uploadID,
		TotalSize: int64(len(data)),
		PartSize:  1024,
	}))

	c := testCoordinator(client, journal, Options{
		PartSize:           1024,
		MultipartThreshold: 512,
		Workers:            2,
		QueueCapacity:      2,
	})

	require.NoError(t, c.Upload(context.Background(), "bkt", "obj", path))
	assert.Equal(t, data, client.completed["bkt/obj"])
	assert.Equal(t, []int{1, 2, 3, 4, 5}, client.completedOrder)

	// The journal entry is cleared once the upload completes.
	record, err := journal.GetUpload("bkt", "obj")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestDownloadMultipart(t *testing.T) {
	data := patternData(10_000)
	client := newFakeClient()
	client.objects["bkt/obj"] = data

	c := testCoordinator(client, nil, Options{
		PartSize:           1024,
		MultipartThreshold: 512,
		Workers:            4,
		QueueCapacity:      3,
	})

	dest := filepath.Join(t.TempDir(), "dest.bin")
	require.NoError(t, c.Download(context.Background(), "bkt", "obj", dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownloadSingleBelowThreshold(t *testing.T) {
	data := patternData(300)
	client := newFakeClient()
	client.objects["bkt/obj"] = data

	c := testCoordinator(client, nil, Options{
		PartSize:           1024,
		MultipartThreshold: 512,
		Workers:            2,
	})

	dest := filepath.Join(t.TempDir(), "dest.bin")
	require.NoError(t, c.Download(context.Background(), "bkt", "obj", dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDryRunTransfersNothing(t *testing.T) {
	data := patternData(5000)
	path := writeTempFile(t, data)

	client := newFakeClient()
	c := testCoordinator(client, nil, Options{
		PartSize:           1024,
		MultipartThreshold: 512,
		Workers:            2,
		DryRun:             true,
	})

	require.NoError(t, c.Upload(context.Background(), "bkt", "obj", path))
	assert.Empty(t, client.completed)
	assert.Empty(t, client.singlePut)
	assert.Empty(t, client.uploads)
}
