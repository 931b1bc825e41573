package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"blobmove/internal/checkpoint"
	"blobmove/internal/metrics"
	"blobmove/internal/progress"
	"blobmove/internal/storage"
	"blobmove/internal/taskq"

	"go.uber.org/zap"
)

// Options contains transfer-engine configuration
type Options struct {
	PartSize           int64
	MultipartThreshold int64
	Workers            int
	QueueCapacity      int
	DryRun             bool
}

// Coordinator splits objects into parts sized by the planner, pushes one
// task per part through a bounded queue, and drains the queue with a fixed
// worker pool that drives the remote-store client. Completion order of
// parts is not preserved; the store assembles them by part number.
type Coordinator struct {
	opts    Options
	limits  Limits
	client  storage.Client
	journal checkpoint.Store   // optional resume journal
	metrics *metrics.Collector // optional
	tracker *progress.Tracker  // optional
	logger  *zap.Logger
}

// NewCoordinator creates a coordinator. journal, metricsCollector and
// tracker may be nil to disable resume, metrics and progress respectively.
func NewCoordinator(
	opts Options,
	limits Limits,
	client storage.Client,
	journal checkpoint.Store,
	metricsCollector *metrics.Collector,
	tracker *progress.Tracker,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		opts:    opts,
		limits:  limits,
		client:  client,
		journal: journal,
		metrics: metricsCollector,
		tracker: tracker,
		logger:  logger,
	}
}

// Upload transfers the local file at path to bucket/key. Files above the
// multipart threshold are split into parts and uploaded concurrently.
func (c *Coordinator) Upload(ctx context.Context, bucket, key, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}
	size := info.Size()

	if size <= c.opts.MultipartThreshold {
		if c.opts.DryRun {
			c.logPlan(bucket, key, size, size, 1)
			return nil
		}
		return c.uploadSingle(ctx, bucket, key, file, size)
	}

	partSize := c.limits.PlanPartSize(size, c.opts.PartSize)
	tasks := splitParts(size, partSize)

	if c.opts.DryRun {
		c.logPlan(bucket, key, size, partSize, len(tasks))
		return nil
	}

	return c.uploadMultipart(ctx, bucket, key, file, size, partSize, tasks)
}

func (c *Coordinator) uploadSingle(ctx context.Context, bucket, key string, file *os.File, size int64) error {
	opts := storage.PutOptions{ContentType: "application/octet-stream"}
	if err := c.client.PutObject(ctx, bucket, key, file, size, opts); err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	if c.tracker != nil {
		c.tracker.SetTotal(1, size)
		c.tracker.AddPart(size)
	}
	if c.metrics != nil {
		c.metrics.IncPartSuccess(size)
	}
	c.logger.Info("Upload completed",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("size", size),
	)
	return nil
}

func (c *Coordinator) uploadMultipart(ctx context.Context, bucket, key string, file *os.File, size, partSize int64, tasks []PartTask) error {
	uploadID, done, err := c.openUpload(ctx, bucket, key, size, partSize)
	if err != nil {
		return err
	}

	c.logger.Info("Starting multipart upload",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("size", size),
		zap.Int64("part_size", partSize),
		zap.Int("parts", len(tasks)),
		zap.Int("resumed_parts", len(done)),
	)

	if c.tracker != nil {
		c.tracker.SetTotal(int64(len(tasks)), size)
	}

	var (
		partsMu sync.Mutex
		parts   []storage.CompletedPart
	)

	pending := tasks[:0:0]
	for _, task := range tasks {
		if completed, ok := done[task.Number]; ok && completed.Size == task.Length {
			parts = append(parts, completed)
			if c.tracker != nil {
				c.tracker.AddPart(task.Length)
			}
			if c.metrics != nil {
				c.metrics.IncPartSkipped()
			}
			continue
		}
		pending = append(pending, task)
	}

	err = c.runParts(ctx, pending, func(ctx context.Context, task PartTask) error {
		section := io.NewSectionReader(file, task.Offset, task.Length)
		etag, err := c.client.UploadPart(ctx, bucket, key, uploadID, task.Number, section, task.Length)
		if err != nil {
			return err
		}

		completed := storage.CompletedPart{PartNumber: task.Number, ETag: etag, Size: task.Length}
		partsMu.Lock()
		parts = append(parts, completed)
		partsMu.Unlock()

		if c.journal != nil {
			record := checkpoint.PartRecord{Number: task.Number, ETag: etag, Size: task.Length}
			if err := c.journal.SavePart(bucket, key, record); err != nil {
				c.logger.Warn("Failed to journal part", zap.Int("part", task.Number), zap.Error(err))
			}
		}
		return nil
	})

	if err != nil {
		// On external cancellation keep the upload and its journal so a
		// later run can resume; a part failure aborts and cleans up.
		if ctx.Err() != nil {
			c.logger.Warn("Upload interrupted, keeping journal for resume",
				zap.String("key", key),
				zap.String("upload_id", uploadID),
			)
			return err
		}
		c.abortUpload(bucket, key, uploadID)
		return err
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	if err := c.client.CompleteMultipartUpload(ctx, bucket, key, uploadID, parts); err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	if c.journal != nil {
		if err := c.journal.DeleteUpload(bucket, key); err != nil {
			c.logger.Warn("Failed to clear journal entry", zap.String("key", key), zap.Error(err))
		}
	}

	c.logger.Info("Upload completed",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("size", size),
		zap.Int("parts", len(parts)),
	)
	return nil
}

// openUpload returns the upload ID to use and the parts already present
// remotely, resuming a journaled upload when its geometry still matches.
func (c *Coordinator) openUpload(ctx context.Context, bucket, key string, size, partSize int64) (string, map[int]storage.CompletedPart, error) {
	done := make(map[int]storage.CompletedPart)

	if c.journal != nil {
		record, err := c.journal.GetUpload(bucket, key)
		if err != nil {
			c.logger.Warn("Failed to read journal", zap.String("key", key), zap.Error(err))
		} else if record != nil && record.TotalSize == size && record.PartSize == partSize {
			remote, err := c.client.ListParts(ctx, bucket, key, record.UploadID)
			if err == nil {
				for _, part := range remote {
					done[part.PartNumber] = part
				}
				return record.UploadID, done, nil
			}
			// The journaled upload no longer exists remotely; fall
			// through to a fresh one.
			c.logger.Warn("Journaled upload not found remotely, starting over",
				zap.String("key", key),
				zap.String("upload_id", record.UploadID),
				zap.Error(err),
			)
		}
	}

	opts := storage.PutOptions{ContentType: "application/octet-stream"}
	uploadID, err := c.client.NewMultipartUpload(ctx, bucket, key, opts)
	if err != nil {
		return "", nil, fmt.Errorf("failed to initiate multipart upload: %w", err)
	}

	if c.journal != nil {
		record := &checkpoint.UploadRecord{
			Bucket:    bucket,
			Key:       key,
			UploadID:  uploadID,
			TotalSize: size,
			PartSize:  partSize,
		}
		if err := c.journal.DeleteUpload(bucket, key); err != nil {
			c.logger.Warn("Failed to clear stale journal entry", zap.String("key", key), zap.Error(err))
		}
		if err := c.journal.SaveUpload(record); err != nil {
			c.logger.Warn("Failed to journal upload", zap.String("key", key), zap.Error(err))
		}
	}

	return uploadID, done, nil
}

func (c *Coordinator) abortUpload(bucket, key, uploadID string) {
	// The transfer context may already be cancelled; abort must still go out.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.client.AbortMultipartUpload(ctx, bucket, key, uploadID); err != nil {
		c.logger.Error("Failed to abort multipart upload",
			zap.String("key", key),
			zap.String("upload_id", uploadID),
			zap.Error(err),
		)
	}
	if c.journal != nil {
		if err := c.journal.DeleteUpload(bucket, key); err != nil {
			c.logger.Warn("Failed to clear journal entry", zap.String("key", key), zap.Error(err))
		}
	}
}

// Download transfers bucket/key into the local file at path. Objects above
// the multipart threshold are fetched as concurrent ranged reads.
func (c *Coordinator) Download(ctx context.Context, bucket, key, path string) error {
	info, err := c.client.HeadObject(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("failed to stat remote object: %w", err)
	}
	size := info.Size

	if size <= c.opts.MultipartThreshold {
		if c.opts.DryRun {
			c.logPlan(bucket, key, size, size, 1)
			return nil
		}
		return c.downloadSingle(ctx, bucket, key, path, size)
	}

	partSize := c.limits.PlanPartSize(size, c.opts.PartSize)
	tasks := splitParts(size, partSize)

	if c.opts.DryRun {
		c.logPlan(bucket, key, size, partSize, len(tasks))
		return nil
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer file.Close()

	if err := file.Truncate(size); err != nil {
		return fmt.Errorf("failed to size destination file: %w", err)
	}

	c.logger.Info("Starting multipart download",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("size", size),
		zap.Int64("part_size", partSize),
		zap.Int("parts", len(tasks)),
	)

	if c.tracker != nil {
		c.tracker.SetTotal(int64(len(tasks)), size)
	}

	err = c.runParts(ctx, tasks, func(ctx context.Context, task PartTask) error {
		body, err := c.client.GetObjectRange(ctx, bucket, key, task.Offset, task.Length)
		if err != nil {
			return err
		}
		defer body.Close()

		written, err := io.Copy(io.NewOffsetWriter(file, task.Offset), body)
		if err != nil {
			return err
		}
		if written != task.Length {
			return fmt.Errorf("short read: got %d bytes, want %d", written, task.Length)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync destination file: %w", err)
	}

	c.logger.Info("Download completed",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("size", size),
		zap.Int("parts", len(tasks)),
	)
	return nil
}

func (c *Coordinator) downloadSingle(ctx context.Context, bucket, key, path string, size int64) error {
	body, err := c.client.GetObject(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("failed to get object: %w", err)
	}
	defer body.Close()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, body); err != nil {
		return fmt.Errorf("failed to write destination file: %w", err)
	}

	if c.tracker != nil {
		c.tracker.SetTotal(1, size)
		c.tracker.AddPart(size)
	}
	if c.metrics != nil {
		c.metrics.IncPartSuccess(size)
	}
	c.logger.Info("Download completed",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("size", size),
	)
	return nil
}

// runParts feeds tasks through the bounded queue into a fixed worker pool.
// The producer blocks once the queue is at capacity, so buffered work never
// outgrows QueueCapacity. The first handler error cancels the run.
func (c *Coordinator) runParts(ctx context.Context, tasks []PartTask, handle func(context.Context, PartTask) error) error {
	if len(tasks) == 0 {
		return ctx.Err()
	}

	queue := taskq.New[PartTask](c.opts.QueueCapacity)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	remaining := int64(len(tasks))
	var (
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		cancel()
	}

	workers := c.opts.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			logger := c.logger.With(zap.Int("worker_id", id))
			logger.Debug("Worker started")

			for {
				// Blocks until a task arrives or the run is cancelled,
				// either by completion of the last part or by failure.
				task, err := queue.Get(runCtx)
				if err != nil {
					logger.Debug("Worker finished")
					return
				}
				if c.metrics != nil {
					c.metrics.SetQueueDepth(queue.Len())
				}

				start := time.Now()
				if err := handle(runCtx, task); err != nil {
					if c.metrics != nil {
						c.metrics.IncPartFailed()
					}
					if c.tracker != nil {
						c.tracker.AddFailed()
					}
					logger.Warn("Part transfer failed",
						zap.Int("part", task.Number),
						zap.Error(err),
					)
					fail(fmt.Errorf("part %d: %w", task.Number, err))
					return
				}

				if c.metrics != nil {
					c.metrics.IncPartSuccess(task.Length)
					c.metrics.ObservePartDuration(time.Since(start))
				}
				if c.tracker != nil {
					c.tracker.AddPart(task.Length)
				}
				logger.Debug("Part transferred",
					zap.Int("part", task.Number),
					zap.Int64("length", task.Length),
				)

				if atomic.AddInt64(&remaining, -1) == 0 {
					cancel() // all parts done; release blocked workers
				}
			}
		}(i)
	}

	for _, task := range tasks {
		if err := queue.Put(runCtx, task); err != nil {
			// Run cancelled while blocked on a full queue; the cause is
			// already recorded by the failing worker or the caller's ctx.
			break
		}
	}

	wg.Wait()

	errMu.Lock()
	defer errMu.Unlock()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (c *Coordinator) logPlan(bucket, key string, size, partSize int64, parts int) {
	c.logger.Info("Transfer plan",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("size", size),
		zap.Int64("part_size", partSize),
		zap.Int("parts", parts),
		zap.Bool("multipart", parts > 1),
	)
}
