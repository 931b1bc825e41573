package progress

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Reporter periodically logs a progress snapshot while a transfer runs
type Reporter struct {
	tracker  *Tracker
	logger   *zap.Logger
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReporter creates a reporter logging every interval
func NewReporter(tracker *Tracker, logger *zap.Logger, interval time.Duration) *Reporter {
	return &Reporter{
		tracker:  tracker,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins periodic reporting
func (r *Reporter) Start() {
	go r.loop()
}

// Stop ends reporting after logging a final snapshot
func (r *Reporter) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reporter) loop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.report()
		case <-r.stopCh:
			r.report()
			return
		}
	}
}

func (r *Reporter) report() {
	status := r.tracker.GetStatus()

	r.logger.Info("Transfer progress",
		zap.Int64("done_parts", status.DoneParts),
		zap.Int64("total_parts", status.TotalParts),
		zap.Int64("failed_parts", status.FailedParts),
		zap.String("done", FormatBytes(status.DoneBytes)),
		zap.String("total", FormatBytes(status.TotalBytes)),
		zap.String("speed", FormatBytes(int64(status.AverageSpeed))+"/s"),
		zap.Duration("eta", status.Remaining),
	)
}

// FormatBytes renders a byte count in a human-readable unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
