package progress

import (
	"sync"
	"time"
)

// Status is a snapshot of transfer progress
type Status struct {
	TotalParts     int64
	DoneParts      int64
	FailedParts    int64
	TotalBytes     int64
	DoneBytes      int64
	StartTime      time.Time
	AverageSpeed   float64 // bytes/second since start
	Remaining      time.Duration
}

// Tracker accumulates per-part progress from concurrent workers
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	return &Tracker{
		status: Status{StartTime: time.Now()},
	}
}

// SetTotal sets the total number of parts and bytes for the transfer
func (t *Tracker) SetTotal(parts, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.TotalParts = parts
	t.status.TotalBytes = bytes
}

// AddPart records one finished part of the given size
func (t *Tracker) AddPart(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.DoneParts++
	t.status.DoneBytes += bytes
}

// AddFailed records one failed part
func (t *Tracker) AddFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.FailedParts++
}

// GetStatus returns a consistent snapshot with derived speed and ETA
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := t.status
	elapsed := time.Since(status.StartTime).Seconds()
	if elapsed > 0 {
		status.AverageSpeed = float64(status.DoneBytes) / elapsed
	}
	if status.AverageSpeed > 0 && status.TotalBytes > status.DoneBytes {
		remaining := float64(status.TotalBytes-status.DoneBytes) / status.AverageSpeed
		status.Remaining = time.Duration(remaining * float64(time.Second))
	}
	return status
}
