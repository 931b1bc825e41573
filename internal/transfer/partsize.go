package transfer

// Service-imposed ceilings on a multipart transfer. The part-count limit is
// kept below the documented 1,000-part cap of older S3-compatible gateways
// to leave headroom; the single-transfer cap is the 5 GiB PUT limit.
const (
	// MaxParts is the most parts a single multipart transfer may use.
	MaxParts = 950

	// MaxSingleSize is the largest byte range a single part transfer
	// may carry: 5 GiB.
	MaxSingleSize = 5 * 1024 * 1024 * 1024
)

// Limits holds the service ceilings the part-size planner must honor. They
// are carried explicitly rather than read from package globals so the
// planner can be exercised against alternate limits.
type Limits struct {
	MaxParts      int64
	MaxSingleSize int64
}

// DefaultLimits are the ceilings of the target object store.
var DefaultLimits = Limits{
	MaxParts:      MaxParts,
	MaxSingleSize: MaxSingleSize,
}

// PlanPartSize returns a part size that keeps ceil(totalSize/partSize)
// within l.MaxParts and the part size within l.MaxSingleSize.
//
// When the requested size already satisfies the part-count limit it is
// returned unchanged. Otherwise it is doubled until the count fits, so the
// result is always a power-of-two multiple of the request; the doubling is
// deliberately not a binary search for the tightest fit, trading optimal
// packing for predictable sizes. The final candidate is clamped to
// l.MaxSingleSize.
//
// The function is pure and total over totalSize >= 0 and requestedSize > 0;
// a non-positive requestedSize is a caller bug and is rejected earlier, at
// config validation.
func (l Limits) PlanPartSize(totalSize, requestedSize int64) int64 {
	partSize := requestedSize
	for partCount(totalSize, partSize) > l.MaxParts {
		partSize *= 2
	}
	if partSize > l.MaxSingleSize {
		return l.MaxSingleSize
	}
	return partSize
}

// partCount returns ceil(totalSize / partSize).
func partCount(totalSize, partSize int64) int64 {
	return (totalSize + partSize - 1) / partSize
}
