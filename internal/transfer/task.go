package transfer

// PartTask is one contiguous byte range of an object, transferred
// independently by a worker. Numbers are 1-based, matching the part
// numbering the remote store uses to assemble a multipart upload.
type PartTask struct {
	Number int
	Offset int64
	Length int64
}

// splitParts slices [0, totalSize) into partSize ranges; the final part
// carries the remainder.
func splitParts(totalSize, partSize int64) []PartTask {
	count := partCount(totalSize, partSize)
	tasks := make([]PartTask, 0, count)
	for n := int64(1); n <= count; n++ {
		offset := (n - 1) * partSize
		length := partSize
		if offset+length > totalSize {
			length = totalSize - offset
		}
		tasks = append(tasks, PartTask{Number: int(n), Offset: offset, Length: length})
	}
	return tasks
}
