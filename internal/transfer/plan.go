// Package transfer implements the per-chunk transfer state machine and the
// per-file task that plans, dispatches and merges chunks.
package transfer

// Range is one chunk's half-open byte range [Start, End)
type Range struct {
	Index int // 0-based
	Start int64
	End   int64
}

// Size returns the number of bytes in the range
func (r Range) Size() int64 {
	return r.End - r.Start
}

// PlanChunks partitions [0, totalSize) into chunkSize ranges and returns
// those with index >= skip. Every range is exactly chunkSize long except
// the last, which holds the remainder.
func PlanChunks(totalSize, chunkSize int64, skip int) []Range {
	if totalSize <= 0 || chunkSize <= 0 {
		return nil
	}
	total := int((totalSize + chunkSize - 1) / chunkSize)
	skip = max(0, min(skip, total))

	ranges := make([]Range, 0, total-skip)
	for i := skip; i < total; i++ {
		start := int64(i) * chunkSize
		ranges = append(ranges, Range{
			Index: i,
			Start: start,
			End:   min(start+chunkSize, totalSize),
		})
	}
	return ranges
}
