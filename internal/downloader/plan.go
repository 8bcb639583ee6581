package downloader

// ChunkRequest is one inclusive byte range of a resource.
type ChunkRequest struct {
	Index int
	Start int64
	End   int64
}

// Length returns the number of bytes covered by the request.
func (r ChunkRequest) Length() int64 {
	return r.End - r.Start + 1
}

// ChunkCount returns ceil(totalSize/chunkSize), or 0 when either is not positive.
func ChunkCount(totalSize, chunkSize int64) int {
	if totalSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((totalSize + chunkSize - 1) / chunkSize)
}

// RequestAt returns the request for chunk index. The last chunk's End is
// clamped to totalSize-1.
func RequestAt(totalSize, chunkSize int64, index int) ChunkRequest {
	start := int64(index) * chunkSize
	end := start + chunkSize - 1
	if end > totalSize-1 {
		end = totalSize - 1
	}
	return ChunkRequest{Index: index, Start: start, End: end}
}

// Plan splits a resource of totalSize bytes into contiguous chunk requests
// covering [0, totalSize-1] without gaps or overlap.
func Plan(totalSize, chunkSize int64) []ChunkRequest {
	n := ChunkCount(totalSize, chunkSize)
	reqs := make([]ChunkRequest, n)
	for i := range reqs {
		reqs[i] = RequestAt(totalSize, chunkSize, i)
	}
	return reqs
}

// DefaultChunkSize returns one hundredth of totalSize, rounded up.
func DefaultChunkSize(totalSize int64) int64 {
	if totalSize <= 0 {
		return 1
	}
	return (totalSize + 99) / 100
}
