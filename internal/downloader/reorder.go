package downloader

// Chunk is the outcome of one range request. Exactly one of Data and Err is
// meaningful.
type Chunk struct {
	Index int
	Data  []byte
	Err   error
}

// Buffer reorders chunks that complete in arbitrary order. It holds chunks
// keyed by index and releases them only in strictly increasing index order.
// An error chunk still advances the cursor; it is released as an error item.
//
// A Buffer is owned by a single goroutine.
type Buffer struct {
	pending map[int]Chunk
	next    int
}

// NewBuffer returns an empty Buffer whose cursor starts at chunk 0.
func NewBuffer() *Buffer {
	return &Buffer{pending: make(map[int]Chunk)}
}

// Put stores c. Chunks below the cursor or already stored are ignored.
func (b *Buffer) Put(c Chunk) {
	if c.Index < b.next {
		return
	}
	if _, ok := b.pending[c.Index]; ok {
		return
	}
	b.pending[c.Index] = c
}

// Pop returns the chunk at the cursor and advances it, or false when that
// chunk has not arrived yet.
func (b *Buffer) Pop() (Chunk, bool) {
	c, ok := b.pending[b.next]
	if !ok {
		return Chunk{}, false
	}
	delete(b.pending, b.next)
	b.next++
	return c, true
}

// Next returns the index the buffer is waiting for.
func (b *Buffer) Next() int {
	return b.next
}

// Len returns the number of chunks held.
func (b *Buffer) Len() int {
	return len(b.pending)
}
