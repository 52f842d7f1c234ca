package ring

// Buffer is a fixed-capacity FIFO list; pushing into a full buffer evicts the oldest item.
// Params: capacity fixed at construction.
// Returns: bounded history container (not safe for concurrent use).
type Buffer[T any] struct {
	items []T
	head  int
	size  int
}

// New creates empty buffer with given capacity.
// Params: capacity (values <1 are raised to 1).
// Returns: initialized buffer.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends item as newest entry.
// Params: item to store.
// Returns: evicted oldest item and true when buffer was full.
func (b *Buffer[T]) Push(item T) (T, bool) {
	var evicted T
	full := b.size == len(b.items)
	tail := (b.head + b.size) % len(b.items)
	if full {
		evicted = b.items[b.head]
		b.items[b.head] = item
		b.head = (b.head + 1) % len(b.items)
		return evicted, true
	}
	b.items[tail] = item
	b.size++
	return evicted, false
}

// Len returns number of stored items.
// Params: none.
// Returns: current size.
func (b *Buffer[T]) Len() int {
	return b.size
}

// Cap returns fixed capacity.
// Params: none.
// Returns: max item count.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Newest returns up to limit items ordered newest first.
// Params: limit (<=0 means all).
// Returns: copied item slice.
func (b *Buffer[T]) Newest(limit int) []T {
	if limit <= 0 || limit > b.size {
		limit = b.size
	}
	out := make([]T, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, b.at(b.size-1-i))
	}
	return out
}

// Each visits items oldest to newest until fn returns false.
// Params: visitor callback.
// Returns: none.
func (b *Buffer[T]) Each(fn func(item T) bool) {
	for i := 0; i < b.size; i++ {
		if !fn(b.at(i)) {
			return
		}
	}
}

func (b *Buffer[T]) at(index int) T {
	return b.items[(b.head+index)%len(b.items)]
}
