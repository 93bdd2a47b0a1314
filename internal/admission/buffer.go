package admission

// ring is a FIFO queue bounded by limit. Storage grows on demand up to limit.
// It is not safe for concurrent use; Policy guards it.
type ring[T any] struct {
	items []T
	head  int
	size  int
	limit int
}

func newRing[T any](limit int) *ring[T] {
	initial := limit
	if initial > 64 {
		initial = 64
	}
	return &ring[T]{
		items: make([]T, initial),
		limit: limit,
	}
}

func (r *ring[T]) len() int { return r.size }
func (r *ring[T]) full() bool { return r.size >= r.limit }

// push appends item at the tail. The caller must check full first.
func (r *ring[T]) push(item T) {
	if r.size == len(r.items) {
		r.grow()
	}
	r.items[(r.head+r.size)%len(r.items)] = item
	r.size++
}

// pop removes and returns the head.
func (r *ring[T]) pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return item, true
}

// snapshot returns the buffered items from oldest to newest.
func (r *ring[T]) snapshot() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

func (r *ring[T]) grow() {
	n := len(r.items) * 2
	if n == 0 {
		n = 1
	}
	if n > r.limit {
		n = r.limit
	}
	items := make([]T, n)
	copy(items, r.snapshot())
	r.items = items
	r.head = 0
}
