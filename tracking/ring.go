package tracking

// ring 固定容量的环形缓冲区，写满后覆盖最旧元素。非并发安全，由 Tracker 加锁。
type ring[T any] struct {
	items []T
	next  int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.items[r.next] = v
	r.next = (r.next + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

func (r *ring[T]) len() int { return r.size }

// latest 返回最近的 n 个元素，新在前。n <= 0 返回全部
func (r *ring[T]) latest(n int) []T {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]T, 0, n)
	idx := r.next
	for i := 0; i < n; i++ {
		idx = (idx - 1 + len(r.items)) % len(r.items)
		out = append(out, r.items[idx])
	}
	return out
}
