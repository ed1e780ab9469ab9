package engine

import "github.com/xela07ax/promptguard-dashboard/internal/domain"

// DefaultLogCapacity — сколько строк лога видно на дашборде.
const DefaultLogCapacity = 8

// LogRing — кольцевой буфер записей, newest-first. При переполнении
// самая старая запись молча выбрасывается.
type LogRing struct {
	buf  []domain.LogEntry
	head int // индекс самой новой записи
	size int
}

func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogRing{buf: make([]domain.LogEntry, capacity), head: -1}
}

func (r *LogRing) Push(e domain.LogEntry) {
	r.head = (r.head + 1) % len(r.buf)
	r.buf[r.head] = e
	if r.size < len(r.buf) {
		r.size++
	}
}

func (r *LogRing) Len() int { return r.size }

func (r *LogRing) Cap() int { return len(r.buf) }

func (r *LogRing) Clear() {
	clear(r.buf)
	r.head = -1
	r.size = 0
}

// Entries возвращает копию записей, самая новая первой.
func (r *LogRing) Entries() []domain.LogEntry {
	out := make([]domain.LogEntry, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
