package quota

import "time"

// window is a fixed-capacity FIFO of admission timestamps, oldest first.
type window struct {
	buf   []time.Time
	head  int
	count int
}

func newWindow(capacity int) *window {
	if capacity < 1 {
		capacity = 1
	}
	return &window{buf: make([]time.Time, capacity)}
}

func (w *window) Len() int   { return w.count }
func (w *window) Full() bool { return w.count == len(w.buf) }

// Oldest returns the earliest retained timestamp.
func (w *window) Oldest() (time.Time, bool) {
	if w.count == 0 {
		return time.Time{}, false
	}
	return w.buf[w.head], true
}

// Push appends ts. It reports false when the window is already full.
func (w *window) Push(ts time.Time) bool {
	if w.Full() {
		return false
	}
	w.buf[(w.head+w.count)%len(w.buf)] = ts
	w.count++
	return true
}

// Trim drops every entry that is span or more older than now.
func (w *window) Trim(now time.Time, span time.Duration) {
	for w.count > 0 && now.Sub(w.buf[w.head]) >= span {
		w.buf[w.head] = time.Time{}
		w.head = (w.head + 1) % len(w.buf)
		w.count--
	}
}

// CountSince counts entries newer than now-span without trimming.
func (w *window) CountSince(now time.Time, span time.Duration) int {
	n := 0
	for i := 0; i < w.count; i++ {
		if now.Sub(w.buf[(w.head+i)%len(w.buf)]) < span {
			n++
		}
	}
	return n
}
