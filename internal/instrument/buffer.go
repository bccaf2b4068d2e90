package instrument

import "sync"

// Recorder keeps the most recent finished spans in memory, oldest evicted first.
type Recorder struct {
	mu      sync.Mutex
	events  []Event
	next    int
	full    bool
	maxSize int
}

// NewRecorder creates a recorder holding up to maxSize events.
func NewRecorder(maxSize int) *Recorder {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &Recorder{events: make([]Event, maxSize), maxSize: maxSize}
}

// Enqueue adds an event, evicting the oldest when full.
func (r *Recorder) Enqueue(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = event
	r.next = (r.next + 1) % r.maxSize
	if r.next == 0 {
		r.full = true
	}
}

// Filter narrows Recent. Zero values match everything.
type Filter struct {
	Source string
	Action string
	Status string
	Limit  int
}

func (f Filter) match(e Event) bool {
	return (f.Source == "" || e.Source == f.Source) &&
		(f.Action == "" || e.Action == f.Action) &&
		(f.Status == "" || e.Status == f.Status)
}

// Recent returns matching events, newest first.
func (r *Recorder) Recent(f Filter) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = r.maxSize
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		e := r.events[(r.next-i+r.maxSize)%r.maxSize]
		if !f.match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Len returns the number of buffered events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return r.maxSize
	}
	return r.next
}
