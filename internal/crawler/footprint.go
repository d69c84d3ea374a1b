package crawler

import (
	"time"
)

// ChildStatus is the outcome recorded for a discovered child listing.
type ChildStatus string

const (
	StatusPending  ChildStatus = "pending"
	StatusResumed  ChildStatus = "resumed"
	StatusBlocked  ChildStatus = "blocked"
	StatusDeferred ChildStatus = "deferred"
	StatusDone     ChildStatus = "done"
	StatusPartial  ChildStatus = "partial"
	StatusFailed   ChildStatus = "failed"
)

// ChildState tracks one child listing through a run.
type ChildState struct {
	Key        string
	URL        string
	Status     ChildStatus
	Items      int
	Err        error
	FinishedAt time.Time
}

// Footprint records every discovered child in discovery order and refuses
// duplicate keys.
type Footprint struct {
	order   []string
	entries map[string]*ChildState
}

// NewFootprint returns an empty footprint.
func NewFootprint() *Footprint {
	return &Footprint{entries: make(map[string]*ChildState)}
}

// Discover records key with status pending. It returns false when key was
// already discovered.
func (f *Footprint) Discover(key, rawURL string) bool {
	if _, ok := f.entries[key]; ok {
		return false
	}
	f.order = append(f.order, key)
	f.entries[key] = &ChildState{Key: key, URL: rawURL, Status: StatusPending}
	return true
}

// Mark sets the status of a discovered key.
func (f *Footprint) Mark(key string, status ChildStatus, items int, err error) {
	state, ok := f.entries[key]
	if !ok {
		return
	}
	state.Status = status
	state.Items = items
	state.Err = err
	if status == StatusDone || status == StatusPartial || status == StatusFailed {
		state.FinishedAt = time.Now()
	}
}

// States returns copies of all entries in discovery order.
func (f *Footprint) States() []ChildState {
	out := make([]ChildState, 0, len(f.order))
	for _, k := range f.order {
		out = append(out, *f.entries[k])
	}
	return out
}

// Count returns how many entries carry status.
func (f *Footprint) Count(status ChildStatus) int {
	n := 0
	for _, s := range f.entries {
		if s.Status == status {
			n++
		}
	}
	return n
}
