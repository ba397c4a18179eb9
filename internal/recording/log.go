// Package recording captures a human demonstration and turns it into a
// workflow definition.
package recording

import (
	"image"
	"slices"
	"sync"
	"time"
)

// EventKind mirrors the input listener's event types.
type EventKind string

const (
	EventMove      EventKind = "move"
	EventClick     EventKind = "click"
	EventClickDown EventKind = "click_down"
	EventClickUp   EventKind = "click_up"
	EventScroll    EventKind = "scroll"
	EventKey       EventKind = "key"
)

// Event is one input event. For scroll events DY follows the listener
// convention: positive scrolls up.
type Event struct {
	Kind EventKind `json:"type"`
	X    int       `json:"x,omitempty"`
	Y    int       `json:"y,omitempty"`
	DY   int       `json:"dy,omitempty"`
	Key  string    `json:"key,omitempty"`
	Time time.Time `json:"timestamp"`
}

func (e Event) Point() image.Point {
	return image.Pt(e.X, e.Y)
}

// Frame is one screenshot taken during the demonstration.
type Frame struct {
	Time  time.Time
	Image image.Image
}

// Entry holds exactly one of Event or Frame.
type Entry struct {
	Time  time.Time
	Event *Event
	Frame *Frame
}

// Log is the append-only demonstration log shared by the producers.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

func (l *Log) AppendEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Time: e.Time, Event: &e})
}

func (l *Log) AppendFrame(f Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Time: f.Time, Frame: &f})
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a copy of the log ordered by time. Entries with equal
// timestamps keep their append order.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	out := slices.Clone(l.entries)
	l.mu.Unlock()

	slices.SortStableFunc(out, func(a, b Entry) int {
		return a.Time.Compare(b.Time)
	})
	return out
}
