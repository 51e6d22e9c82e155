package transport

import (
	"sync"
	"time"
)

// defaultErrorLogSize is the number of entries kept by the default error log.
const defaultErrorLogSize = 32

// ErrorEntry is one recorded transport error together with the pipeline
// states at the moment it happened.
type ErrorEntry struct {
	Time       time.Time
	ChannelID  int
	Event      string
	ErrorState ChannelError
	ReadState  ReadState
	WriteState WriteState
	Err        error
}

// ErrorLog keeps a bounded history of recent errors.
// A single ErrorLog may be shared by many transports.
type ErrorLog interface {
	// Record appends an entry, evicting the oldest one when full.
	Record(ErrorEntry)
	// Snapshot returns the retained entries, oldest first.
	Snapshot() []ErrorEntry
}

// ringErrorLog is a fixed-capacity ring of error entries.
type ringErrorLog struct {
	mu      sync.Mutex
	entries []ErrorEntry
	next    int
	full    bool
}

// NewErrorLog returns an ErrorLog that retains the last size entries.
// A size of zero or less selects the default.
func NewErrorLog(size int) ErrorLog {
	if size <= 0 {
		size = defaultErrorLogSize
	}
	return &ringErrorLog{entries: make([]ErrorEntry, size)}
}

func (l *ringErrorLog) Record(e ErrorEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = e
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.full = true
	}
}

func (l *ringErrorLog) Snapshot() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		return append([]ErrorEntry(nil), l.entries[:l.next]...)
	}
	out := make([]ErrorEntry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	return append(out, l.entries[:l.next]...)
}
