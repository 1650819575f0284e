package alert

import (
	"time"

	"github.com/c360/zonewatch/pkg/buffer"
)

// DefaultLogCapacity and DefaultActiveWindow size the alert log
const (
	DefaultLogCapacity  = 20
	DefaultActiveWindow = 10 * time.Minute
)

// Log is the bounded, ordered record of recent alerts. The oldest entry is
// evicted once capacity is reached.
type Log struct {
	entries *buffer.Ring[Alert]
	window  time.Duration
}

// NewLog creates an alert log. Options configure the backing ring buffer.
func NewLog(capacity int, window time.Duration, opts ...buffer.Option[Alert]) (*Log, error) {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	if window <= 0 {
		window = DefaultActiveWindow
	}
	ring, err := buffer.NewRing(capacity, opts...)
	if err != nil {
		return nil, err
	}
	return &Log{entries: ring, window: window}, nil
}

// Append records alerts in order and returns how many older entries were evicted.
func (l *Log) Append(alerts ...Alert) int {
	evicted := 0
	for _, a := range alerts {
		if _, dropped := l.entries.Write(a); dropped {
			evicted++
		}
	}
	return evicted
}

// Entries returns the logged alerts, oldest first. Never nil.
func (l *Log) Entries() []Alert {
	return l.entries.Items()
}

// ActiveCount counts entries stamped strictly after now minus the window.
func (l *Log) ActiveCount(now time.Time) int {
	return CountActive(l.entries.Items(), now, l.window)
}

// CountActive counts alerts stamped strictly after now minus window.
func CountActive(alerts []Alert, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for _, a := range alerts {
		if a.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}
