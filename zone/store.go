// Package zone keeps the bounded live state of every zone that has reported.
package zone

import (
	"github.com/c360/zonewatch/pkg/buffer"
	"github.com/c360/zonewatch/telemetry"
)

// DefaultHistoryCapacity is the number of history points kept per zone
const DefaultHistoryCapacity = 50

// State is a point-in-time copy of one zone's state.
type State struct {
	Latest  *telemetry.Reading       `json:"latest"`
	History []telemetry.HistoryPoint `json:"history"`
}

type entry struct {
	latest  *telemetry.Reading
	history *buffer.Ring[telemetry.HistoryPoint]
}

// Store holds per-zone state. Entries are created on the first reading for a
// zone and never removed.
//
// Store does not lock on its own: the ingestion pipeline is its only writer
// and serializes access together with the alert log and stats.
type Store struct {
	capacity int
	zones    map[string]*entry
}

// NewStore creates an empty store keeping historyCapacity points per zone
func NewStore(historyCapacity int) *Store {
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	return &Store{
		capacity: historyCapacity,
		zones:    make(map[string]*entry),
	}
}

// Record replaces the zone's latest reading and appends its projection to the
// history tail, in arrival order.
func (s *Store) Record(r telemetry.Reading) {
	e, ok := s.zones[r.ZoneID]
	if !ok {
		e = &entry{history: buffer.MustRing[telemetry.HistoryPoint](s.capacity)}
		s.zones[r.ZoneID] = e
	}
	latest := r
	e.latest = &latest
	e.history.Write(r.Point())
}

// ReportingCount returns the number of zones with a latest reading
func (s *Store) ReportingCount() int {
	n := 0
	for _, e := range s.zones {
		if e.latest != nil {
			n++
		}
	}
	return n
}

// History returns the zone's history, oldest first. Unknown zones yield an
// empty, non-nil slice.
func (s *Store) History(zoneID string) []telemetry.HistoryPoint {
	e, ok := s.zones[zoneID]
	if !ok {
		return []telemetry.HistoryPoint{}
	}
	return e.history.Items()
}

// Snapshot copies every zone's state
func (s *Store) Snapshot() map[string]State {
	out := make(map[string]State, len(s.zones))
	for id, e := range s.zones {
		st := State{History: e.history.Items()}
		if e.latest != nil {
			latest := *e.latest
			st.Latest = &latest
		}
		out[id] = st
	}
	return out
}
