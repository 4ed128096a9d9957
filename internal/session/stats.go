package session

import "github.com/roach88/pcx/internal/ir"

// Stats counts a session's store traffic and loading work.
type Stats struct {
	KeyFetches           int `json:"key_fetches"`
	QueryFetches         int `json:"query_fetches"`
	ProxyInitializations int `json:"proxy_initializations"`
	EntitiesLoaded       int `json:"entities_loaded"`
	Inserts              int `json:"inserts"`
	Updates              int `json:"updates"`
	Deletes              int `json:"deletes"`
}

// Fetches returns the number of read round trips.
func (s Stats) Fetches() int {
	return s.KeyFetches + s.QueryFetches
}

// EventKind names one kind of store round trip.
type EventKind string

const (
	EventFetchKey   EventKind = "fetch_key"
	EventFetchQuery EventKind = "fetch_query"
	EventInsert     EventKind = "insert"
	EventUpdate     EventKind = "update"
	EventDelete     EventKind = "delete"
)

// Event describes one store round trip.
type Event struct {
	Seq     int64     `json:"seq"`
	Session string    `json:"session"`
	Kind    EventKind `json:"kind"`
	Key     string    `json:"key,omitempty"`
	Query   string    `json:"query,omitempty"`
	Rows    int       `json:"rows"`
}

// ToIR converts the event for canonical encoding.
func (e Event) ToIR() ir.IRObject {
	obj := ir.IRObject{
		"seq":     ir.IRInt(e.Seq),
		"session": ir.IRString(e.Session),
		"kind":    ir.IRString(string(e.Kind)),
		"rows":    ir.IRInt(int64(e.Rows)),
	}
	if e.Key != "" {
		obj["key"] = ir.IRString(e.Key)
	}
	if e.Query != "" {
		obj["query"] = ir.IRString(e.Query)
	}
	return obj
}

// Observer receives every store round trip in order.
type Observer func(Event)

// record counts one round trip and notifies the observer.
func (s *Session) record(kind EventKind, key, query string, rows int) {
	switch kind {
	case EventFetchKey:
		s.stats.KeyFetches++
	case EventFetchQuery:
		s.stats.QueryFetches++
	case EventInsert:
		s.stats.Inserts++
	case EventUpdate:
		s.stats.Updates++
	case EventDelete:
		s.stats.Deletes++
	}

	seq := s.factory.clock.Next()
	s.logger.Debug("store round trip", "seq", seq, "kind", kind, "key", key, "query", query, "rows", rows)
	if s.factory.observer != nil {
		s.factory.observer(Event{
			Seq:     seq,
			Session: s.id,
			Kind:    kind,
			Key:     key,
			Query:   query,
			Rows:    rows,
		})
	}
}
