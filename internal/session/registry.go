package session

import (
	"container/list"
	"time"
)

// ConnID identifies one accepted connection for its whole lifetime.
type ConnID uint64

// Session is the snapshot taken when a connection completes the websocket
// upgrade. It is never mutated afterwards.
type Session struct {
	ID       ConnID
	Addr     string
	OpenedAt time.Time
}

// Registry maps live websocket connections to their sessions, preserving
// insertion order. It is not safe for concurrent use: the event loop owns it.
type Registry struct {
	order *list.List
	index map[ConnID]*list.Element
}

func NewRegistry() *Registry {
	return &Registry{
		order: list.New(),
		index: make(map[ConnID]*list.Element),
	}
}

// Add inserts s. Adding an ID that is already present replaces its record in
// place.
func (r *Registry) Add(s Session) {
	if el, ok := r.index[s.ID]; ok {
		el.Value = s
		return
	}
	r.index[s.ID] = r.order.PushBack(s)
}

func (r *Registry) Get(id ConnID) (Session, bool) {
	el, ok := r.index[id]
	if !ok {
		return Session{}, false
	}
	return el.Value.(Session), true
}

func (r *Registry) Remove(id ConnID) (Session, bool) {
	el, ok := r.index[id]
	if !ok {
		return Session{}, false
	}
	delete(r.index, id)
	return r.order.Remove(el).(Session), true
}

func (r *Registry) Len() int {
	return len(r.index)
}

// Each calls fn for every session in insertion order. fn must not modify the
// registry.
func (r *Registry) Each(fn func(Session)) {
	for el := r.order.Front(); el != nil; el = el.Next() {
		fn(el.Value.(Session))
	}
}

func (r *Registry) All() []Session {
	result := make([]Session, 0, r.Len())
	r.Each(func(s Session) {
		result = append(result, s)
	})
	return result
}
