package realtime

import "sync"

type entry[T any] struct {
	id int
	fn T
}

// registry holds event handlers and status watchers in registration order.
type registry struct {
	mu       sync.RWMutex
	next     int
	handlers map[string][]entry[Handler]
	unknown  []entry[Handler]
	watchers []entry[func(Status)]
}

func (r *registry) On(event string, h Handler) func() {
	r.mu.Lock()
	if r.handlers == nil {
		r.handlers = make(map[string][]entry[Handler])
	}
	id := r.next
	r.next++
	r.handlers[event] = append(r.handlers[event], entry[Handler]{id: id, fn: h})
	r.mu.Unlock()

	return r.remover(func() {
		r.handlers[event] = without(r.handlers[event], id)
		if len(r.handlers[event]) == 0 {
			delete(r.handlers, event)
		}
	})
}

// OnUnknown registers a fallback for events nobody handles.
func (r *registry) OnUnknown(h Handler) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.unknown = append(r.unknown, entry[Handler]{id: id, fn: h})
	r.mu.Unlock()

	return r.remover(func() { r.unknown = without(r.unknown, id) })
}

func (r *registry) WatchStatus(fn func(Status)) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.watchers = append(r.watchers, entry[func(Status)]{id: id, fn: fn})
	r.mu.Unlock()

	return r.remover(func() { r.watchers = without(r.watchers, id) })
}

func (r *registry) remover(remove func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			remove()
			r.mu.Unlock()
		})
	}
}

// dispatch runs the handlers for env.Event, or the unknown handlers when there are none.
func (r *registry) dispatch(env Envelope) {
	r.mu.RLock()
	hs := append([]entry[Handler](nil), r.handlers[env.Event]...)
	if len(hs) == 0 {
		hs = append(hs, r.unknown...)
	}
	r.mu.RUnlock()
	for _, h := range hs {
		h.fn(env)
	}
}

func (r *registry) notifyStatus(s Status) {
	r.mu.RLock()
	ws := append([]entry[func(Status)](nil), r.watchers...)
	r.mu.RUnlock()
	for _, w := range ws {
		w.fn(s)
	}
}

func without[T any](list []entry[T], id int) []entry[T] {
	for i, e := range list {
		if e.id == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
