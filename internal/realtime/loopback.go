// README: In-memory realtime bus with the same surface as Conn, for tests and the scenario runner.
package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Loopback delivers injected events to handlers in injection order and records emits.
// Injections made from inside a handler are queued and delivered after it returns.
type Loopback struct {
	registry

	identity Identity

	mu         sync.Mutex
	status     Status
	closed     bool
	queue      []Envelope
	delivering bool
	emitted    []Envelope
	emitHooks  []entry[func(Envelope)]
	nextHook   int
}

func NewLoopback(id Identity) *Loopback {
	l := &Loopback{identity: id, status: StatusConnected}
	l.recordJoin()
	return l
}

func (l *Loopback) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// SetStatus simulates connection changes. Returning to connected re-sends join.
func (l *Loopback) SetStatus(s Status) {
	l.mu.Lock()
	changed := l.status != s
	l.status = s
	l.mu.Unlock()
	if !changed {
		return
	}
	if s == StatusConnected {
		l.recordJoin()
	}
	l.notifyStatus(s)
}

// Emit records an outbound event and runs the emit hooks.
func (l *Loopback) Emit(event string, payload any) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.status != StatusConnected {
		l.mu.Unlock()
		return ErrNotConnected
	}
	l.mu.Unlock()

	env, err := encode(event, payload, uuid.NewString())
	if err != nil {
		return err
	}
	l.record(env)
	return nil
}

// Inject delivers an inbound event as if the backend had sent it.
func (l *Loopback) Inject(event string, payload any) error {
	env, err := encode(event, payload, uuid.NewString())
	if err != nil {
		return err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, env)
	if l.delivering {
		l.mu.Unlock()
		return nil
	}
	l.delivering = true
	for len(l.queue) > 0 {
		next := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		l.dispatch(next)
		l.mu.Lock()
	}
	l.delivering = false
	l.mu.Unlock()
	return nil
}

// OnEmit registers a hook that sees every outbound event, e.g. a fake backend.
func (l *Loopback) OnEmit(fn func(Envelope)) func() {
	l.mu.Lock()
	id := l.nextHook
	l.nextHook++
	l.emitHooks = append(l.emitHooks, entry[func(Envelope)]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.emitHooks = without(l.emitHooks, id)
			l.mu.Unlock()
		})
	}
}

// Emitted returns recorded outbound envelopes, filtered by event when non-empty.
func (l *Loopback) Emitted(event string) []Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Envelope
	for _, e := range l.emitted {
		if event == "" || e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.status = StatusDisconnected
	l.mu.Unlock()
	l.notifyStatus(StatusDisconnected)
	return nil
}

func (l *Loopback) recordJoin() {
	env, _ := encode(EventJoin, l.identity, uuid.NewString())
	l.record(env)
}

func (l *Loopback) record(env Envelope) {
	l.mu.Lock()
	l.emitted = append(l.emitted, env)
	hooks := append([]entry[func(Envelope)](nil), l.emitHooks...)
	l.mu.Unlock()
	for _, h := range hooks {
		h.fn(env)
	}
}

var (
	_ Client = (*Conn)(nil)
	_ Client = (*Loopback)(nil)
)
