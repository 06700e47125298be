package journal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"orbix/internal/modules/ride"
)

const (
	queueSize    = 64
	writeTimeout = 3 * time.Second
)

// Appender is the write side of Store.
type Appender interface {
	AppendTransition(ctx context.Context, e *Entry) error
}

// Recorder journals every phase change of a store in order, off the store's goroutine.
// When the queue is full entries are dropped and logged; the journal is audit only.
type Recorder struct {
	store *ride.Store
	out   Appender
	log   *zap.Logger

	mu    sync.Mutex
	unsub func()
	queue chan Entry
	wg    sync.WaitGroup
}

func NewRecorder(store *ride.Store, out Appender, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, out: out, log: logger.With(zap.String("component", "journal"))}
}

func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsub != nil {
		return
	}
	r.queue = make(chan Entry, queueSize)
	r.wg.Add(1)
	go r.run(r.queue)
	r.unsub = r.store.Subscribe(r.onChange)
}

// Stop unsubscribes and writes whatever is still queued.
func (r *Recorder) Stop() {
	r.mu.Lock()
	unsub := r.unsub
	q := r.queue
	r.unsub = nil
	r.queue = nil
	r.mu.Unlock()
	if unsub == nil {
		return
	}
	unsub()
	close(q)
	r.wg.Wait()
}

func (r *Recorder) onChange(c ride.Change) {
	if c.Kind != ride.ChangePhase && c.Kind != ride.ChangeRestore {
		return
	}
	e := Entry{
		RideID:     c.Session.RideID,
		IdentityID: r.store.IdentityID(),
		Role:       r.store.Role(),
		From:       c.From,
		To:         c.To,
		Event:      c.Event,
		Session:    c.Session,
		CreatedAt:  c.At,
	}
	if c.Kind == ride.ChangeRestore {
		e.Event = "restored"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue == nil {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.log.Warn("journal queue full, dropping entry",
			zap.String("ride_id", string(e.RideID)),
			zap.String("to", string(e.To)))
	}
}

func (r *Recorder) run(q <-chan Entry) {
	defer r.wg.Done()
	for e := range q {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.out.AppendTransition(ctx, &e); err != nil {
			r.log.Warn("journal append failed",
				zap.String("ride_id", string(e.RideID)),
				zap.String("to", string(e.To)),
				zap.Error(err))
		}
		cancel()
	}
}
