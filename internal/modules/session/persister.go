package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"orbix/internal/modules/ride"
)

const writeTimeout = 3 * time.Second

type op struct {
	save bool
	sess ride.Session
}

// Persister mirrors the live session into a Cache. Writes happen on one background
// goroutine and only the latest pending write is kept, so a slow cache never stalls the store.
type Persister struct {
	store *ride.Store
	cache Cache
	log   *zap.Logger

	mu    sync.Mutex
	next  *op
	unsub func()

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func NewPersister(store *ride.Store, cache Cache, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{
		store: store,
		cache: cache,
		log:   logger.With(zap.String("component", "session")),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// RestoreInto loads the saved session for the store's identity and role and restores it.
// It reports whether a ride was restored.
func (p *Persister) RestoreInto(ctx context.Context) (bool, error) {
	s, err := p.cache.Load(ctx, p.store.IdentityID(), p.store.Role())
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := p.store.Restore(s); err != nil {
		p.log.Warn("discarding saved session", zap.String("ride_id", string(s.RideID)), zap.Error(err))
		_ = p.cache.Delete(ctx, p.store.IdentityID(), p.store.Role())
		return false, nil
	}
	return true, nil
}

func (p *Persister) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsub != nil {
		return
	}
	p.unsub = p.store.Subscribe(p.onChange)
	p.wg.Add(1)
	go p.run()
}

// Stop unsubscribes and waits for the last pending write.
func (p *Persister) Stop() {
	p.mu.Lock()
	unsub := p.unsub
	p.unsub = nil
	p.mu.Unlock()
	if unsub == nil {
		return
	}
	unsub()
	close(p.done)
	p.wg.Wait()
}

func (p *Persister) onChange(c ride.Change) {
	switch c.Kind {
	case ride.ChangePhase:
		switch {
		case c.To == ride.PhaseCompleted || c.To == ride.PhaseCancelled:
			p.enqueue(op{})
		case c.To.Active():
			p.enqueue(op{save: true, sess: c.Session})
		}
	case ride.ChangeFare:
		if c.To.Active() {
			p.enqueue(op{save: true, sess: c.Session})
		}
	case ride.ChangeReset:
		p.enqueue(op{})
	}
}

func (p *Persister) enqueue(o op) {
	o.sess.Route = nil
	p.mu.Lock()
	p.next = &o
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Persister) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.wake:
			p.write()
		case <-p.done:
			p.write()
			return
		}
	}
}

func (p *Persister) write() {
	p.mu.Lock()
	o := p.next
	p.next = nil
	p.mu.Unlock()
	if o == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	var err error
	if o.save {
		err = p.cache.Save(ctx, o.sess)
	} else {
		err = p.cache.Delete(ctx, p.store.IdentityID(), p.store.Role())
	}
	if err != nil {
		p.log.Warn("session cache write failed", zap.Bool("save", o.save), zap.Error(err))
	}
}
