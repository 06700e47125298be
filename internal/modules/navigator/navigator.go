package navigator

import (
	"sync"

	"go.uber.org/zap"

	"orbix/internal/modules/ride"
	"orbix/internal/types"
)

// Navigate shows screen. It is only ever called by a Navigator, under its lock, so it must
// not call back into the Navigator.
type Navigate func(screen ScreenID, s ride.Session)

// Banner is the "ongoing ride" strip shown while the user browses away from the ride.
type Banner struct {
	RideID types.ID   `json:"rideId"`
	Phase  ride.Phase `json:"phase"`
	Screen ScreenID   `json:"screen"`
}

// Navigator derives the visible screen from store changes.
type Navigator struct {
	store    *ride.Store
	navigate Navigate
	log      *zap.Logger

	mu       sync.Mutex
	current  ScreenID
	detached bool
	unsub    func()
}

func New(store *ride.Store, navigate Navigate, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if navigate == nil {
		navigate = func(ScreenID, ride.Session) {}
	}
	return &Navigator{store: store, navigate: navigate, log: logger.With(zap.String("component", "navigator"))}
}

// Start subscribes once and shows the screen for the current phase.
func (n *Navigator) Start() {
	n.mu.Lock()
	if n.unsub != nil {
		n.mu.Unlock()
		return
	}
	n.unsub = n.store.Subscribe(n.onChange)
	n.mu.Unlock()

	s := n.store.Current()
	n.show(ScreenFor(s.Phase, n.store.Role()), s, false)
}

func (n *Navigator) Stop() {
	n.mu.Lock()
	unsub := n.unsub
	n.unsub = nil
	n.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Current is the screen last navigated to, or empty while detached.
func (n *Navigator) Current() ScreenID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *Navigator) onChange(c ride.Change) {
	switch c.Kind {
	case ride.ChangePhase, ride.ChangeRestore, ride.ChangeReset:
	default:
		return
	}
	s := c.Session
	s.Phase = c.To
	n.show(ScreenFor(c.To, n.store.Role()), s, c.To.Terminal() || c.To == ride.PhaseIdle)
}

// show navigates when the target differs from the current screen. While detached only a
// terminal or idle outcome pulls the user back.
func (n *Navigator) show(target ScreenID, s ride.Session, reattach bool) {
	n.mu.Lock()
	if n.detached {
		if !reattach {
			n.mu.Unlock()
			return
		}
		n.detached = false
	}
	if target == n.current {
		n.mu.Unlock()
		return
	}
	from := n.current
	n.current = target
	n.navigate(target, s)
	n.mu.Unlock()

	n.log.Debug("navigate",
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("phase", string(s.Phase)))
}

// Detach records that the user left the ride screen. The session is untouched.
func (n *Navigator) Detach() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.detached = true
	n.current = ""
}

// Banner returns the ongoing ride banner while detached from a non-terminal ride.
func (n *Navigator) Banner() (Banner, bool) {
	n.mu.Lock()
	detached := n.detached
	n.mu.Unlock()
	if !detached {
		return Banner{}, false
	}
	s := n.store.Current()
	if !s.Phase.Active() {
		return Banner{}, false
	}
	return Banner{RideID: s.RideID, Phase: s.Phase, Screen: ScreenFor(s.Phase, s.Role)}, true
}

// Resume navigates back to the screen for the current phase.
func (n *Navigator) Resume() {
	n.mu.Lock()
	n.detached = false
	n.mu.Unlock()
	s := n.store.Current()
	n.show(ScreenFor(s.Phase, n.store.Role()), s, false)
}

// Dismiss leaves a terminal screen (rating, summary) for the screen of the live phase.
func (n *Navigator) Dismiss() {
	n.Resume()
}
