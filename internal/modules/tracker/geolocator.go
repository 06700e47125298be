// README: Device position source abstraction and a simulated source that drives along a path.
package tracker

import (
	"errors"
	"sync"
	"time"

	"orbix/internal/types"
)

type WatchHandle int

// Geolocator watches the device position. Callbacks may arrive on any goroutine.
type Geolocator interface {
	Watch(onPosition func(types.LatLng), onError func(error)) (WatchHandle, error)
	Clear(h WatchHandle)
}

var ErrNoPath = errors.New("simulated geolocator: no path")

type watch struct {
	onPosition func(types.LatLng)
	onError    func(error)
	stop       chan struct{}
}

// SimulatedGeolocator walks a straight-line path at a fixed speed, reporting one position per
// interval. It stands in for device GPS in the headless client and tests.
type SimulatedGeolocator struct {
	interval time.Duration
	speedKmh float64

	mu      sync.Mutex
	path    []types.LatLng
	leg     int
	pos     types.LatLng
	next    WatchHandle
	watches map[WatchHandle]*watch
}

func NewSimulatedGeolocator(interval time.Duration, speedKmh float64, path ...types.LatLng) *SimulatedGeolocator {
	if interval <= 0 {
		interval = time.Second
	}
	g := &SimulatedGeolocator{interval: interval, speedKmh: speedKmh, watches: make(map[WatchHandle]*watch)}
	g.SetPath(path...)
	return g
}

// SetPath replaces the route, starting from its first point.
func (g *SimulatedGeolocator) SetPath(path ...types.LatLng) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.path = append([]types.LatLng(nil), path...)
	g.leg = 0
	if len(path) > 0 {
		g.pos = path[0]
	}
}

// DriveTo continues from the current position toward dest.
func (g *SimulatedGeolocator) DriveTo(dest types.LatLng) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.path = []types.LatLng{g.pos, dest}
	g.leg = 0
}

func (g *SimulatedGeolocator) Position() types.LatLng {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pos
}

func (g *SimulatedGeolocator) Watch(onPosition func(types.LatLng), onError func(error)) (WatchHandle, error) {
	g.mu.Lock()
	if len(g.path) == 0 {
		g.mu.Unlock()
		return 0, ErrNoPath
	}
	g.next++
	h := g.next
	w := &watch{onPosition: onPosition, onError: onError, stop: make(chan struct{})}
	g.watches[h] = w
	first := g.pos
	g.mu.Unlock()

	onPosition(first)
	go g.loop(w)
	return h, nil
}

func (g *SimulatedGeolocator) Clear(h WatchHandle) {
	g.mu.Lock()
	w, ok := g.watches[h]
	delete(g.watches, h)
	g.mu.Unlock()
	if ok {
		close(w.stop)
	}
}

// Watching reports the number of live watches.
func (g *SimulatedGeolocator) Watching() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.watches)
}

// Fail delivers err to every watcher, as a lost GPS fix would.
func (g *SimulatedGeolocator) Fail(err error) {
	g.mu.Lock()
	ws := make([]*watch, 0, len(g.watches))
	for _, w := range g.watches {
		ws = append(ws, w)
	}
	g.mu.Unlock()
	for _, w := range ws {
		if w.onError != nil {
			w.onError(err)
		}
	}
}

func (g *SimulatedGeolocator) loop(w *watch) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.onPosition(g.Step())
		}
	}
}

// Step advances one interval along the path and returns the new position.
func (g *SimulatedGeolocator) Step() types.LatLng {
	g.mu.Lock()
	defer g.mu.Unlock()
	remaining := g.speedKmh * g.interval.Hours()
	for remaining > 0 && g.leg < len(g.path)-1 {
		target := g.path[g.leg+1]
		d := HaversineKm(g.pos, target)
		if d <= remaining {
			g.pos = target
			g.leg++
			remaining -= d
			continue
		}
		g.pos = Interpolate(g.pos, target, remaining/d)
		remaining = 0
	}
	return g.pos
}
