// Package gate admits at most one capture run at a time.
package gate

import (
	"errors"
	"sync"
)

// ErrBusy means another run holds the gate. Callers should give up, not
// wait.
var ErrBusy = errors.New("capture already in progress")

// Gate is a non-blocking single-flight lock. The zero value is ready to
// use.
type Gate struct {
	mu   sync.Mutex
	busy bool

	// notifyMu orders OnChange calls. Each call publishes the state read
	// under mu at call time, so the last call always matches Busy.
	notifyMu sync.Mutex

	// OnChange, if set, is called after every transition. It runs outside
	// mu and may be called twice with the same value.
	OnChange func(busy bool)
}

// TryEnter acquires the gate or fails immediately with ErrBusy. The
// returned release func is safe to call more than once; only the first
// call frees the gate.
func (g *Gate) TryEnter() (release func(), err error) {
	g.mu.Lock()
	if g.busy {
		g.mu.Unlock()
		return nil, ErrBusy
	}
	g.busy = true
	g.mu.Unlock()
	g.notify()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.busy = false
			g.mu.Unlock()
			g.notify()
		})
	}, nil
}

func (g *Gate) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

func (g *Gate) notify() {
	if g.OnChange == nil {
		return
	}
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()
	g.OnChange(g.Busy())
}
