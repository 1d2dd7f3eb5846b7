package clock

import (
	"sync"
	"time"
)

// Timers is a registry of named one-shot timers. Scheduling a name that is
// already armed replaces the previous timer. After StopAll the registry
// refuses new timers, so late callbacks cannot re-arm into torn-down state.
type Timers struct {
	mu     sync.Mutex
	clock  Clock
	armed  map[string]*entry
	closed bool
	gen    uint64
}

type entry struct {
	timer Timer
	gen   uint64
}

// NewTimers creates a registry on the given clock.
func NewTimers(c Clock) *Timers {
	return &Timers{clock: c, armed: make(map[string]*entry)}
}

// Schedule arms f to run after d under name. It returns false once the
// registry has been stopped.
func (t *Timers) Schedule(name string, d time.Duration, f func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if prev, ok := t.armed[name]; ok {
		prev.timer.Stop()
	}
	t.gen++
	gen := t.gen
	e := &entry{gen: gen}
	e.timer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		cur, ok := t.armed[name]
		if !ok || cur.gen != gen || t.closed {
			t.mu.Unlock()
			return
		}
		delete(t.armed, name)
		t.mu.Unlock()
		f()
	})
	t.armed[name] = e
	return true
}

// Cancel stops the timer registered under name.
func (t *Timers) Cancel(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.armed[name]
	if !ok {
		return false
	}
	delete(t.armed, name)
	return e.timer.Stop()
}

// Active reports whether a timer is armed under name.
func (t *Timers) Active(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.armed[name]
	return ok
}

// Len returns the number of armed timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.armed)
}

// StopAll cancels every armed timer and closes the registry.
func (t *Timers) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, e := range t.armed {
		e.timer.Stop()
		delete(t.armed, name)
	}
	t.closed = true
}

// Reopen allows scheduling again after StopAll.
func (t *Timers) Reopen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = false
}

// Clock returns the underlying clock.
func (t *Timers) Clock() Clock { return t.clock }
