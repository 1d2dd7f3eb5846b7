package focus

import (
	"sync"
	"time"

	domainconfig "graphsync/domain/config"
	"graphsync/pkg/clock"
)

const timerAmbient = "ambient-idle"

// Activity tracks when the caller last interacted. Its ambient flag only
// drives the cosmetic idle animation and never feeds into arbitration.
type Activity struct {
	clock  clock.Clock
	config *domainconfig.Holder
	timers *clock.Timers

	mu      sync.Mutex
	last    time.Time
	ambient bool
	paused  bool
}

// NewActivity creates a tracker that counts the caller as active now.
func NewActivity(config *domainconfig.Holder, clk clock.Clock) *Activity {
	if config == nil {
		config = domainconfig.NewHolder(nil)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Activity{
		clock:  clk,
		config: config,
		timers: clock.NewTimers(clk),
		last:   clk.Now(),
	}
}

// Start arms the idle check.
func (a *Activity) Start() {
	a.timers.Reopen()
	a.arm()
}

// Stop cancels the idle check.
func (a *Activity) Stop() {
	a.timers.StopAll()
}

func (a *Activity) arm() {
	a.timers.Schedule(timerAmbient, a.config.Get().IdleCheckInterval, a.check)
}

func (a *Activity) check() {
	a.arm()
	idle := a.IsIdle()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ambient = idle && !a.paused
}

// Touch records caller activity and ends the ambient state.
func (a *Activity) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = a.clock.Now()
	a.ambient = false
}

// IsIdle reports whether the caller has been inactive beyond the threshold.
func (a *Activity) IsIdle() bool {
	a.mu.Lock()
	last := a.last
	a.mu.Unlock()
	return a.clock.Now().Sub(last) >= a.config.Get().IdleThreshold
}

// Ambient reports whether the idle animation should run.
func (a *Activity) Ambient() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ambient
}

// Pause suppresses the ambient flag, used while the timeline is open.
func (a *Activity) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = true
	a.ambient = false
}

// Resume lifts Pause.
func (a *Activity) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = false
}
