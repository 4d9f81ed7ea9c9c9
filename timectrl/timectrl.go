package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source shared by the tracker, presence workflow and
// simulated position sources. Production code uses WallClock; tests and the
// simulator drive a TimeController instead.
type Clock interface {
	Now() time.Time
}

// WallClock reads the system clock.
type WallClock struct{}

// Now returns time.Now().
func (WallClock) Now() time.Time { return time.Now() }

// Mode describes how the TimeController advances time.
type Mode int

const (
	// RealTime advances one Tick per Tick of wall-clock time.
	RealTime Mode = iota
	// Accelerated advances one Tick per loop iteration, as fast as listeners allow.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// ParseMode maps "realtime" and "accelerated" to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "realtime", "real-time":
		return RealTime, true
	case "accelerated":
		return Accelerated, true
	default:
		return RealTime, false
	}
}

// TimeController drives simulated time and notifies registered listeners on
// every tick. It implements Clock.
type TimeController struct {
	mu          sync.RWMutex
	start       time.Time
	tick        time.Duration
	mode        Mode
	currentTime time.Time

	listenerMu sync.Mutex
	listeners  map[int]func(time.Time)
	nextID     int
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	if tick <= 0 {
		tick = time.Second
	}
	return &TimeController{
		start:       start,
		tick:        tick,
		mode:        mode,
		currentTime: start,
		listeners:   make(map[int]func(time.Time)),
	}
}

// Now returns the current simulated time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Tick returns the step the controller advances by.
func (tc *TimeController) Tick() time.Duration { return tc.tick }

// SetTime moves the controller to t without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// Advance steps the clock by d and notifies listeners once with the new time.
func (tc *TimeController) Advance(d time.Duration) time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(d)
	now := tc.currentTime
	tc.mu.Unlock()

	tc.fire(now)
	return now
}

// AddListener registers fn to be called on every tick and returns a function
// that removes it.
func (tc *TimeController) AddListener(fn func(time.Time)) (remove func()) {
	tc.listenerMu.Lock()
	defer tc.listenerMu.Unlock()

	id := tc.nextID
	tc.nextID++
	tc.listeners[id] = fn

	return func() {
		tc.listenerMu.Lock()
		defer tc.listenerMu.Unlock()
		delete(tc.listeners, id)
	}
}

func (tc *TimeController) fire(now time.Time) {
	tc.listenerMu.Lock()
	fns := make([]func(time.Time), 0, len(tc.listeners))
	for id := 0; id < tc.nextID; id++ {
		if fn, ok := tc.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	tc.listenerMu.Unlock()

	for _, fn := range fns {
		fn(now)
	}
}

// Start runs the controller in a separate goroutine until ctx is cancelled or
// duration of simulated time has elapsed (0 runs forever). The returned
// channel is closed when the loop exits.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.SetTime(tc.start)
		elapsed := time.Duration(0)

		var tickC <-chan time.Time
		if tc.mode == RealTime {
			ticker := time.NewTicker(tc.tick)
			defer ticker.Stop()
			tickC = ticker.C
		}

		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			if tickC != nil {
				select {
				case <-ctx.Done():
					return
				case <-tickC:
				}
			} else if ctx.Err() != nil {
				return
			}

			tc.Advance(tc.tick)
			elapsed += tc.tick
		}
	}()
	return done
}
