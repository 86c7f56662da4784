package call

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ringTimers tracks in-process ringing timeout timers. These give prompt
// expiry on the instance that started the call; the persisted rings_until
// deadline plus the sweep job cover everything the timers miss.
type ringTimers struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

func newRingTimers() *ringTimers {
	return &ringTimers{
		timers: make(map[uuid.UUID]*time.Timer),
	}
}

// Schedule arms a timer for the call. Replaces any existing timer.
func (t *ringTimers) Schedule(callID uuid.UUID, d time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timers[callID]; ok {
		existing.Stop()
	}

	t.timers[callID] = time.AfterFunc(d, func() {
		t.remove(callID)
		fire()
	})
}

// Cancel stops and removes the call's timer. No-op when absent.
func (t *ringTimers) Cancel(callID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[callID]; ok {
		timer.Stop()
		delete(t.timers, callID)
	}
}

func (t *ringTimers) remove(callID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.timers, callID)
}

// activeCalls tracks calls started by this instance. The active-call
// gauge moves only for calls whose increment ran in this process;
// sweeper-reclaimed calls from before a restart never touch it.
type activeCalls struct {
	mu  sync.Mutex
	ids map[uuid.UUID]struct{}
}

func newActiveCalls() *activeCalls {
	return &activeCalls{
		ids: make(map[uuid.UUID]struct{}),
	}
}

// Add records the call as locally started.
func (a *activeCalls) Add(callID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids[callID] = struct{}{}
}

// Remove forgets the call and reports whether it was tracked here.
func (a *activeCalls) Remove(callID uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.ids[callID]; !ok {
		return false
	}
	delete(a.ids, callID)
	return true
}
