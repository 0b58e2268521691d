// Package connectivity tracks whether the remote service can currently be
// contacted and notifies subscribers of transitions.
package connectivity

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/virtuallab/labsync/internal/logging"
)

// Event describes one reachability transition.
type Event struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// Monitor holds the last-known reachability and fans transitions out to
// subscribers. Callbacks run synchronously on the goroutine that reported
// the change, in subscription order, and must not block.
type Monitor struct {
	online *atomic.Bool

	// emitMu serializes transitions so subscribers see them in order.
	emitMu sync.Mutex

	mu     sync.Mutex
	subs   map[int]func(Event)
	nextID int

	now    func() time.Time
	logger *logging.Logger
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(initial bool, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Get()
	}
	return &Monitor{
		online: atomic.NewBool(initial),
		subs:   make(map[int]func(Event)),
		now:    time.Now,
		logger: logger.With(map[string]interface{}{"component": "connectivity"}),
	}
}

// Current returns the last-known reachability.
func (m *Monitor) Current() bool {
	return m.online.Load()
}

// Set records the observed reachability. Subscribers are notified only when
// the state actually changes; changed reports whether it did.
func (m *Monitor) Set(online bool) (changed bool) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	if m.online.Swap(online) == online {
		return false
	}

	m.logger.Info("Connectivity changed", map[string]interface{}{"online": online})

	ev := Event{Online: online, At: m.now()}
	for _, fn := range m.snapshot() {
		fn(ev)
	}
	return true
}

func (m *Monitor) snapshot() []func(Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fns := make([]func(Event), len(ids))
	for i, id := range ids {
		fns[i] = m.subs[id]
	}
	return fns
}

// Subscribe registers fn for transition events. The returned function
// removes the subscription and is safe to call more than once.
func (m *Monitor) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}
