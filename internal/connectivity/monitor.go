package connectivity

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "connectivity").Logger()

// State is the terminal's view of backend reachability.
type State string

const (
	Online  State = "online"
	Offline State = "offline"
)

// Prober abstracts the reachability check; the remote client satisfies it.
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor probes the backend and emits debounced online/offline transitions:
// threshold consecutive successes flip to online, a single failure flips to
// offline. Subscribers only ever see transitions, never continuous status.
type Monitor struct {
	prober    Prober
	interval  time.Duration
	threshold int

	mu        sync.Mutex
	state     State
	successes int
	subs      []chan State
}

func NewMonitor(p Prober, interval time.Duration, threshold int) *Monitor {
	if threshold < 1 {
		threshold = 1
	}
	return &Monitor{
		prober:    p,
		interval:  interval,
		threshold: threshold,
		state:     Offline,
	}
}

// Subscribe returns a buffered transition channel; a slow consumer drops
// transitions instead of stalling the probe loop.
func (m *Monitor) Subscribe() <-chan State {
	ch := make(chan State, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Online() bool { return m.State() == Online }

// Run probes until ctx is done. The first probe fires immediately so a booted
// terminal does not wait a full interval to discover it is online.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.interval)
	err := m.prober.Ping(pctx)
	cancel()
	m.Observe(err == nil)
}

// Observe feeds one reachability observation through the debounce rule.
// Platform reachability callbacks and tests call it directly instead of
// waiting for the ticker.
func (m *Monitor) Observe(up bool) {
	m.mu.Lock()
	changed := false
	if up {
		m.successes++
		if m.state == Offline && m.successes >= m.threshold {
			m.state = Online
			changed = true
		}
	} else {
		m.successes = 0
		if m.state == Online {
			m.state = Offline
			changed = true
		}
	}
	next := m.state
	subs := append([]chan State(nil), m.subs...)
	m.mu.Unlock()

	if !changed {
		return
	}
	logger.Info().Str("state", string(next)).Msg("connectivity transition")
	for _, ch := range subs {
		select {
		case ch <- next:
		default:
		}
	}
}
