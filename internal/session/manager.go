// Package session mounts one store per browser session and fans pushed
// notifications out to all of them.
package session

import (
	"context"
	"sync"
	"time"

	"stockboard/internal/domain"
	"stockboard/internal/eventbus"
	applog "stockboard/internal/log"
	"stockboard/internal/metrics"
	"stockboard/internal/store"
)

type entry struct {
	store    *store.Store
	lastSeen time.Time
}

type Manager struct {
	api     store.API
	idle    time.Duration
	options []store.Option
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	live     string
	opened   bool
}

func NewManager(api store.API, idle time.Duration, opts ...store.Option) *Manager {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Manager{
		api:      api,
		idle:     idle,
		options:  opts,
		now:      time.Now,
		sessions: map[string]*entry{},
		live:     "disconnected",
	}
}

// Get returns the store for sid, mounting and loading a new one on first use.
func (m *Manager) Get(ctx context.Context, sid string) *store.Store {
	s, _ := m.Mount(ctx, sid)
	return s
}

// Mount is Get that also reports whether the store was mounted (and loaded)
// by this call.
func (m *Manager) Mount(ctx context.Context, sid string) (*store.Store, bool) {
	m.mu.Lock()
	if e, ok := m.sessions[sid]; ok {
		e.lastSeen = m.now()
		m.mu.Unlock()
		return e.store, false
	}
	s := store.New(m.api, m.options...)
	s.SetLiveStatus(m.live)
	m.sessions[sid] = &entry{store: s, lastSeen: m.now()}
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive(n)
	applog.Logger.Debug().Str("sid", sid).Msg("session mounted")
	if err := s.Load(ctx); err != nil {
		applog.WithContext(ctx).Warn().Err(err).Msg("initial load failed")
	}
	return s, true
}

func (m *Manager) stores() []*store.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Store, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.store)
	}
	return out
}

func (m *Manager) Broadcast(n domain.Notification) {
	for _, s := range m.stores() {
		s.Deliver(n)
	}
}

// Listen forwards bus events to every store until the bus closes events.
func (m *Manager) Listen(events <-chan eventbus.Event) {
	for ev := range events {
		m.Broadcast(ev.Notification)
	}
}

// LiveStateChanged mirrors the channel state into every store. Reopening
// after the first open resyncs everything, since nothing is replayed.
func (m *Manager) LiveStateChanged(state string) {
	m.mu.Lock()
	m.live = state
	reopened := false
	if state == "open" {
		reopened = m.opened
		m.opened = true
	}
	m.mu.Unlock()

	for _, s := range m.stores() {
		s.SetLiveStatus(state)
		if reopened {
			s.Resync()
		}
	}
	if reopened {
		applog.Logger.Info().Msg("live channel reopened, resyncing sessions")
	}
}

// Sweep unmounts sessions idle for longer than the idle timeout.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.idle)
	var stale []*store.Store
	m.mu.Lock()
	for sid, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e.store)
			delete(m.sessions, sid)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		metrics.SessionsActive(n)
		applog.Logger.Info().Int("closed", len(stale)).Int("active", n).Msg("idle sessions swept")
	}
	return len(stale)
}

// RunSweeper sweeps every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = map[string]*entry{}
	m.mu.Unlock()
	for _, e := range all {
		e.store.Close()
	}
	metrics.SessionsActive(0)
}
