package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/pos/internal/cart"
	"github.com/hanko-field/pos/internal/domain"
)

var (
	errLookupRequired   = errors.New("session registry: lookup is required")
	errCheckoutRequired = errors.New("session registry: checkout is required")
)

// RegistryDeps wires the collaborators shared by every session.
type RegistryDeps struct {
	Lookup         ProductLookup
	Checkout       Checkouter
	DefaultStation domain.Station
	Clock          func() time.Time
	IDGenerator    func() string
}

// Registry tracks open sessions by id.
type Registry struct {
	lookup   ProductLookup
	checkout Checkouter
	defaults domain.Station
	now      func() time.Time
	newID    func() string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs a Registry enforcing dependency validation.
func NewRegistry(deps RegistryDeps) (*Registry, error) {
	if deps.Lookup == nil {
		return nil, errLookupRequired
	}
	if deps.Checkout == nil {
		return nil, errCheckoutRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &Registry{
		lookup:   deps.Lookup,
		checkout: deps.Checkout,
		defaults: deps.DefaultStation,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		sessions: make(map[string]*Session),
	}, nil
}

// Open starts a new session. Blank station fields fall back to the configured defaults.
func (r *Registry) Open(station domain.Station) *Session {
	station = domain.Station{
		EmployeeCode: firstNonEmpty(station.EmployeeCode, r.defaults.EmployeeCode),
		StoreCode:    firstNonEmpty(station.StoreCode, r.defaults.StoreCode),
		RegisterNo:   firstNonEmpty(station.RegisterNo, r.defaults.RegisterNo),
	}
	s := &Session{
		id:        r.newID(),
		station:   station,
		lookup:    r.lookup,
		checkout:  r.checkout,
		newKey:    r.newID,
		now:       r.now,
		createdAt: r.now(),
		cart:      cart.New(),
	}
	s.lastActive = s.createdAt

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
	return s
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[strings.TrimSpace(id)]
	return s, ok
}

// Close discards a session and its cart.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id = strings.TrimSpace(id)
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// CloseIdle discards sessions unused for longer than maxIdle and returns their ids. Sessions with
// a pending checkout are kept.
func (r *Registry) CloseIdle(maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()
	var closed []string
	for id, s := range r.sessions {
		last, idle := s.idleSince()
		if idle && last.Before(cutoff) {
			delete(r.sessions, id)
			closed = append(closed, id)
		}
	}
	return closed
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
