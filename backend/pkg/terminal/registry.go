package terminal

import (
	"sort"
	"sync"
)

// Registry keeps one Session per terminal id, created on first use.
type Registry struct {
	auth  Authorizer
	cards CardLoader
	cfg   Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(auth Authorizer, cards CardLoader, cfg Config) *Registry {
	if cfg.Merchants == nil {
		cfg.Merchants = DefaultCatalog()
	}
	return &Registry{auth: auth, cards: cards, cfg: cfg, sessions: make(map[string]*Session)}
}

func (r *Registry) Session(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = NewSession(id, r.auth, r.cards, r.cfg)
		r.sessions[id] = s
	}
	return s
}

func (r *Registry) Merchants() *Catalog { return r.cfg.Merchants }

// IDs lists known terminals in order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
