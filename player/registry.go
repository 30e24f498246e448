package player

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks the live movie instances of a process. Instances never
// share state; the registry only indexes them by id.
type Registry struct {
	mu      sync.RWMutex
	players map[uuid.UUID]*Player
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{players: make(map[uuid.UUID]*Player)}
}

// Load creates an instance from a container and registers it.
func (r *Registry) Load(data []byte, cfg Config) (*Player, error) {
	p, err := Load(data, cfg)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.players[p.ID] = p
	r.mu.Unlock()
	return p, nil
}

// Get retrieves an instance by id.
func (r *Registry) Get(id uuid.UUID) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.players[id]
	return p, ok
}

// List returns the registered instances ordered by id.
func (r *Registry) List() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Player) int { return slices.Compare(a.ID[:], b.ID[:]) })
	return out
}

// Destroy destroys an instance and forgets it.
func (r *Registry) Destroy(id uuid.UUID) {
	r.mu.Lock()
	p, ok := r.players[id]
	delete(r.players, id)
	r.mu.Unlock()

	if ok {
		p.Destroy()
	}
}
