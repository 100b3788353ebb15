package session

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	iface "LaneDetServer/interface"
	"LaneDetServer/logger"
	"LaneDetServer/monitor"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("session: not found")
	ErrLimit    = errors.New("session: limit reached")
)

// Factory creates an unloaded backend for a new session id.
type Factory func(id string) iface.Backend

type entry struct {
	backend     iface.Backend
	description string
	created     time.Time
}

type Info struct {
	ID          string             `json:"id"`
	Description string             `json:"description"`
	Created     time.Time          `json:"created"`
	Config      iface.EngineConfig `json:"config"`
	Stats       iface.SessionStats `json:"stats"`
}

// Registry owns every open tracking session. Each session is one backend
// and one lane tracker; sessions never share state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]entry
	factory  Factory
	limit    int
	log      *zap.Logger
}

func NewRegistry(factory Factory, limit int) *Registry {
	return &Registry{
		sessions: make(map[string]entry),
		factory:  factory,
		limit:    limit,
		log:      logger.Named("session"),
	}
}

// Open creates a session, loads cfg into its backend and returns its id.
func (r *Registry) Open(cfg iface.EngineConfig, description string) (string, error) {
	id := uuid.NewString()
	b := r.factory(id)
	if err := b.Load(cfg); err != nil {
		b.Destroy()
		return "", fmt.Errorf("load session: %w", err)
	}

	r.mu.Lock()
	if r.limit > 0 && len(r.sessions) >= r.limit {
		r.mu.Unlock()
		b.Destroy()
		return "", ErrLimit
	}
	r.sessions[id] = entry{backend: b, description: description, created: time.Now()}
	n := len(r.sessions)
	r.mu.Unlock()

	monitor.Sessions.Set(float64(n))
	r.log.Info("session opened", zap.String("id", id), zap.String("description", description))
	return id, nil
}

func (r *Registry) Get(id string) (iface.Backend, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.backend, nil
}

func (r *Registry) Info(id string) (Info, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return info(id, e), nil
}

// List returns all sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	all := maps.Clone(r.sessions)
	r.mu.RUnlock()

	out := make([]Info, 0, len(all))
	for id, e := range all {
		out = append(out, info(id, e))
	}
	slices.SortFunc(out, func(a, b Info) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (r *Registry) Close(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("close of unknown session", zap.String("id", id))
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	e.backend.Destroy()
	monitor.Sessions.Set(float64(n))
	r.log.Info("session closed", zap.String("id", id))
	return nil
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]entry)
	r.mu.Unlock()

	for id, e := range all {
		e.backend.Destroy()
		r.log.Info("session closed", zap.String("id", id))
	}
	monitor.Sessions.Set(0)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func info(id string, e entry) Info {
	return Info{
		ID:          id,
		Description: e.description,
		Created:     e.created,
		Config:      e.backend.CheckConfig(),
		Stats:       e.backend.Stats(),
	}
}
