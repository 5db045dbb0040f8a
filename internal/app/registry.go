package app

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xamepage/callkit/internal/core"
)

type resourceEntry struct {
	kind    string
	release func() error
}

// Registry tracks every stream and connection ever created, not just the
// active session's. Transient streams (camera preview, facing switch) are
// registered here too, so ReleaseAll can sweep them on teardown no matter
// what state the controller thinks it is in.
type Registry struct {
	mu        sync.Mutex
	resources map[string]*resourceEntry
}

func NewRegistry() *Registry {
	return &Registry{resources: make(map[string]*resourceEntry)}
}

// TrackStream registers a stream and returns its handle.
func (r *Registry) TrackStream(s core.MediaStream) string {
	return r.track("stream", s.Stop)
}

// TrackConnection registers a peer connection and returns its handle.
func (r *Registry) TrackConnection(c core.MediaConnection) string {
	return r.track("connection", c.Close)
}

func (r *Registry) track(kind string, release func() error) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.resources[id] = &resourceEntry{kind: kind, release: release}
	r.mu.Unlock()
	log.Debug().Str("module", "app.registry").Str("id", id).Str("kind", kind).Msg("tracked resource")
	return id
}

// Forget drops an entry without releasing it. Used after a clean session
// teardown already released the resource.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	delete(r.resources, id)
	r.mu.Unlock()
}

// Release releases one resource and forgets it. Errors are logged.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	e, ok := r.resources[id]
	delete(r.resources, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	sweep(id, e)
}

// ReleaseAll is the teardown safety net: a continue-on-error sweep over
// everything still tracked. A failing or panicking release never stops
// the remaining releases.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	entries := r.resources
	r.resources = make(map[string]*resourceEntry)
	r.mu.Unlock()

	for id, e := range entries {
		sweep(id, e)
	}
	if len(entries) > 0 {
		log.Info().Str("module", "app.registry").Int("count", len(entries)).Msg("released all resources")
	}
}

// Len reports how many resources are still tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resources)
}

func sweep(id string, e *resourceEntry) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("module", "app.registry").Str("id", id).Str("kind", e.kind).Any("panic", rec).Msg("release panicked")
		}
	}()
	if err := e.release(); err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("id", id).Str("kind", e.kind).Msg("release error")
	}
}
