/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package registry implements the broadcast registry (C5): a concurrent
// mapping from broadcast name to its live forwarding tracks.
package registry

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/relaycore/internal/events"
	"github.com/friendsincode/relaycore/internal/telemetry"
)

// Entry is a named pair of forwarding tracks sourced from one
// broadcaster.
type Entry struct {
	Name       string
	VideoTrack *webrtc.TrackLocalStaticRTP
	AudioTrack *webrtc.TrackLocalStaticRTP
}

// Registry is a concurrent name -> Entry map. All operations acquire a
// single exclusive lock guarding the map; the lock is held only for the
// map operation itself, never across I/O.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry

	bus    *events.Bus
	logger zerolog.Logger
	claim  Claimer
}

// Claimer optionally coordinates broadcast-name ownership across
// multiple RelayCore instances. A nil Claimer means single-instance
// operation; Register still rejects a name already in the local map.
type Claimer interface {
	// TryClaim attempts to claim name for this instance. It returns true
	// when the claim is held (freshly acquired or renewed).
	TryClaim(name string) bool
	// Release gives up a previously held claim.
	Release(name string)
}

// New creates an empty registry. claim may be nil.
func New(bus *events.Bus, claim Claimer, logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		bus:     bus,
		logger:  logger.With().Str("component", "registry").Logger(),
		claim:   claim,
	}
}

// Register inserts the entry for name, rejecting a second broadcast
// under an already-registered name rather than overwriting it (source
// behavior is ambiguous here; silently overwriting a live broadcaster's
// tracks out from under its viewers is the unsafe choice). When a
// Claimer is configured and declines the claim (another instance
// already owns the name), Register also returns false.
func (r *Registry) Register(name string, video, audio *webrtc.TrackLocalStaticRTP) bool {
	if r.claim != nil && !r.claim.TryClaim(name) {
		r.logger.Warn().Str("broadcast", name).Msg("distributed claim denied, not registering locally")
		return false
	}

	r.mu.Lock()
	if _, exists := r.entries[name]; exists {
		r.mu.Unlock()
		if r.claim != nil {
			r.claim.Release(name)
		}
		r.logger.Warn().Str("broadcast", name).Msg("broadcast name already registered, rejecting")
		return false
	}
	r.entries[name] = Entry{Name: name, VideoTrack: video, AudioTrack: audio}
	count := len(r.entries)
	r.mu.Unlock()

	telemetry.BroadcastsActive.Set(float64(count))
	if r.bus != nil {
		r.bus.Publish(events.BroadcastRegistered, events.Payload{"broadcast": name})
	}
	r.logger.Info().Str("broadcast", name).Msg("broadcast registered")
	return true
}

// Unregister removes name; a no-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.entries[name]
	delete(r.entries, name)
	count := len(r.entries)
	r.mu.Unlock()

	if !existed {
		return
	}

	if r.claim != nil {
		r.claim.Release(name)
	}

	telemetry.BroadcastsActive.Set(float64(count))
	if r.bus != nil {
		r.bus.Publish(events.BroadcastUnregistered, events.Payload{"broadcast": name})
	}
	r.logger.Info().Str("broadcast", name).Msg("broadcast unregistered")
}

// Lookup returns the entry for name and whether it was present. The
// returned tracks are shared references; the registry may be mutated
// after lookup without affecting callers already holding them.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[name]
	return entry, ok
}
