// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/dredger/internal/domain"
)

// Match is the outcome of a successful fallback search: the accepted metadata
// plus which provider won and at what priority.
type Match struct {
	Metadata *Metadata
	Provider string
	Priority int
}

type registration struct {
	provider Provider
	priority int
	enabled  bool
	order    int
}

// Registry holds the configured providers and tries them in priority order
// until one yields an accepted match. A provider failure never aborts the
// chain; it is logged and the next provider is tried.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*registration
	nextOrder int
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registration),
	}
}

// Register adds a provider under its name. Registering an existing name
// overwrites its priority and enabled flag but keeps its insertion order.
func (r *Registry) Register(p Provider, priority int, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[p.Name()]; ok {
		existing.provider = p
		existing.priority = priority
		existing.enabled = enabled
		return
	}

	r.entries[p.Name()] = &registration{
		provider: p,
		priority: priority,
		enabled:  enabled,
		order:    r.nextOrder,
	}
	r.nextOrder++
}

// ProvidersFor returns the enabled providers supporting contentType, sorted
// ascending by priority with ties broken by insertion order.
func (r *Registry) ProvidersFor(contentType domain.ContentType) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matching []*registration
	for _, entry := range r.entries {
		if !entry.enabled {
			continue
		}
		if !slices.Contains(entry.provider.SupportedTypes(), contentType) {
			continue
		}
		matching = append(matching, entry)
	}

	slices.SortFunc(matching, func(a, b *registration) int {
		if a.priority != b.priority {
			return a.priority - b.priority
		}
		return a.order - b.order
	})

	providers := make([]Provider, len(matching))
	for i, entry := range matching {
		providers[i] = entry.provider
	}
	return providers
}

// FindWithFallback tries each eligible provider in order and returns the
// first accepted match. A nil result with a nil error means no provider could
// resolve the title; callers must make progress rather than retry forever.
// The only error returned is context cancellation.
func (r *Registry) FindWithFallback(ctx context.Context, title string, year *int, contentType domain.ContentType) (*Match, error) {
	r.mu.RLock()
	priorities := make(map[string]int, len(r.entries))
	for name, entry := range r.entries {
		priorities[name] = entry.priority
	}
	r.mu.RUnlock()

	for _, provider := range r.ProvidersFor(contentType) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		meta, err := provider.Find(ctx, title, year, contentType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().
				Err(err).
				Str("provider", provider.Name()).
				Str("title", title).
				Msg("Provider lookup failed, trying next")
			continue
		}
		if meta == nil {
			continue
		}

		return &Match{
			Metadata: meta,
			Provider: provider.Name(),
			Priority: priorities[provider.Name()],
		}, nil
	}

	return nil, nil
}
