// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/dredger/internal/domain"
)

type stubProvider struct {
	name  string
	types []domain.ContentType
	meta  *Metadata
	err   error
	calls int
}

func (p *stubProvider) Name() string                         { return p.name }
func (p *stubProvider) SupportedTypes() []domain.ContentType { return p.types }

func (p *stubProvider) Find(ctx context.Context, title string, year *int, contentType domain.ContentType) (*Metadata, error) {
	p.calls++
	return p.meta, p.err
}

func (p *stubProvider) AssetURL(path string, kind AssetKind) (string, error) {
	return path, nil
}

func allTypes() []domain.ContentType {
	return []domain.ContentType{domain.ContentTypeMovie, domain.ContentTypeTV, domain.ContentTypeAnime}
}

func TestRegistryProvidersFor(t *testing.T) {
	tests := []struct {
		name        string
		register    func(r *Registry)
		contentType domain.ContentType
		wantOrder   []string
	}{
		{
			name: "sorted by priority",
			register: func(r *Registry) {
				r.Register(&stubProvider{name: "second", types: allTypes()}, 2, true)
				r.Register(&stubProvider{name: "first", types: allTypes()}, 1, true)
			},
			contentType: domain.ContentTypeMovie,
			wantOrder:   []string{"first", "second"},
		},
		{
			name: "equal priority keeps registration order",
			register: func(r *Registry) {
				r.Register(&stubProvider{name: "a", types: allTypes()}, 1, true)
				r.Register(&stubProvider{name: "b", types: allTypes()}, 1, true)
				r.Register(&stubProvider{name: "c", types: allTypes()}, 1, true)
			},
			contentType: domain.ContentTypeTV,
			wantOrder:   []string{"a", "b", "c"},
		},
		{
			name: "disabled providers are skipped",
			register: func(r *Registry) {
				r.Register(&stubProvider{name: "off", types: allTypes()}, 1, false)
				r.Register(&stubProvider{name: "on", types: allTypes()}, 2, true)
			},
			contentType: domain.ContentTypeMovie,
			wantOrder:   []string{"on"},
		},
		{
			name: "unsupported content type is filtered",
			register: func(r *Registry) {
				r.Register(&stubProvider{name: "anime-only", types: []domain.ContentType{domain.ContentTypeAnime}}, 1, true)
				r.Register(&stubProvider{name: "movies", types: []domain.ContentType{domain.ContentTypeMovie}}, 2, true)
			},
			contentType: domain.ContentTypeMovie,
			wantOrder:   []string{"movies"},
		},
		{
			name: "re-registering keeps insertion order",
			register: func(r *Registry) {
				r.Register(&stubProvider{name: "a", types: allTypes()}, 1, true)
				r.Register(&stubProvider{name: "b", types: allTypes()}, 1, true)
				r.Register(&stubProvider{name: "a", types: allTypes()}, 1, true)
			},
			contentType: domain.ContentTypeMovie,
			wantOrder:   []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			tt.register(r)

			providers := r.ProvidersFor(tt.contentType)
			names := make([]string, len(providers))
			for i, p := range providers {
				names[i] = p.Name()
			}
			assert.Equal(t, tt.wantOrder, names)
		})
	}
}

func TestFindWithFallbackFirstMatchWins(t *testing.T) {
	first := &stubProvider{name: "first", types: allTypes(), meta: &Metadata{ExternalID: "1", Title: "Winner"}}
	second := &stubProvider{name: "second", types: allTypes(), meta: &Metadata{ExternalID: "2", Title: "Loser"}}

	r := NewRegistry()
	r.Register(first, 1, true)
	r.Register(second, 2, true)

	match, err := r.FindWithFallback(context.Background(), "Winner", nil, domain.ContentTypeMovie)
	require.NoError(t, err)
	require.NotNil(t, match)

	assert.Equal(t, "first", match.Provider)
	assert.Equal(t, "Winner", match.Metadata.Title)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls, "later providers must not be consulted after a match")
}

func TestFindWithFallbackSkipsFailingProvider(t *testing.T) {
	failing := &stubProvider{name: "failing", types: allTypes(), err: &ProviderError{Provider: "failing", Op: "search", Err: assert.AnError}}
	backup := &stubProvider{name: "backup", types: allTypes(), meta: &Metadata{ExternalID: "9", Title: "Found"}}

	r := NewRegistry()
	r.Register(failing, 1, true)
	r.Register(backup, 2, true)

	match, err := r.FindWithFallback(context.Background(), "Found", nil, domain.ContentTypeTV)
	require.NoError(t, err)
	require.NotNil(t, match)

	assert.Equal(t, "backup", match.Provider)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, backup.calls)
}

func TestFindWithFallbackNoMatch(t *testing.T) {
	empty := &stubProvider{name: "empty", types: allTypes()}

	r := NewRegistry()
	r.Register(empty, 1, true)

	match, err := r.FindWithFallback(context.Background(), "Unknown", nil, domain.ContentTypeMovie)
	require.NoError(t, err)
	assert.Nil(t, match, "an exhausted chain yields no match, not an error")
}

func TestFindWithFallbackContextCancelled(t *testing.T) {
	p := &stubProvider{name: "p", types: allTypes(), meta: &Metadata{ExternalID: "1"}}

	r := NewRegistry()
	r.Register(p, 1, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.FindWithFallback(ctx, "anything", nil, domain.ContentTypeMovie)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.calls)
}
