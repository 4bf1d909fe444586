// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// ContentType identifies the broad kind of content a release or metadata
// provider deals with. Providers declare which types they can resolve and the
// registry filters on it.
type ContentType string

const (
	ContentTypeMovie ContentType = "movie"
	ContentTypeTV    ContentType = "tv"
	ContentTypeAnime ContentType = "anime"
)

// Enrichable reports whether rows of this type should be sent through the
// metadata enrichment stage.
func (t ContentType) Enrichable() bool {
	switch t {
	case ContentTypeMovie, ContentTypeTV, ContentTypeAnime:
		return true
	}
	return false
}
