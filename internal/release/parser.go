// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package release

import (
	"errors"
	"fmt"

	"github.com/moistari/rls"

	"github.com/autobrr/dredger/internal/domain"
)

var ErrUnparsable = errors.New("release title could not be parsed")

// Release holds the attributes extracted from a raw tracker title.
type Release struct {
	Title      string
	Year       int
	Type       string
	Group      string
	Resolution string
	Season     int
	Episode    int
}

// ContentType maps the parsed release type onto the enrichment content types.
// Non-video releases (music, games, books) map to an empty type and are never
// enriched.
func (r *Release) ContentType() domain.ContentType {
	switch r.Type {
	case rls.Movie.String():
		return domain.ContentTypeMovie
	case rls.Series.String(), rls.Episode.String():
		return domain.ContentTypeTV
	}
	return ""
}

// Parse runs the release parser over a raw tracker title. The parser itself
// never fails; a result without a usable title is reported as ErrUnparsable so
// callers keep the row dirty instead of indexing garbage.
func Parse(rawTitle string) (*Release, error) {
	r := rls.ParseString(rawTitle)

	if r.Title == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnparsable, rawTitle)
	}

	return &Release{
		Title:      r.Title,
		Year:       r.Year,
		Type:       r.Type.String(),
		Group:      r.Group,
		Resolution: r.Resolution,
		Season:     r.Series,
		Episode:    r.Episode,
	}, nil
}

// ContentTypeOf maps a stored release type string back onto a content type.
func ContentTypeOf(releaseType string) domain.ContentType {
	r := Release{Type: releaseType}
	return r.ContentType()
}
