// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"

	"github.com/autobrr/dredger/internal/dbinterface"
)

// BlacklistStore reads the intake exclusion lists. The pipeline never writes
// them; entries are managed administratively.
type BlacklistStore struct {
	db dbinterface.Querier
}

func NewBlacklistStore(db dbinterface.Querier) *BlacklistStore {
	return &BlacklistStore{db: db}
}

// Hashes returns the set of blacklisted info-hashes.
func (s *BlacklistStore) Hashes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT info_hash FROM blacklist_hashes")
	if err != nil {
		return nil, fmt.Errorf("failed to load blacklisted hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]struct{})
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes[hash] = struct{}{}
	}
	return hashes, rows.Err()
}

// TrackerSubstrings returns the tracker URL fragments that exclude a record
// when its source URL contains any of them.
func (s *BlacklistStore) TrackerSubstrings(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT substring FROM blacklist_trackers")
	if err != nil {
		return nil, fmt.Errorf("failed to load blacklisted trackers: %w", err)
	}
	defer rows.Close()

	var substrings []string
	for rows.Next() {
		var sub string
		if err := rows.Scan(&sub); err != nil {
			return nil, err
		}
		substrings = append(substrings, sub)
	}
	return substrings, rows.Err()
}
