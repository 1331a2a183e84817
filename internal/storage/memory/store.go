// Package memory provides an in-memory store for development and testing.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/linkforge/harvester/internal/credentials"
	"github.com/linkforge/harvester/internal/harvest"
)

// Store keeps combinations, links, dorks, and credentials in process memory.
// It enforces the same uniqueness invariants as the Postgres store.
type Store struct {
	mu           sync.RWMutex
	combinations map[uuid.UUID]harvest.Combination
	byTriple     map[harvest.Triple]uuid.UUID
	links        map[uuid.UUID][]harvest.Link
	linkKeys     map[uuid.UUID]map[string]struct{}
	dorks        map[uuid.UUID]harvest.Dork
	creds        map[uuid.UUID]credentials.EncryptedCredential
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		combinations: make(map[uuid.UUID]harvest.Combination),
		byTriple:     make(map[harvest.Triple]uuid.UUID),
		links:        make(map[uuid.UUID][]harvest.Link),
		linkKeys:     make(map[uuid.UUID]map[string]struct{}),
		dorks:        make(map[uuid.UUID]harvest.Dork),
		creds:        make(map[uuid.UUID]credentials.EncryptedCredential),
	}
}

// CreateCombination inserts the record unless the triple already exists.
func (s *Store) CreateCombination(_ context.Context, c harvest.Combination) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byTriple[c.Triple]; exists {
		return false, nil
	}
	s.combinations[c.ID] = c
	s.byTriple[c.Triple] = c.ID
	return true, nil
}

// GetCombination fetches a combination by id.
func (s *Store) GetCombination(_ context.Context, id uuid.UUID) (harvest.Combination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.combinations[id]
	if !ok {
		return harvest.Combination{}, harvest.ErrNotFound
	}
	return c, nil
}

// GetCombinationByTriple fetches a combination by its unique triple.
func (s *Store) GetCombinationByTriple(_ context.Context, t harvest.Triple) (harvest.Combination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTriple[t]
	if !ok {
		return harvest.Combination{}, harvest.ErrNotFound
	}
	return s.combinations[id], nil
}

// UpdateCombination overwrites the stored record.
func (s *Store) UpdateCombination(_ context.Context, c harvest.Combination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.combinations[c.ID]; !ok {
		return harvest.ErrNotFound
	}
	s.combinations[c.ID] = c
	return nil
}

// ResetCombination drops all links for the combination and writes the zeroed record.
func (s *Store) ResetCombination(_ context.Context, c harvest.Combination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.combinations[c.ID]; !ok {
		return harvest.ErrNotFound
	}
	delete(s.links, c.ID)
	delete(s.linkKeys, c.ID)
	s.combinations[c.ID] = c
	return nil
}

// InsertLinks appends the batch, silently dropping canonical-URL duplicates.
func (s *Store) InsertLinks(_ context.Context, links []harvest.Link) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, link := range links {
		keys, ok := s.linkKeys[link.CombinationID]
		if !ok {
			keys = make(map[string]struct{})
			s.linkKeys[link.CombinationID] = keys
		}
		if _, dup := keys[link.CanonicalURL]; dup {
			continue
		}
		keys[link.CanonicalURL] = struct{}{}
		s.links[link.CombinationID] = append(s.links[link.CombinationID], link)
		inserted++
	}
	return inserted, nil
}

// ListLinks returns all links recorded for a combination, in insertion order.
func (s *Store) ListLinks(_ context.Context, combinationID uuid.UUID) ([]harvest.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	links := s.links[combinationID]
	out := make([]harvest.Link, len(links))
	copy(out, links)
	return out, nil
}

// GetDork resolves a dork reference.
func (s *Store) GetDork(_ context.Context, id uuid.UUID) (harvest.Dork, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dorks[id]
	if !ok {
		return harvest.Dork{}, harvest.ErrNotFound
	}
	return d, nil
}

// SeedDork registers a dork for development and tests.
func (s *Store) SeedDork(d harvest.Dork) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dorks[d.ID] = d
}

// GetCredential loads an encrypted credential record.
func (s *Store) GetCredential(_ context.Context, id uuid.UUID) (credentials.EncryptedCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.creds[id]
	if !ok {
		return credentials.EncryptedCredential{}, harvest.ErrNotFound
	}
	return rec, nil
}

// SeedCredential registers an encrypted credential for development and tests.
func (s *Store) SeedCredential(rec credentials.EncryptedCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[rec.ID] = rec
}
