// Package idmap tracks provisional-to-server ID migrations.
//
// Entities created offline carry local IDs until their create operation
// reconciles. The mapper remembers each migration so late arrivals that
// still reference the provisional ID resolve to the durable one.
package idmap

import (
	"fmt"
	"sync"

	"github.com/jwei-lin/notecove/backend/internal/models"
)

// Store persists mappings across restarts.
type Store interface {
	SaveIDMapping(mapping *models.IDMapping) error
	ListIDMappings() ([]*models.IDMapping, error)
}

// Mapper is the in-memory view over the mapping store.
type Mapper struct {
	mu      sync.RWMutex
	store   Store
	entries map[string]*models.IDMapping // keyed by local ID
}

// NewMapper creates a Mapper over the given store.
func NewMapper(store Store) *Mapper {
	return &Mapper{
		store:   store,
		entries: make(map[string]*models.IDMapping),
	}
}

// Load warms the cache from the store.
func (m *Mapper) Load() error {
	mappings, err := m.store.ListIDMappings()
	if err != nil {
		return fmt.Errorf("load id mappings: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*models.IDMapping, len(mappings))
	for _, mapping := range mappings {
		m.entries[mapping.LocalID] = mapping
	}
	return nil
}

// RegisterMapping records a migration, write-through to the store.
// Registering the same local ID again replaces the previous record.
func (m *Mapper) RegisterMapping(localID, serverID, kind string) error {
	if localID == "" || serverID == "" {
		return fmt.Errorf("mapping needs both IDs (local %q, server %q)", localID, serverID)
	}

	mapping := &models.IDMapping{
		LocalID:   localID,
		ServerID:  serverID,
		Kind:      kind,
		CreatedAt: models.NowMs(),
	}
	if err := m.store.SaveIDMapping(mapping); err != nil {
		return fmt.Errorf("save id mapping: %w", err)
	}

	m.mu.Lock()
	m.entries[localID] = mapping
	m.mu.Unlock()
	return nil
}

// Resolve translates a provisional ID to its server ID. Unmapped IDs,
// server IDs included, resolve to themselves.
func (m *Mapper) Resolve(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if mapping, ok := m.entries[id]; ok {
		return mapping.ServerID
	}
	return id
}

// Mappings returns the recorded migrations for one entity kind, or all of
// them when kind is empty.
func (m *Mapper) Mappings(kind string) []*models.IDMapping {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*models.IDMapping, 0, len(m.entries))
	for _, mapping := range m.entries {
		if kind != "" && mapping.Kind != kind {
			continue
		}
		cp := *mapping
		result = append(result, &cp)
	}
	return result
}

// Size returns the number of recorded migrations.
func (m *Mapper) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
