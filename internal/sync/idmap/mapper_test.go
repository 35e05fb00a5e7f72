// Package idmap provides unit tests for the ID mapper.
package idmap

import (
	"errors"
	"testing"

	"github.com/jwei-lin/notecove/backend/internal/models"
)

// memStore is an in-memory mapping store for tests.
type memStore struct {
	mappings map[string]*models.IDMapping
	saveErr  error
	listErr  error
}

func newMemStore() *memStore {
	return &memStore{mappings: make(map[string]*models.IDMapping)}
}

func (s *memStore) SaveIDMapping(mapping *models.IDMapping) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := *mapping
	s.mappings[mapping.LocalID] = &cp
	return nil
}

func (s *memStore) ListIDMappings() ([]*models.IDMapping, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	result := make([]*models.IDMapping, 0, len(s.mappings))
	for _, mapping := range s.mappings {
		cp := *mapping
		result = append(result, &cp)
	}
	return result, nil
}

// TestRegisterAndResolve verifies write-through registration and lookup.
func TestRegisterAndResolve(t *testing.T) {
	store := newMemStore()
	mapper := NewMapper(store)

	if err := mapper.RegisterMapping("local-1", "srv-1", models.KindNote); err != nil {
		t.Fatalf("RegisterMapping failed: %v", err)
	}

	if got := mapper.Resolve("local-1"); got != "srv-1" {
		t.Errorf("Resolve(local-1) = %s, want srv-1", got)
	}
	if _, ok := store.mappings["local-1"]; !ok {
		t.Error("mapping not written to store")
	}
}

// TestResolve_identity verifies unmapped IDs resolve to themselves.
func TestResolve_identity(t *testing.T) {
	mapper := NewMapper(newMemStore())

	if got := mapper.Resolve("srv-9"); got != "srv-9" {
		t.Errorf("Resolve(srv-9) = %s, want identity", got)
	}
}

// TestRegisterMapping_invalid verifies empty IDs are rejected.
func TestRegisterMapping_invalid(t *testing.T) {
	mapper := NewMapper(newMemStore())

	if err := mapper.RegisterMapping("", "srv-1", models.KindNote); err == nil {
		t.Error("expected error for empty local ID")
	}
	if err := mapper.RegisterMapping("local-1", "", models.KindNote); err == nil {
		t.Error("expected error for empty server ID")
	}
}

// TestRegisterMapping_storeFailure verifies a failed persist leaves the
// cache unchanged.
func TestRegisterMapping_storeFailure(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	mapper := NewMapper(store)

	if err := mapper.RegisterMapping("local-1", "srv-1", models.KindNote); err == nil {
		t.Fatal("expected error when store save fails")
	}
	if got := mapper.Resolve("local-1"); got != "local-1" {
		t.Error("failed registration should not be cached")
	}
}

// TestLoad verifies restart recovery from the store.
func TestLoad(t *testing.T) {
	store := newMemStore()
	store.mappings["local-1"] = &models.IDMapping{LocalID: "local-1", ServerID: "srv-1", Kind: models.KindNote}
	store.mappings["local-2"] = &models.IDMapping{LocalID: "local-2", ServerID: "srv-2", Kind: models.KindFolder}

	mapper := NewMapper(store)
	if err := mapper.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if mapper.Size() != 2 {
		t.Fatalf("size = %d, want 2", mapper.Size())
	}
	if got := mapper.Resolve("local-2"); got != "srv-2" {
		t.Errorf("Resolve(local-2) = %s, want srv-2", got)
	}
}

// TestMappings verifies kind filtering.
func TestMappings(t *testing.T) {
	mapper := NewMapper(newMemStore())
	mapper.RegisterMapping("local-1", "srv-1", models.KindNote)
	mapper.RegisterMapping("local-2", "srv-2", models.KindFolder)
	mapper.RegisterMapping("local-3", "srv-3", models.KindNote)

	notes := mapper.Mappings(models.KindNote)
	if len(notes) != 2 {
		t.Errorf("note mappings = %d, want 2", len(notes))
	}
	all := mapper.Mappings("")
	if len(all) != 3 {
		t.Errorf("all mappings = %d, want 3", len(all))
	}
}
