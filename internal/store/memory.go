package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process directory. It is meant for tests, demos and
// short-lived batch runs seeded from a file.
type MemoryStore struct {
	mu        sync.RWMutex
	countries map[int64]Country
	states    map[int64]StateProvince
	counties  map[int64]County
	nextID    int64
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		countries: make(map[int64]Country),
		states:    make(map[int64]StateProvince),
		counties:  make(map[int64]County),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// sortedIDs returns map keys ascending so "first match" is deterministic.
func sortedIDs[T any](m map[int64]T) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *MemoryStore) FindCountryByISOCode(_ context.Context, code string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range sortedIDs(s.countries) {
		if s.countries[id].ISOCode == code {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (s *MemoryStore) FindStateByName(_ context.Context, name string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range sortedIDs(s.states) {
		if s.states[id].Name == name {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (s *MemoryStore) FindCountyByName(_ context.Context, name string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findCounty(0, name)
}

// findCounty matches by name, restricted to stateID when non-zero.
// Callers hold s.mu.
func (s *MemoryStore) findCounty(stateID int64, name string) (int64, bool, error) {
	for _, id := range sortedIDs(s.counties) {
		c := s.counties[id]
		if c.Name == name && (stateID == 0 || c.StateProvinceID == stateID) {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (s *MemoryStore) CreateCounty(_ context.Context, stateID int64, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok, _ := s.findCounty(stateID, name); ok {
		return id, nil
	}
	s.nextID++
	id := s.nextID
	s.counties[id] = County{ID: id, Name: name, Abbreviation: name, StateProvinceID: stateID}
	return id, nil
}

func (s *MemoryStore) StateNameByID(_ context.Context, id int64) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	return st.Name, ok, nil
}

func (s *MemoryStore) StateNameByAbbreviation(_ context.Context, abbr string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range sortedIDs(s.states) {
		if s.states[id].Abbreviation == abbr {
			return s.states[id].Name, true, nil
		}
	}
	return "", false, nil
}

// Seed replaces rows with matching ids.
func (s *MemoryStore) Seed(_ context.Context, data SeedData) (SeedResult, error) {
	var res SeedResult
	if err := data.Validate(); err != nil {
		return res, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range data.Countries {
		s.countries[c.ID] = c
		res.Countries++
	}
	for _, st := range data.StateProvinces {
		s.states[st.ID] = st
		res.StateProvinces++
	}
	for _, c := range data.Counties {
		s.counties[c.ID] = c
		if c.ID > s.nextID {
			s.nextID = c.ID
		}
		res.Counties++
	}
	return res, nil
}
