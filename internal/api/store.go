package api

import (
	"sync"

	"github.com/google/uuid"
)

// GenerationStore holds completed generation records in memory. Records live
// for the lifetime of the process; nothing here persists.
type GenerationStore struct {
	mu      sync.Mutex
	records map[string]GenerationResponse
}

func NewGenerationStore() *GenerationStore {
	return &GenerationStore{
		records: make(map[string]GenerationResponse),
	}
}

// Save records a completed generation under its ID.
func (s *GenerationStore) Save(resp GenerationResponse) {
	s.mu.Lock()
	s.records[resp.ID] = resp
	s.mu.Unlock()
}

func (s *GenerationStore) Get(id string) (GenerationResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *GenerationStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	return true
}

// Len reports the number of stored records.
func (s *GenerationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func newGenerationID() string {
	return "gen_" + uuid.NewString()
}
