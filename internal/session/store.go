package session

import (
	"encoding/json"
	"fmt"
	"sync"
)

// LocalStore is the ephemeral progress tier: a string-keyed cache scoped to
// the lifetime of the client process, mirroring browser-local storage.
type LocalStore interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
}

// MemoryStore is the default LocalStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

func (s *MemoryStore) Set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func progressKey(assessmentID uint) string {
	return fmt.Sprintf("assessment:progress:%d", assessmentID)
}

func questionKey(assessmentID uint) string {
	return fmt.Sprintf("assessment:questions:%d", assessmentID)
}

// LoadLocalProgress reads the cached progress entry for an assessment.
// Returns nil when absent or unreadable.
func LoadLocalProgress(s LocalStore, assessmentID uint) *Progress {
	raw, ok := s.Get(progressKey(assessmentID))
	if !ok {
		return nil
	}
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return &p
}

// StoreLocalProgress writes the progress entry synchronously.
func StoreLocalProgress(s LocalStore, assessmentID uint, p Progress) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	s.Set(progressKey(assessmentID), raw)
}

// LoadLocalQuestions reads the cached question set for an assessment.
func LoadLocalQuestions(s LocalStore, assessmentID uint) *QuestionSet {
	raw, ok := s.Get(questionKey(assessmentID))
	if !ok {
		return nil
	}
	var qs QuestionSet
	if err := json.Unmarshal(raw, &qs); err != nil {
		return nil
	}
	return &qs
}

func StoreLocalQuestions(s LocalStore, assessmentID uint, qs QuestionSet) {
	raw, err := json.Marshal(qs)
	if err != nil {
		return
	}
	s.Set(questionKey(assessmentID), raw)
}

// PurgeLocal removes both cache entries for an assessment. Called on cancel
// so a later resume cannot pick up stale answers.
func PurgeLocal(s LocalStore, assessmentID uint) {
	s.Delete(progressKey(assessmentID))
	s.Delete(questionKey(assessmentID))
}
