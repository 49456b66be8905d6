package persist

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used by tests. It round-trips documents
// through JSON so it catches the same encoding mistakes a file would.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte

	// SaveErr, when set, is returned by every Save.
	SaveErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Load(name string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.docs[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode snapshot %s: %w", name, err)
	}

	return true, nil
}

func (s *MemoryStore) Save(name string, doc any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return s.SaveErr
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", name, err)
	}
	s.docs[name] = data

	return nil
}

// Corrupt overwrites a stored document with bytes that will not decode,
// for exercising load-failure recovery.
func (s *MemoryStore) Corrupt(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[name] = []byte("{not json")
}

// SaveCount reports how many documents are currently stored.
func (s *MemoryStore) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.docs)
}
