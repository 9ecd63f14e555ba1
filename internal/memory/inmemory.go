package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errMissingCallSID = errors.New("turn record without call sid")

// InMemoryStore is a simple in-process history store for local/dev use.
type InMemoryStore struct {
	mu         sync.RWMutex
	records    map[string][]TurnRecord
	maxPerCall int
}

// NewInMemoryStore keeps at most maxPerCall exchanges per call; zero means 64.
func NewInMemoryStore(maxPerCall int) *InMemoryStore {
	if maxPerCall <= 0 {
		maxPerCall = 64
	}
	return &InMemoryStore{records: make(map[string][]TurnRecord), maxPerCall: maxPerCall}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	if record.CallSID == "" {
		return errMissingCallSID
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.records[record.CallSID], record)
	if len(arr) > s.maxPerCall {
		arr = append([]TurnRecord(nil), arr[len(arr)-s.maxPerCall:]...)
	}
	s.records[record.CallSID] = arr
	return nil
}

func (s *InMemoryStore) RecentContext(_ context.Context, callSID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[callSID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Forget(_ context.Context, callSID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, callSID)
	return nil
}

// Calls returns the number of calls with recorded history.
func (s *InMemoryStore) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *InMemoryStore) Close() error { return nil }
