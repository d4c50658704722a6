package audit

import "sync"

// MemStore is the in-memory audit store spec §6 explicitly allows
// ("Audit log contract ... May be in-memory"). It is the default: the core
// does not attempt durability for in-flight rebalance state per spec §1
// Non-goals, and an audit trail kept only for this process's lifetime is
// consistent with that.
type MemStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemStore creates an empty in-memory audit log.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Add(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemStore) Filter(f Filter) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.entries {
		if e.PaidBy != f.PaidBy {
			continue
		}
		if e.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

var _ Store = (*MemStore)(nil)
