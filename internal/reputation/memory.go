package reputation

import (
	"context"
	"sync"

	"firestige.xyz/dgawatch/internal/core"
)

// MemoryStore is an in-process Store for dry runs and tests. Failures can be injected
// with FailNext and FailAuditAfter. Like the results collection, it keeps one audit
// record per ID.
type MemoryStore struct {
	mu      sync.Mutex
	lists   map[List]map[string]struct{}
	audits  []core.AuditRecord
	seen    map[string]struct{}
	queries int
	fail    []error

	auditFailAfter int
	auditFail      error
}

// NewMemoryStore seeds the lists.
func NewMemoryStore(blacklisted, whitelisted []string) *MemoryStore {
	s := &MemoryStore{
		lists: map[List]map[string]struct{}{
			Blacklist: {},
			Whitelist: {},
		},
		seen: map[string]struct{}{},
	}
	for _, n := range blacklisted {
		s.lists[Blacklist][n] = struct{}{}
	}
	for _, n := range whitelisted {
		s.lists[Whitelist][n] = struct{}{}
	}
	return s
}

// FailNext makes the next len(errs) calls return errs in order.
func (s *MemoryStore) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = append(s.fail, errs...)
}

// FailAuditAfter makes the next Audit call store its first n records and then fail
// with err, the way an interrupted sequence of inserts would.
func (s *MemoryStore) FailAuditAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditFailAfter = n
	s.auditFail = err
}

func (s *MemoryStore) injected() error {
	if len(s.fail) == 0 {
		return nil
	}
	err := s.fail[0]
	s.fail = s.fail[1:]
	return err
}

func (s *MemoryStore) Members(ctx context.Context, list List, names []string) (core.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if err := s.injected(); err != nil {
		return nil, err
	}
	out := newMembership(names)
	for _, n := range names {
		if _, ok := s.lists[list][n]; ok {
			out[n] = true
		}
	}
	return out, nil
}

func (s *MemoryStore) Audit(ctx context.Context, records []core.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return err
	}
	failAfter, failErr := s.auditFailAfter, s.auditFail
	s.auditFail = nil
	for i, rec := range records {
		if failErr != nil && i == failAfter {
			return failErr
		}
		if rec.ID != "" {
			if _, dup := s.seen[rec.ID]; dup {
				continue
			}
			s.seen[rec.ID] = struct{}{}
		}
		s.audits = append(s.audits, rec)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Audits returns a copy of the recorded audit records.
func (s *MemoryStore) Audits() []core.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AuditRecord(nil), s.audits...)
}

// Queries returns the number of Members calls that reached the store.
func (s *MemoryStore) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}
