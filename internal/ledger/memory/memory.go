// Package memory provides an in-memory ledger store. It backs the "memory"
// data backend and gives tests a fixture store with the exact scan
// semantics of the SQLite repository.
package memory

import (
	"context"
	"sort"
	"sync"

	"noleggio/internal/core"
	"noleggio/internal/ledger"
)

type Store struct {
	mu     sync.Mutex
	rows   []core.Session
	nextID int64
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{nextID: 1}
}

// Append stores the row as given and assigns the next id.
func (s *Store) Append(_ context.Context, sess core.Session) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.ID = s.nextID
	s.nextID++
	s.rows = append(s.rows, sess)
	return sess.ID, nil
}

// DeleteByID removes at most one row; a missing id is a no-op.
func (s *Store) DeleteByID(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rows {
		if r.ID == id {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

// DeleteByCategoryInstance removes every row of the pair.
func (s *Store) DeleteByCategoryInstance(_ context.Context, category, instance string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	for _, r := range s.rows {
		if r.Category == category && r.Instance == instance {
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return nil
}

// ActiveSessions returns one open row per distinct instance name: the one
// with the latest start time, latest id on equal starts. Instance names
// group across categories.
func (s *Store) ActiveSessions(_ context.Context) ([]core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]core.Session)
	for _, r := range s.rows {
		if r.Status() != core.StatusOpen {
			continue
		}
		cur, ok := latest[r.Instance]
		if !ok || r.StartTime.After(cur.StartTime) ||
			(r.StartTime.Equal(cur.StartTime) && r.ID > cur.ID) {
			latest[r.Instance] = r
		}
	}

	out := make([]core.Session, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sortSessions(out)
	return out, nil
}

// Report returns completed rows whose start date falls inside the window,
// honoring nil-as-wildcard filters.
func (s *Store) Report(_ context.Context, w core.Window, f ledger.Filter) ([]core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Session
	for _, r := range s.rows {
		if r.Status() != core.StatusClosed {
			continue
		}
		if !w.Contains(r.StartDate()) {
			continue
		}
		if f.Category != nil && r.Category != *f.Category {
			continue
		}
		if f.Instance != nil && r.Instance != *f.Instance {
			continue
		}
		out = append(out, r)
	}
	sortSessions(out)
	return out, nil
}

func (s *Store) Categories(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return distinct(s.rows, func(r core.Session) string { return r.Category }), nil
}

func (s *Store) Instances(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return distinct(s.rows, func(r core.Session) string { return r.Instance }), nil
}

func (s *Store) CategoryInstancePairs(_ context.Context) ([]core.CategoryInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[core.CategoryInstance]struct{}{}
	var out []core.CategoryInstance
	for _, r := range s.rows {
		p := core.CategoryInstance{Category: r.Category, Instance: r.Instance}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func sortSessions(rows []core.Session) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Instance != b.Instance {
			return a.Instance < b.Instance
		}
		return a.ID < b.ID
	})
}

func distinct(rows []core.Session, key func(core.Session) string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range rows {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
