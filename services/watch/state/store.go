// Package state persists the set of stable ids that have already been
// notified. The whole set lives in one JSON file rewritten wholesale at
// the end of each run; it is the only durable state the pipeline's
// correctness depends on.
package state

import (
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"time"
)

type entry struct {
	Id        string `json:"id"`
	FirstSeen int64  `json:"first_seen"`
}

// Store is the in-memory SeenSet with its backing file. Load never
// fails: a missing, unreadable or corrupt file simply starts empty.
type Store struct {
	path string
	ttl  time.Duration
	seen map[string]time.Time

	now func() time.Time
}

// Load reads the seen file at path. ttl bounds how long an id is
// remembered; 0 disables eviction. Corrupt or missing state degrades to
// an empty set, logged, never an error.
func Load(path string, ttl time.Duration) *Store {
	s := &Store{
		path: path,
		ttl:  ttl,
		seen: map[string]time.Time{},
		now:  time.Now,
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("unreadable seen file, starting empty", "path", path, "err", err)
		}
		return s
	}

	var items []json.RawMessage
	err = json.Unmarshal(raw, &items)
	if err != nil {
		slog.Warn("corrupt seen file, starting empty", "path", path, "err", err)
		return s
	}

	loadTime := s.now()
	for _, item := range items {
		var e entry
		if json.Unmarshal(item, &e) == nil && e.Id != "" {
			s.seen[e.Id] = time.Unix(e.FirstSeen, 0)
			continue
		}
		// legacy format: a bare hex id with no age attached
		var id string
		if json.Unmarshal(item, &id) == nil && id != "" {
			s.seen[id] = loadTime
		}
	}
	return s
}

func (s *Store) IsNew(id string) bool {
	_, ok := s.seen[id]
	return !ok
}

// MarkSeen records the id. Idempotent; the first-seen time of an
// already known id is kept.
func (s *Store) MarkSeen(id string) {
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = s.now()
}

func (s *Store) Len() int {
	return len(s.seen)
}

type Entry struct {
	Id        string
	FirstSeen time.Time
}

// Entries returns (id, firstSeen) pairs sorted by id ascending.
func (s *Store) Entries() []Entry {
	out := make([]Entry, 0, len(s.seen))
	for id, first := range s.seen {
		out = append(out, Entry{Id: id, FirstSeen: first})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// Save rewrites the backing file in one write, ids sorted ascending.
// Entries older than the ttl are dropped here rather than at load so a
// failed run never shrinks the persisted set.
func (s *Store) Save() error {
	cutoff := time.Time{}
	if s.ttl > 0 {
		cutoff = s.now().Add(-s.ttl)
	}

	entries := []entry{}
	for id, first := range s.seen {
		if !cutoff.IsZero() && first.Before(cutoff) {
			delete(s.seen, id)
			continue
		}
		entries = append(entries, entry{Id: id, FirstSeen: first.Unix()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Id < entries[j].Id })

	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0644)
}
