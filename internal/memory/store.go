// Package memory owns per-learner struggle memory.
package memory

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
)

// Config controls memory bounds.
type Config struct {
	// MaxHistory caps the records kept per learner.
	MaxHistory int
}

// Entry is one learner's mutable memory. All methods must be called from
// within Store.Update, which holds the entry lock.
type Entry struct {
	mu sync.Mutex

	userID            string
	history           *History
	eventIDs          map[string]struct{}
	totalEvents       int
	interventionCount int
	lastTopic         string
	lastAt            time.Time
	inFlight          map[string]int
	lastActivity      time.Time
	createdAt         time.Time
	removed           bool
}

func newEntry(userID string, maxHistory int, now time.Time) *Entry {
	return &Entry{
		userID:       userID,
		history:      NewHistory(maxHistory),
		eventIDs:     make(map[string]struct{}),
		inFlight:     make(map[string]int),
		lastActivity: now,
		createdAt:    now,
	}
}

// Snapshot copies the entry into an immutable view.
func (e *Entry) Snapshot() domain.UserMemory {
	m := domain.UserMemory{
		UserID:                e.userID,
		History:               e.history.Records(),
		TotalEvents:           e.totalEvents,
		InterventionCount:     e.interventionCount,
		LastInterventionTopic: e.lastTopic,
		LastActivityAt:        e.lastActivity,
		CreatedAt:             e.createdAt,
	}
	if !e.lastAt.IsZero() {
		at := e.lastAt
		m.LastInterventionAt = &at
	}
	for topic := range e.inFlight {
		m.InFlightTopics = append(m.InFlightTopics, topic)
	}
	sort.Strings(m.InFlightTopics)
	return m
}

// HasEvent reports whether an event ID is still present in the history.
func (e *Entry) HasEvent(eventID string) bool {
	if eventID == "" {
		return false
	}
	_, ok := e.eventIDs[eventID]
	return ok
}

// AppendStruggle appends a record. History never shrinks except by ring eviction.
func (e *Entry) AppendStruggle(rec domain.StruggleRecord) {
	if old, evicted := e.history.Append(rec); evicted {
		delete(e.eventIDs, old.EventID)
	}
	if rec.EventID != "" {
		e.eventIDs[rec.EventID] = struct{}{}
	}
	e.totalEvents++
	if rec.Timestamp.After(e.lastActivity) {
		e.lastActivity = rec.Timestamp
	}
}

// RecordIntervention increments the intervention counter and sets the
// last-intervention marker.
func (e *Entry) RecordIntervention(topic string, at time.Time) {
	e.interventionCount++
	e.lastTopic = topic
	e.lastAt = at
}

// BeginIntervention marks a topic as being generated for.
func (e *Entry) BeginIntervention(topic string) {
	e.inFlight[topic]++
}

// EndIntervention clears an in-flight marker set by BeginIntervention.
func (e *Entry) EndIntervention(topic string) {
	if n := e.inFlight[topic]; n > 1 {
		e.inFlight[topic] = n - 1
		return
	}
	delete(e.inFlight, topic)
}

// Store is the UserMemoryStore. The map lock only guards membership; each
// learner's state is serialized by its own entry lock so different learners
// never contend.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	cfg     Config
	now     func() time.Time
}

// New creates an empty store.
func New(cfg Config) *Store {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultHistorySize
	}
	return &Store{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		now:     time.Now,
	}
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", domain.ErrInvalidUserID
	}
	return userID, nil
}

func (s *Store) entryFor(userID string, create bool) *Entry {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if ok || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[userID]; ok {
		return e
	}
	e = newEntry(userID, s.cfg.MaxHistory, s.now())
	s.entries[userID] = e
	return e
}

// Update runs fn inside the learner's critical section, creating memory on
// first access.
func (s *Store) Update(userID string, fn func(*Entry) error) error {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	for {
		e := s.entryFor(userID, true)
		e.mu.Lock()
		if e.removed {
			// Reset won the race; pick up the replacement entry.
			e.mu.Unlock()
			continue
		}
		err := fn(e)
		e.mu.Unlock()
		return err
	}
}

// view runs fn inside the critical section of an existing learner only.
func (s *Store) view(userID string, fn func(*Entry)) error {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	e := s.entryFor(userID, false)
	if e == nil {
		return domain.ErrMemoryNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return domain.ErrMemoryNotFound
	}
	fn(e)
	return nil
}

// GetOrCreate returns the learner's memory, creating an empty one on first access.
func (s *Store) GetOrCreate(userID string) (domain.UserMemory, error) {
	var snap domain.UserMemory
	err := s.Update(userID, func(e *Entry) error {
		snap = e.Snapshot()
		return nil
	})
	return snap, err
}

// RecordStruggle appends a struggle record for the learner.
func (s *Store) RecordStruggle(userID string, rec domain.StruggleRecord) error {
	return s.Update(userID, func(e *Entry) error {
		e.AppendStruggle(rec)
		return nil
	})
}

// RecordIntervention increments the learner's intervention count and sets
// the last-intervention fields.
func (s *Store) RecordIntervention(userID, topic string, at time.Time) error {
	return s.Update(userID, func(e *Entry) error {
		e.RecordIntervention(topic, at)
		return nil
	})
}

// FinishIntervention clears the in-flight marker that e set for topic inside
// Update, and records the intervention when created is true. It returns
// ErrMemoryNotFound when the learner was reset or evicted in the meantime,
// leaving the replacement memory untouched.
func (s *Store) FinishIntervention(e *Entry, topic string, at time.Time, created bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return domain.ErrMemoryNotFound
	}
	e.EndIntervention(topic)
	if created {
		e.RecordIntervention(topic, at)
	}
	return nil
}

// Reset drops all memory for the learner. It bypasses policy.
func (s *Store) Reset(userID string) error {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	e, ok := s.entries[userID]
	if ok {
		delete(s.entries, userID)
	}
	s.mu.Unlock()
	if !ok {
		return domain.ErrMemoryNotFound
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()

	slog.Info("User memory reset", "user_id", userID)
	return nil
}

// Snapshot returns the learner's memory without creating it.
func (s *Store) Snapshot(userID string) (domain.UserMemory, error) {
	var snap domain.UserMemory
	err := s.view(userID, func(e *Entry) { snap = e.Snapshot() })
	return snap, err
}

// Profile returns the reporting profile for a learner.
func (s *Store) Profile(userID string, now time.Time) (domain.Profile, error) {
	snap, err := s.Snapshot(userID)
	if err != nil {
		return domain.Profile{}, err
	}
	return domain.BuildProfile(snap, now), nil
}

// List returns one summary per known learner, ordered by user ID.
func (s *Store) List() []domain.UserSummary {
	s.mu.RLock()
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.UserSummary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		sum := domain.UserSummary{
			UserID:            e.userID,
			EventCount:        e.totalEvents,
			InterventionCount: e.interventionCount,
		}
		if last, ok := e.history.Last(); ok {
			ts := last.Timestamp
			sum.LastActivity = &ts
		}
		e.mu.Unlock()
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Totals aggregates counters across all learners.
type Totals struct {
	Users         int `json:"total_users"`
	Events        int `json:"total_events"`
	Interventions int `json:"total_interventions"`
}

// Totals returns aggregate counters for status reporting.
func (s *Store) Totals() Totals {
	var t Totals
	for _, sum := range s.List() {
		t.Users++
		t.Events += sum.EventCount
		t.Interventions += sum.InterventionCount
	}
	return t
}

// EvictIdle removes learners with no activity since cutoff and nothing in
// flight. It returns the evicted user IDs.
func (s *Store) EvictIdle(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, e := range s.entries {
		if !e.mu.TryLock() {
			// Busy learners are by definition not idle.
			continue
		}
		if e.lastActivity.Before(cutoff) && len(e.inFlight) == 0 {
			e.removed = true
			delete(s.entries, id)
			evicted = append(evicted, id)
		}
		e.mu.Unlock()
	}
	sort.Strings(evicted)
	return evicted
}
