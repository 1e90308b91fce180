package domain

import (
	"sort"
	"time"
)

// StruggleRecord is one entry in a learner's struggle history.
type StruggleRecord struct {
	EventID   string         `json:"event_id"`
	Type      EventType      `json:"event_type"`
	Topic     string         `json:"topic"`
	Quiz      *QuizDetails   `json:"quiz,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// UserMemory is a point-in-time snapshot of a learner's memory.
// History is chronological and bounded; TotalEvents counts every record ever appended.
type UserMemory struct {
	UserID                string           `json:"user_id"`
	History               []StruggleRecord `json:"struggle_history"`
	TotalEvents           int              `json:"total_events"`
	InterventionCount     int              `json:"intervention_count"`
	LastInterventionTopic string           `json:"last_intervention_topic,omitempty"`
	LastInterventionAt    *time.Time       `json:"last_intervention_at,omitempty"`
	InFlightTopics        []string         `json:"-"`
	LastActivityAt        time.Time        `json:"last_activity_at"`
	CreatedAt             time.Time        `json:"created_at"`
}

// DistinctTopics returns the struggle topics in first-seen order.
func (m UserMemory) DistinctTopics() []string {
	seen := make(map[string]struct{}, len(m.History))
	var topics []string
	for _, r := range m.History {
		if _, ok := seen[r.Topic]; ok {
			continue
		}
		seen[r.Topic] = struct{}{}
		topics = append(topics, r.Topic)
	}
	return topics
}

// LearningPatterns summarizes a learner's struggle history for reporting.
type LearningPatterns struct {
	MostCommonStruggleType EventType `json:"most_common_struggle_type,omitempty"`
	TopicsNeedingAttention []string  `json:"topics_needing_attention"`
	RecentActivity         int       `json:"recent_activity"`
}

// Profile is the reporting view over a learner's memory.
type Profile struct {
	UserID            string           `json:"user_id"`
	TotalEvents       int              `json:"total_events"`
	InterventionCount int              `json:"intervention_count"`
	StruggleTopics    []string         `json:"struggle_topics"`
	LastIntervention  *time.Time       `json:"last_intervention,omitempty"`
	LastTopic         string           `json:"last_intervention_topic,omitempty"`
	Patterns          LearningPatterns `json:"learning_patterns"`
}

// BuildProfile derives the reporting profile. Recent activity counts events
// since local midnight of now.
func BuildProfile(m UserMemory, now time.Time) Profile {
	topics := m.DistinctTopics()
	if topics == nil {
		topics = []string{}
	}

	counts := make(map[EventType]int)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	recent := 0
	for _, r := range m.History {
		counts[r.Type]++
		if r.Timestamp.After(midnight) {
			recent++
		}
	}

	attention := topics
	if len(attention) > 3 {
		attention = attention[:3]
	}

	return Profile{
		UserID:            m.UserID,
		TotalEvents:       m.TotalEvents,
		InterventionCount: m.InterventionCount,
		StruggleTopics:    topics,
		LastIntervention:  m.LastInterventionAt,
		LastTopic:         m.LastInterventionTopic,
		Patterns: LearningPatterns{
			MostCommonStruggleType: mostCommon(counts),
			TopicsNeedingAttention: attention,
			RecentActivity:         recent,
		},
	}
}

// mostCommon breaks ties alphabetically so the result is stable.
func mostCommon(counts map[EventType]int) EventType {
	if len(counts) == 0 {
		return ""
	}
	types := make([]EventType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return types[i] < types[j]
	})
	return types[0]
}

// UserSummary is one row of the user listing.
type UserSummary struct {
	UserID            string     `json:"user_id"`
	EventCount        int        `json:"event_count"`
	InterventionCount int        `json:"intervention_count"`
	LastActivity      *time.Time `json:"last_activity,omitempty"`
}
