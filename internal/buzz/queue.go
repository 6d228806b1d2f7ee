// Package buzz orders concurrent buzz-in signals for the open question.
package buzz

import (
	"sort"

	"trivia-board-service/internal/domain"
)

// Queue keeps buzz entries sorted ascending by timestamp. The head holds the right to answer.
// A team appears at most once; a second buzz from the same team is ignored.
// Queue is not safe for concurrent use; the owning session serializes access.
type Queue struct {
	entries []domain.BuzzEntry
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add inserts a buzz keeping timestamp order. Equal timestamps keep arrival order.
// It reports false when the team is already queued.
func (q *Queue) Add(teamID string, timestamp int64) bool {
	if q.Contains(teamID) {
		return false
	}
	i := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].Timestamp > timestamp
	})
	q.entries = append(q.entries, domain.BuzzEntry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = domain.BuzzEntry{TeamID: teamID, Timestamp: timestamp}
	return true
}

// Remove drops the team's entry, advancing the next team when it was the head.
func (q *Queue) Remove(teamID string) bool {
	for i, e := range q.entries {
		if e.TeamID == teamID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.entries = nil
}

// PeekFirst returns the head entry.
func (q *Queue) PeekFirst() (domain.BuzzEntry, bool) {
	if len(q.entries) == 0 {
		return domain.BuzzEntry{}, false
	}
	return q.entries[0], true
}

func (q *Queue) Contains(teamID string) bool {
	for _, e := range q.entries {
		if e.TeamID == teamID {
			return true
		}
	}
	return false
}

func (q *Queue) Len() int {
	return len(q.entries)
}

// Entries returns a copy of the queue in priority order.
func (q *Queue) Entries() []domain.BuzzEntry {
	out := make([]domain.BuzzEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Replace resets the queue to entries, re-sorting and dropping duplicate teams.
func (q *Queue) Replace(entries []domain.BuzzEntry) {
	q.Clear()
	for _, e := range entries {
		q.Add(e.TeamID, e.Timestamp)
	}
}
