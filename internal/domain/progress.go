/**
 * @description
 * This file defines per-user training progress and the mastery computation.
 * One UserProgress record exists per (user, book); it is mutated by every
 * answered question.
 */
package domain

import (
	"math"
	"time"
)

// UserProgress tracks which questions a user has answered for one book.
// QuestionsCorrect is always a subset of QuestionsCompleted.
type UserProgress struct {
	ID                 string     `json:"id"` // = book id
	UserID             string     `json:"user_id"`
	BookID             string     `json:"book_id"`
	QuestionsCompleted []string   `json:"questions_completed"`
	QuestionsCorrect   []string   `json:"questions_correct"`
	LastAccessed       time.Time  `json:"last_accessed"`
	MasteryLevel       int        `json:"mastery_level"` // 0-100
	SyncedToCloud      bool       `json:"synced_to_cloud"`
	SyncedAt           *time.Time `json:"synced_at,omitempty"`
}

// HasCompleted reports whether the question was already answered.
func (p UserProgress) HasCompleted(questionID string) bool {
	return containsString(p.QuestionsCompleted, questionID)
}

// HasCorrect reports whether the question was already answered correctly.
func (p UserProgress) HasCorrect(questionID string) bool {
	return containsString(p.QuestionsCorrect, questionID)
}

// CalculateMasteryLevel computes the 0-100 mastery score, weighted 70% accuracy
// and 30% completion. Rounding is half-away-from-zero, so 75% accuracy with
// full completion yields 83.
func CalculateMasteryLevel(completed, correct, totalQuestions int) int {
	if totalQuestions == 0 {
		return 0
	}
	completionRate := float64(completed) / float64(totalQuestions)
	accuracy := 0.0
	if completed > 0 {
		accuracy = float64(correct) / float64(completed)
	}
	return int(math.Round((accuracy*0.7 + completionRate*0.3) * 100))
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
