package domain

import "time"

// ReflectionEntry is a free-form note a user writes against a question while
// training. Entries are append-only and listed newest first.
type ReflectionEntry struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	BookID      string     `json:"book_id"`
	QuestionID  string     `json:"question_id"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
