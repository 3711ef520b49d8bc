/**
 * @description
 * This file defines the persisted daily-practice streak state. One record exists
 * per user. The transition and query logic lives in the app package; this type is
 * only the stored shape. Invariant: LongestStreak >= CurrentStreak at all times,
 * and LastPracticedDate only ever advances.
 */
package domain

import "time"

// StreakState is the stored per-user streak record. LastPracticedDate is a
// calendar date (UTC midnight), not an instant; nil means the user has never
// practiced.
type StreakState struct {
	UserID             string     `json:"user_id"`
	CurrentStreak      int        `json:"current_streak"`
	LongestStreak      int        `json:"longest_streak"`
	LastPracticedDate  *time.Time `json:"last_practiced_date,omitempty"`
	TotalDaysPracticed int        `json:"total_days_practiced"`
}

// StreakStatus is the derived, never-persisted view of a streak at a point in
// time.
type StreakStatus struct {
	CurrentStreak  int  `json:"current_streak"`
	LongestStreak  int  `json:"longest_streak"`
	CanRescue      bool `json:"can_rescue"`
	DaysUntilReset int  `json:"days_until_reset"`
	IsOnFire       bool `json:"is_on_fire"`
	NextMilestone  int  `json:"next_milestone"`
}
