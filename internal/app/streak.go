/**
 * @description
 * This file contains the daily-practice streak logic: a pure date-arithmetic
 * state machine over (lastPracticedDate, today) with a two-day grace window.
 * All date math is done on UTC calendar dates, never instants, so a user can
 * only advance the streak once per calendar day.
 */
package app

import (
	"time"

	"github.com/bookin/entitlement-service/internal/domain"
)

// StreakPhase classifies a streak relative to today. One phase holds at any
// moment; the practice transition and the status query both branch on it.
type StreakPhase int

const (
	StreakNeverPracticed StreakPhase = iota
	StreakPracticedToday
	StreakInGracePeriod // missed at most one full day; practicing now rescues
	StreakBroken
)

// Ordered milestone ladder; past the last entry milestones advance by tens.
var streakMilestones = []int{3, 7, 14, 20, 30, 50, 100}

// practiceDate truncates an instant to its UTC calendar date.
func practiceDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the number of whole calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(practiceDate(b).Sub(practiceDate(a)).Hours() / 24)
}

// streakPhase derives the current phase and the day gap since the last practice.
func streakPhase(lastPracticed *time.Time, now time.Time) (StreakPhase, int) {
	if lastPracticed == nil {
		return StreakNeverPracticed, 0
	}
	gap := daysBetween(*lastPracticed, now)
	switch {
	case gap <= 0:
		return StreakPracticedToday, 0
	case gap <= 2:
		return StreakInGracePeriod, gap
	default:
		return StreakBroken, gap
	}
}

// AdvanceStreak applies one practice event to the stored streak state and
// returns the new state. Calling it twice on the same calendar day is a no-op
// after the first call. A gap of exactly two days still continues the streak;
// three or more resets it to 1, since practicing today always counts as day one
// of a streak.
func AdvanceStreak(state domain.StreakState, now time.Time) domain.StreakState {
	phase, _ := streakPhase(state.LastPracticedDate, now)
	if phase == StreakPracticedToday {
		return state
	}

	newStreak := 1
	if phase == StreakInGracePeriod {
		newStreak = state.CurrentStreak + 1
	}

	today := practiceDate(now)
	state.CurrentStreak = newStreak
	if newStreak > state.LongestStreak {
		state.LongestStreak = newStreak
	}
	state.LastPracticedDate = &today
	state.TotalDaysPracticed++
	return state
}

// StreakStatusAt derives the presentation view of a streak at an instant. It is
// a pure function of stored state and the clock; nothing here is persisted. A
// broken streak reads as zero even though the stored counter only resets on the
// next practice.
func StreakStatusAt(state domain.StreakState, now time.Time) domain.StreakStatus {
	phase, gap := streakPhase(state.LastPracticedDate, now)

	status := domain.StreakStatus{
		CurrentStreak: state.CurrentStreak,
		LongestStreak: state.LongestStreak,
	}

	switch phase {
	case StreakNeverPracticed, StreakBroken:
		status.CurrentStreak = 0
		status.NextMilestone = streakMilestones[0]
	case StreakPracticedToday:
		status.IsOnFire = state.CurrentStreak >= 3
		status.NextMilestone = NextMilestone(state.CurrentStreak)
	case StreakInGracePeriod:
		status.CanRescue = true
		status.DaysUntilReset = 3 - gap
		status.IsOnFire = state.CurrentStreak >= 3
		status.NextMilestone = NextMilestone(state.CurrentStreak)
	}
	return status
}

// NextMilestone returns the smallest milestone strictly greater than the
// current streak. Beyond the ladder it advances in steps of ten.
func NextMilestone(currentStreak int) int {
	for _, milestone := range streakMilestones {
		if currentStreak < milestone {
			return milestone
		}
	}
	return currentStreak + 10
}
