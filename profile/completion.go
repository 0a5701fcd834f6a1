package profile

import (
	"time"

	lesson "github.com/linguapulse/lesson"
)

// NextLessonHour is the local hour at which the next lesson unlocks.
const NextLessonHour = 2

// Completion holds the profile fields written when a lesson finishes.
type Completion struct {
	LessonsTotal   int
	LessonsLeft    int
	CurrentStreak  int
	LastLessonDate time.Time // midnight UTC of the local calendar day
	NextLessonAt   time.Time

	// FreeLessonCompletedAt is set for free lessons only.
	FreeLessonCompletedAt *time.Time
}

// PlanCompletion computes the fields to write for a lesson of kind that
// finished at now, with calendar days taken in loc.
func PlanCompletion(p *Profile, kind lesson.Kind, now time.Time, loc *time.Location) Completion {
	if loc == nil {
		loc = time.UTC
	}
	today := civilDate(now.In(loc))

	c := Completion{
		LessonsTotal:   p.LessonsTotal + 1,
		LessonsLeft:    p.LessonsLeft,
		CurrentStreak:  nextStreak(p.CurrentStreak, p.LastLessonDate, today),
		LastLessonDate: today,
		NextLessonAt:   tomorrowAt(now.In(loc), NextLessonHour),
	}

	switch kind {
	case lesson.KindPaid:
		if c.LessonsLeft > 0 {
			c.LessonsLeft--
		}
	case lesson.KindFree:
		at := now
		c.FreeLessonCompletedAt = &at
	}
	return c
}

// Apply writes c into p.
func (c Completion) Apply(p *Profile) {
	p.LessonsTotal = c.LessonsTotal
	p.LessonsLeft = c.LessonsLeft
	p.CurrentStreak = c.CurrentStreak
	day := c.LastLessonDate
	p.LastLessonDate = &day
	next := c.NextLessonAt
	p.NextLessonAt = &next
	if c.FreeLessonCompletedAt != nil {
		p.FreeLessonCompletedAt = c.FreeLessonCompletedAt
	}
}

// nextStreak continues the streak after a lesson yesterday, keeps it after a
// lesson earlier today, and restarts it otherwise.
func nextStreak(streak int, last *time.Time, today time.Time) int {
	if last == nil {
		return 1
	}
	lastDay := civilDate(*last)
	switch {
	case lastDay.Equal(today):
		if streak < 1 {
			return 1
		}
		return streak
	case lastDay.Equal(today.AddDate(0, 0, -1)):
		return streak + 1
	default:
		return 1
	}
}

// civilDate keeps the calendar date of t as midnight UTC.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func tomorrowAt(local time.Time, hour int) time.Time {
	y, m, d := local.Date()
	return time.Date(y, m, d+1, hour, 0, 0, 0, local.Location())
}
