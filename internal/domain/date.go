package domain

import (
	"math"
	"time"
)

// The puzzle day rolls over at local midnight in a fixed reference timezone
// (configured as a UTC offset), independent of the server process timezone.

const dateLayout = "2006-01-02"

// firstPuzzleDate anchors puzzle numbering
var firstPuzzleDate = time.Date(2023, 6, 12, 0, 0, 0, 0, time.UTC)

// ReferenceZone returns the fixed game-day timezone for a UTC offset in hours
func ReferenceZone(offsetHours int) *time.Location {
	return time.FixedZone("game", offsetHours*3600)
}

// GameDay formats the calendar date of t in the reference zone
func GameDay(t time.Time, zone *time.Location) string {
	return t.In(zone).Format(dateLayout)
}

// Today returns the current game date in the reference zone
func Today(zone *time.Location) string {
	return GameDay(time.Now(), zone)
}

// AddDays shifts a YYYY-MM-DD date by a number of days. A malformed input is
// returned unchanged.
func AddDays(date string, days int) string {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, days).Format(dateLayout)
}

// ValidDate reports whether s is a YYYY-MM-DD calendar date
func ValidDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// PuzzleNumber returns the daily puzzle index for a game date
func PuzzleNumber(date string) int {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return 0
	}
	// Noon avoids boundary ambiguity, matching the upstream numbering
	hours := t.Add(12 * time.Hour).Sub(firstPuzzleDate).Hours()
	if hours < 0 {
		hours = -hours
	}
	return int(math.Ceil(hours / 24))
}
