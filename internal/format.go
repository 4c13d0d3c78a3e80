package internal

import (
	"fmt"
	"time"
)

// FormatMessage renders the human-readable line stored alongside each
// event. The wording is part of the read contract and must not drift.
func FormatMessage(e Event) string {
	ts := FormatTimestamp(e.Timestamp)
	switch e.Action {
	case ActionPush:
		return fmt.Sprintf("%s pushed to %q on %s", e.Author, e.ToBranch, ts)
	case ActionPullRequest:
		return fmt.Sprintf("%s submitted a pull request from %q to %q on %s", e.Author, e.FromBranch, e.ToBranch, ts)
	case ActionMerge:
		return fmt.Sprintf("%s merged branch %q to %q on %s", e.Author, e.FromBranch, e.ToBranch, ts)
	default:
		return ""
	}
}

// FormatTimestamp renders an instant as e.g. "1st April 2021 - 9:30 PM UTC".
// The input is converted to UTC first.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	day := t.Day()
	hour := t.Hour()
	meridiem := "AM"
	if hour >= 12 {
		meridiem = "PM"
	}
	hour12 := hour % 12
	if hour12 == 0 {
		hour12 = 12
	}
	return fmt.Sprintf("%d%s %s %d - %d:%02d %s UTC",
		day, ordinalSuffix(day), t.Month().String(), t.Year(), hour12, t.Minute(), meridiem)
}

func ordinalSuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}
