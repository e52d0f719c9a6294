package worker

import (
	"time"

	"github.com/eventstreamhq/engine/internal/domain"
)

// inQuietHours reports whether now falls inside the campaign's quiet
// window for the given user. The window is evaluated on the user's
// wall clock when their timezone attribute resolves, UTC otherwise.
// A window whose start is after its end wraps midnight.
func inQuietHours(c *domain.Campaign, u *domain.User, now time.Time) bool {
	if !c.HasQuietHours() {
		return false
	}
	start, okStart := parseClock(*c.QuietHoursStart)
	end, okEnd := parseClock(*c.QuietHoursEnd)
	if !okStart || !okEnd {
		return false
	}

	loc := time.UTC
	if tz := u.Attributes["timezone"]; tz != "" {
		if resolved, err := time.LoadLocation(tz); err == nil {
			loc = resolved
		}
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	if start <= end {
		return cur >= start && cur <= end
	}
	// Wrapped window, e.g. 21:00 to 08:00.
	return cur >= start || cur <= end
}

// parseClock turns "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
