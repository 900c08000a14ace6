package timeoff

import "time"

// Presence is where an employee is at a given instant, as far as accepted
// requests say.
type Presence string

const (
	PresenceAtWork  Presence = "at_work"
	PresenceOnLeave Presence = "on_leave"
	PresenceSick    Presence = "sick"
)

// PresenceAt derives presence from requests covering at. Only accepted
// requests count; sick leave wins over any other absence.
func PresenceAt(requests []Request, at time.Time) Presence {
	p := PresenceAtWork
	for _, r := range requests {
		if r.Status != StatusAccepted || !r.Covers(at) {
			continue
		}
		if r.Kind == KindSickLeave {
			return PresenceSick
		}
		p = PresenceOnLeave
	}
	return p
}
