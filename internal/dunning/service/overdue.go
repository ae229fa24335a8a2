package service

import "time"

// overdueDays returns whole days past due at the reference instant, with the
// account grace period subtracted, floored at zero. Grace always applies
// before step matching; the global default threshold is not used here.
func overdueDays(dueAt, at time.Time, graceDays int) int {
	if at.Before(dueAt) {
		return 0
	}
	raw := int(at.Sub(dueAt) / (24 * time.Hour))
	if graceDays > 0 {
		raw -= graceDays
	}
	if raw < 0 {
		return 0
	}
	return raw
}
