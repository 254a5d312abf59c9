package cache

import "time"

// clock abstracts the current time so staleness can be tested.
type clock interface {
	Now() time.Time
}

type systemClock struct{}

var _ clock = systemClock{}

func (systemClock) Now() time.Time {
	return time.Now()
}
