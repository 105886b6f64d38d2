package tracking

import "errors"

var (
	ErrNotTrackable      = errors.New("order not trackable")
	ErrSourceUnavailable = errors.New("position source unavailable")
	// ErrNoReading is returned by a Poller that has nothing new yet.
	ErrNoReading = errors.New("no position reading")
)
