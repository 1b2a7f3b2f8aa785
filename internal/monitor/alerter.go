package monitor

import (
	"sync"
	"time"

	"torrentbridge/internal/events"
)

// DefaultAlertThreshold is how long continuous poll failure must last
// before the one-shot alert fires.
const DefaultAlertThreshold = 10 * time.Minute

// alerter tracks the duration of continuous poll failure. The first failure
// after a success opens a window; once the window has been open for the
// threshold, exactly one alert is produced, regardless of how many further
// cycles fail. Any success closes the window and re-arms the alert.
// Thread-safe; owned by a single Engine instance.
type alerter struct {
	mu        sync.Mutex
	service   string
	threshold time.Duration
	nowFunc   func() time.Time // injectable for testing

	firstFailure time.Time // zero while no window is open
	alertSent    bool      // true only while firstFailure is set
}

func newAlerter(service string, threshold time.Duration) *alerter {
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}

	return &alerter{
		service:   service,
		threshold: threshold,
		nowFunc:   time.Now,
	}
}

// observeFailure records a failed poll and returns the alert to publish, or
// nil when no alert is due (window too young, or already alerted).
func (a *alerter) observeFailure(err error) *events.PollingFailure {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.nowFunc()

	if a.firstFailure.IsZero() {
		a.firstFailure = now
	}

	elapsed := now.Sub(a.firstFailure)
	if a.alertSent || elapsed < a.threshold {
		return nil
	}

	a.alertSent = true

	return &events.PollingFailure{
		Service:        a.service,
		Error:          err.Error(),
		FailingSinceMs: elapsed.Milliseconds(),
		Timestamp:      now.UnixMilli(),
	}
}

// observeSuccess closes the failure window unconditionally, whether or not
// an alert was ever sent.
func (a *alerter) observeSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.firstFailure = time.Time{}
	a.alertSent = false
}
