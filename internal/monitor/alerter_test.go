package monitor

import (
	"errors"
	"testing"
	"time"
)

var errPoll = errors.New("connect: connection refused")

func TestAlerter_NoAlertBeforeThreshold(t *testing.T) {
	t.Parallel()

	a := newAlerter("torrentbridge", 10*time.Minute)

	now := time.Now()
	a.nowFunc = func() time.Time { return now }

	if alert := a.observeFailure(errPoll); alert != nil {
		t.Fatal("first failure must not alert")
	}

	a.nowFunc = func() time.Time { return now.Add(9 * time.Minute) }

	if alert := a.observeFailure(errPoll); alert != nil {
		t.Fatal("failure before threshold must not alert")
	}
}

func TestAlerter_FiresExactlyOncePerWindow(t *testing.T) {
	t.Parallel()

	a := newAlerter("torrentbridge", 10*time.Minute)

	now := time.Now()
	a.nowFunc = func() time.Time { return now }
	a.observeFailure(errPoll)

	a.nowFunc = func() time.Time { return now.Add(10 * time.Minute) }

	alert := a.observeFailure(errPoll)
	if alert == nil {
		t.Fatal("failure at threshold must alert")
	}

	if alert.Service != "torrentbridge" {
		t.Errorf("alert service = %q, want torrentbridge", alert.Service)
	}

	if alert.Error != errPoll.Error() {
		t.Errorf("alert error = %q, want %q", alert.Error, errPoll.Error())
	}

	if alert.FailingSinceMs != (10 * time.Minute).Milliseconds() {
		t.Errorf("alert failingSinceMs = %d, want %d", alert.FailingSinceMs, (10 * time.Minute).Milliseconds())
	}

	// Further failures in the same open window stay silent.
	a.nowFunc = func() time.Time { return now.Add(3 * time.Hour) }

	if again := a.observeFailure(errPoll); again != nil {
		t.Fatal("second alert within the same failure window")
	}
}

func TestAlerter_SuccessResetsWindowAndSentFlag(t *testing.T) {
	t.Parallel()

	a := newAlerter("torrentbridge", 10*time.Minute)

	now := time.Now()
	a.nowFunc = func() time.Time { return now }
	a.observeFailure(errPoll)

	a.nowFunc = func() time.Time { return now.Add(11 * time.Minute) }

	if a.observeFailure(errPoll) == nil {
		t.Fatal("expected alert after threshold")
	}

	a.observeSuccess()

	// New window: timer restarts, alert re-arms.
	restart := now.Add(time.Hour)
	a.nowFunc = func() time.Time { return restart }

	if alert := a.observeFailure(errPoll); alert != nil {
		t.Fatal("fresh window must not alert immediately")
	}

	a.nowFunc = func() time.Time { return restart.Add(10 * time.Minute) }

	if a.observeFailure(errPoll) == nil {
		t.Fatal("fresh window must alert again once the threshold passes")
	}
}

func TestAlerter_SuccessWithoutAlertStillResets(t *testing.T) {
	t.Parallel()

	a := newAlerter("torrentbridge", 10*time.Minute)

	now := time.Now()
	a.nowFunc = func() time.Time { return now }
	a.observeFailure(errPoll)
	a.observeSuccess()

	// The old window's age must not leak into the new one.
	a.nowFunc = func() time.Time { return now.Add(15 * time.Minute) }

	if alert := a.observeFailure(errPoll); alert != nil {
		t.Fatal("window age must reset on success")
	}
}
