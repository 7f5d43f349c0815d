package reconcile

import (
	"context"
	"testing"
	"time"
)

func TestFullSweepRepairsAllUsers(t *testing.T) {
	f := newFixture(t)

	// Two drifted users and one clean one, paged in batches of 2.
	f.seedUser(1, 999, 0, 1)
	f.seedEntries(1, 30)
	f.seedUser(2, 50, 50, 1)
	f.seedEntries(2, 50)
	f.seedUser(3, 777, 0, 1)
	f.seedEntries(3, 10)

	report, err := f.engine.FullSweep(context.Background(), SweepConfig{BatchSize: 2})
	if err != nil {
		t.Fatalf("FullSweep: %v", err)
	}

	if report.UsersChecked != 3 {
		t.Fatalf("expected 3 users checked, got %d", report.UsersChecked)
	}
	if report.UsersWithIssues != 2 {
		t.Fatalf("expected 2 users with issues, got %d", report.UsersWithIssues)
	}
	if report.Interrupted {
		t.Fatalf("sweep flagged as interrupted")
	}

	for _, id := range []int64{1, 3} {
		u := f.users.users[id]
		if u.Balance != u.LifetimeEarned {
			t.Fatalf("user %d projection not repaired: balance=%d lifetime=%d", id, u.Balance, u.LifetimeEarned)
		}
	}
	if f.users.users[2].Balance != 50 {
		t.Fatalf("clean user was modified")
	}
}

func TestFullSweepStopsAtDeadline(t *testing.T) {
	f := newFixture(t)
	for id := int64(1); id <= 20; id++ {
		f.seedUser(id, 0, 0, 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	report, err := f.engine.FullSweep(ctx, SweepConfig{BatchSize: 5, UserPause: 50 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected context error from interrupted sweep")
	}
	if !report.Interrupted {
		t.Fatalf("interrupted sweep not flagged")
	}
	if report.UsersChecked >= 20 {
		t.Fatalf("sweep finished despite the deadline")
	}
}
