package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestNewCronSchedulerRejectsBadSpec(t *testing.T) {
	t.Parallel()

	if _, err := NewCronScheduler("every day please", false); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCronSchedulerRunOnStart(t *testing.T) {
	t.Parallel()

	s, err := NewCronScheduler("0 3 * * *", true)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	fired := make(chan time.Time, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, func(at time.Time) { fired <- at }); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case at := <-fired:
		if at.Location() != time.UTC {
			t.Fatalf("expected UTC firing time, got %v", at.Location())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not run on start")
	}

	next := s.Next()
	if next.IsZero() || next.Hour() != 3 || next.Minute() != 0 {
		t.Fatalf("unexpected next firing: %v", next)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !s.Next().IsZero() {
		t.Fatalf("expected stopped scheduler to report no next run")
	}
}
