package gc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type runnerFunc func(ctx context.Context) Report

func (f runnerFunc) RunPass(ctx context.Context) Report { return f(ctx) }

func TestScheduler_RunsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int32
	s, err := NewScheduler("@every 1s", runnerFunc(func(context.Context) Report {
		runs.Add(1)
		return Report{}
	}), zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("scheduler never ran a pass")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestScheduler_StopCancelsRunningPass(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	s, err := NewScheduler("@every 1s", runnerFunc(func(ctx context.Context) Report {
		close(started)
		<-ctx.Done()
		return Report{}
	}), zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("pass never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	if _, err := NewScheduler("every hour", runnerFunc(func(context.Context) Report { return Report{} }), nil); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
