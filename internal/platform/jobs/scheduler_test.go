package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordedRun struct {
	job string
	err error
}

type stubRecorder struct {
	runs []recordedRun
}

func (s *stubRecorder) JobRun(job string, err error) {
	s.runs = append(s.runs, recordedRun{job: job, err: err})
}

func TestSchedulerRunNowRecordsOutcome(t *testing.T) {
	recorder := &stubRecorder{}
	scheduler := NewScheduler(nil, recorder)
	defer scheduler.Stop()

	calls := 0
	if err := scheduler.Register(Job{Name: "reconcile", Interval: time.Hour, Run: func(ctx context.Context) error {
		calls++
		if _, ok := ctx.Deadline(); !ok {
			t.Fatal("expected deadline on job context")
		}
		return nil
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := scheduler.RunNow("reconcile"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
	if len(recorder.runs) != 1 || recorder.runs[0].job != "reconcile" || recorder.runs[0].err != nil {
		t.Fatalf("unexpected recorder state %#v", recorder.runs)
	}
}

func TestSchedulerRecoversPanics(t *testing.T) {
	recorder := &stubRecorder{}
	scheduler := NewScheduler(nil, recorder)
	defer scheduler.Stop()

	_ = scheduler.Register(Job{Name: "boom", Interval: time.Hour, Run: func(context.Context) error {
		panic("unexpected")
	}})
	if err := scheduler.RunNow("boom"); err == nil {
		t.Fatal("expected error from panicking job")
	}
	if len(recorder.runs) != 1 || recorder.runs[0].err == nil {
		t.Fatalf("expected failed run recorded, got %#v", recorder.runs)
	}
}

func TestSchedulerRegisterValidation(t *testing.T) {
	scheduler := NewScheduler(nil, nil)
	defer scheduler.Stop()

	noop := func(context.Context) error { return nil }
	cases := []Job{
		{Name: "", Interval: time.Minute, Run: noop},
		{Name: "a", Interval: 0, Run: noop},
		{Name: "a", Interval: time.Minute},
	}
	for _, job := range cases {
		if err := scheduler.Register(job); err == nil {
			t.Fatalf("expected error for %#v", job)
		}
	}
	if err := scheduler.Register(Job{Name: "dup", Interval: time.Minute, Run: noop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := scheduler.Register(Job{Name: "dup", Interval: time.Minute, Run: noop}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := scheduler.RunNow("missing"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestSchedulerStopCancelsRuns(t *testing.T) {
	scheduler := NewScheduler(nil, nil)
	_ = scheduler.Register(Job{Name: "wait", Interval: time.Hour, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	scheduler.Stop()
	if err := scheduler.RunNow("wait"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
