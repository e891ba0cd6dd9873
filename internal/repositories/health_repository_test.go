package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mercadoparceiro/api/internal/domain"
)

func TestDependencyHealthRepositoryAllHealthy(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "postgres", Critical: true, Check: func(context.Context) error { return nil }},
		{Name: "redis", Check: func(context.Context) error { return nil }},
	}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK || len(report.Checks) != 2 {
		t.Fatalf("unexpected report %#v", report)
	}
	if report.Checks["postgres"].CheckedAt != now {
		t.Fatalf("expected injected clock, got %v", report.Checks["postgres"].CheckedAt)
	}
}

func TestDependencyHealthRepositoryNonCriticalFailureDegrades(t *testing.T) {
	repo, _ := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "postgres", Critical: true, Check: func(context.Context) error { return nil }},
		{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	}, nil)

	report, _ := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Checks["redis"].Detail != "connection refused" {
		t.Fatalf("unexpected detail %q", report.Checks["redis"].Detail)
	}
}

func TestDependencyHealthRepositoryCriticalTimeout(t *testing.T) {
	repo, _ := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "postgres", Critical: true, Timeout: 5 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		{Name: "redis", Check: func(context.Context) error { return errors.New("down") }},
	}, nil)

	report, _ := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if report.Checks["postgres"].Detail != "timeout" {
		t.Fatalf("expected timeout detail, got %q", report.Checks["postgres"].Detail)
	}
}

func TestNewDependencyHealthRepositoryValidates(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil, nil); err == nil {
		t.Fatal("expected error for empty checks")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "x"}}, nil); err == nil {
		t.Fatal("expected error for missing check func")
	}
}
