package services

import (
	"cmp"
	"context"
	"errors"
	"time"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/repositories"
)

// BuildInfo is the release metadata reported by /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health repositories.HealthRepository
	clock  func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	s := &systemService{health: deps.HealthRepository, clock: utcClock(deps.Clock), build: deps.Build}
	if s.build.StartedAt.IsZero() {
		s.build.StartedAt = s.clock()
	}
	return s, nil
}

// HealthReport collects dependency probes and fills build metadata the
// repository left empty. The report is returned even when err is set.
func (s *systemService) HealthReport(ctx context.Context) (domain.HealthReport, error) {
	report, err := s.health.Collect(ctx)
	now := s.clock()

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = cmp.Or(report.Version, s.build.Version)
	report.CommitSHA = cmp.Or(report.CommitSHA, s.build.CommitSHA)
	report.Environment = cmp.Or(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.DependencyHealth{}
	}
	if report.Status == "" {
		report.Status = worstStatus(report.Checks)
	}
	return report, err
}

func worstStatus(checks map[string]domain.DependencyHealth) string {
	status := domain.HealthStatusOK
	for _, c := range checks {
		switch c.Status {
		case domain.HealthStatusError:
			return domain.HealthStatusError
		case domain.HealthStatusOK, "":
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
