package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mercadoparceiro/api/internal/domain"
)

const (
	defaultProbeTimeout = 1500 * time.Millisecond
	maxProbeDetail      = 200
)

// DependencyCheck probes one backing service for /readyz. Postgres is
// registered as Critical; Redis and Secret Manager only degrade the report.
type DependencyCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

type dependencyHealthRepository struct {
	checks []DependencyCheck
	now    func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

func NewDependencyHealthRepository(checks []DependencyCheck, clock func() time.Time) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks")
	}
	for i, c := range checks {
		if strings.TrimSpace(c.Name) == "" || c.Check == nil {
			return nil, fmt.Errorf("health: check %d needs a name and a probe", i)
		}
	}
	if clock == nil {
		clock = time.Now
	}
	return &dependencyHealthRepository{checks: append([]DependencyCheck(nil), checks...), now: clock}, nil
}

// Collect runs every probe concurrently; the slowest one bounds the call.
func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	results := make([]domain.DependencyHealth, len(r.checks))
	var g errgroup.Group
	for i, c := range r.checks {
		g.Go(func() error {
			results[i] = r.probe(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := domain.HealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.DependencyHealth, len(results)),
		GeneratedAt: r.now(),
	}
	for i, res := range results {
		report.Checks[r.checks[i].Name] = res
		if res.Status == domain.HealthStatusOK {
			continue
		}
		if r.checks[i].Critical {
			report.Status = domain.HealthStatusError
		} else if report.Status == domain.HealthStatusOK {
			report.Status = domain.HealthStatusDegraded
		}
	}
	return report, nil
}

func (r *dependencyHealthRepository) probe(ctx context.Context, c DependencyCheck) domain.DependencyHealth {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := r.now()
	err := c.Check(ctx)
	if err == nil {
		err = ctx.Err()
	}
	finished := r.now()

	res := domain.DependencyHealth{Status: domain.HealthStatusOK, Detail: "ok", Latency: finished.Sub(started), CheckedAt: finished}
	if err != nil {
		res.Status = domain.HealthStatusError
		res.Detail = probeDetail(err)
	}
	return res
}

func probeDetail(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	detail := err.Error()
	if len(detail) > maxProbeDetail {
		detail = detail[:maxProbeDetail]
	}
	return detail
}
