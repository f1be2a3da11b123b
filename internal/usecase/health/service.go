package health

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
	"github.com/kailas-cloud/hybridcoord/internal/metrics"
)

// Status represents an aggregated or per-dependency health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "healthy"
	// Degraded indicates a non-critical dependency is failing.
	Degraded Status = "degraded"
	// Unhealthy indicates a critical dependency is failing.
	Unhealthy Status = "unhealthy"
)

// CheckType names the probe kind.
type CheckType string

// Probe kinds.
const (
	Live    CheckType = "live"
	Ready   CheckType = "ready"
	Startup CheckType = "startup"
)

// DefaultTimeout bounds each check when neither the check nor the service sets one.
const DefaultTimeout = 5 * time.Second

// Record is the outcome of one check run. Never persisted.
type Record struct {
	Name      string
	Critical  bool
	Status    Status
	Error     string
	Duration  time.Duration
	CheckedAt time.Time
}

// Report aggregates health check results.
type Report struct {
	CheckType CheckType
	Status    Status
	Message   string
	Details   map[string]Record
	Duration  time.Duration
}

// Healthy reports whether the named dependency passed. Unknown names are unhealthy.
func (r Report) Healthy(name string) bool {
	rec, ok := r.Details[name]
	return ok && rec.Status == Healthy
}

// Service aggregates dependency checks into liveness, readiness and startup reports.
type Service struct {
	mu      sync.RWMutex
	checks  []Check
	startup []Check

	started   atomic.Bool
	startedAt time.Time
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a Service. A non-positive timeout uses DefaultTimeout.
func New(timeout time.Duration, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{startedAt: time.Now(), timeout: timeout, logger: logger}
}

// Register adds a readiness check.
func (s *Service) Register(c Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, c)
}

// RegisterStartup adds a startup check. Startup checks are always critical.
func (s *Service) RegisterStartup(c Check) {
	c.Critical = true
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startup = append(s.startup, c)
}

// Live reports process liveness without touching dependencies.
func (s *Service) Live(_ context.Context) Report {
	return Report{
		CheckType: Live,
		Status:    Healthy,
		Message:   "uptime " + time.Since(s.startedAt).Truncate(time.Second).String(),
	}
}

// Ready runs every readiness check concurrently.
func (s *Service) Ready(ctx context.Context) Report {
	s.mu.RLock()
	checks := slices.Clone(s.checks)
	s.mu.RUnlock()

	start := time.Now()
	records := s.run(ctx, checks)
	for _, rec := range records {
		v := 0.0
		if rec.Status == Healthy {
			v = 1
		}
		metrics.DependencyHealth.WithLabelValues(rec.Name).Set(v)
		metrics.HealthCheckDuration.WithLabelValues(rec.Name).Observe(rec.Duration.Seconds())
	}
	return aggregate(Ready, records, time.Since(start))
}

// Startup runs the startup checks until they all pass once, then stays healthy.
func (s *Service) Startup(ctx context.Context) Report {
	if s.started.Load() {
		return Report{CheckType: Startup, Status: Healthy, Message: "started"}
	}

	s.mu.RLock()
	checks := slices.Clone(s.startup)
	s.mu.RUnlock()

	start := time.Now()
	records := s.run(ctx, checks)
	report := aggregate(Startup, records, time.Since(start))
	if report.Status == Healthy {
		s.started.Store(true)
		s.logger.Info("Startup checks passed", zap.Int("checks", len(records)))
	}
	return report
}

// Started reports whether the startup checks have passed.
func (s *Service) Started() bool { return s.started.Load() }

func (s *Service) run(ctx context.Context, checks []Check) []Record {
	records := make([]Record, len(checks))

	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			records[i] = s.runOne(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return records
}

// runOne enforces the timeout even when the check ignores its context.
func (s *Service) runOne(ctx context.Context, c Check) Record {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("check panicked: %v", r)
			}
		}()
		done <- c.Fn(cctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-cctx.Done():
		err = fmt.Errorf("timed out after %s: %w", timeout, cctx.Err())
	}

	rec := Record{
		Name:      c.Name,
		Critical:  c.Critical,
		Status:    Healthy,
		Duration:  time.Since(start),
		CheckedAt: start.UTC(),
	}
	if err != nil {
		rec.Status = Unhealthy
		rec.Error = fmt.Errorf("%w: %w", domain.ErrDependencyUnhealthy, err).Error()
		s.logger.Warn("Dependency check failed",
			zap.String("dependency", c.Name),
			zap.Bool("critical", c.Critical),
			zap.Error(err),
		)
	}
	return rec
}

func aggregate(ct CheckType, records []Record, took time.Duration) Report {
	details := make(map[string]Record, len(records))
	var critical, optional []string
	for _, rec := range records {
		details[rec.Name] = rec
		if rec.Status == Healthy {
			continue
		}
		if rec.Critical {
			critical = append(critical, rec.Name)
		} else {
			optional = append(optional, rec.Name)
		}
	}
	sort.Strings(critical)
	sort.Strings(optional)

	r := Report{CheckType: ct, Status: Healthy, Message: "all dependencies healthy", Details: details, Duration: took}
	switch {
	case len(critical) > 0:
		r.Status = Unhealthy
		r.Message = "critical dependency failing: " + strings.Join(critical, ", ")
	case len(optional) > 0:
		r.Status = Degraded
		r.Message = "non-critical dependency failing: " + strings.Join(optional, ", ")
	}
	return r
}
