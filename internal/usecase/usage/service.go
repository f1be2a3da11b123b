// Package usage reports remote token spend and the tokens local routing saved.
package usage

import (
	"context"
	"time"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
)

// Period is a reporting window aligned to UTC calendar boundaries.
type Period string

// Periods.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod maps a query parameter to a Period; empty means day.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodDay:
		return PeriodDay, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", domain.NewValidationError("invalid_period", s)
	}
}

// Report is the usage of one period. Limit 0 and Remaining -1 mean unlimited.
type Report struct {
	Period          Period
	PeriodStart     time.Time
	PeriodEnd       time.Time
	RemoteTokens    int64
	RemoteLimit     int64
	RemoteRemaining int64
	Exhausted       bool
	TokensSaved     int64
}

// Service builds usage reports from the remote and saved ledgers.
type Service struct {
	remote LedgerReader
	saved  LedgerReader
	now    func() time.Time
}

// New creates a Service. Either ledger can be nil.
func New(remote, saved LedgerReader) *Service {
	return &Service{remote: remote, saved: saved, now: time.Now}
}

// GetReport builds a usage report for the given period.
func (s *Service) GetReport(_ context.Context, period Period) Report {
	now := s.now().UTC()
	r := Report{Period: period, RemoteRemaining: -1}

	if period == PeriodMonth {
		r.PeriodStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		r.PeriodEnd = r.PeriodStart.AddDate(0, 1, 0)
	} else {
		r.Period = PeriodDay
		r.PeriodStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		r.PeriodEnd = r.PeriodStart.AddDate(0, 0, 1)
	}

	if s.remote != nil {
		u := s.remote.Usage()
		used, limit := u.DailyUsed, u.DailyLimit
		if r.Period == PeriodMonth {
			used, limit = u.MonthlyUsed, u.MonthlyLimit
		}
		r.RemoteTokens = used
		r.RemoteLimit = limit
		if limit > 0 {
			r.RemoteRemaining = max(limit-used, 0)
			r.Exhausted = used >= limit
		}
	}

	if s.saved != nil {
		u := s.saved.Usage()
		r.TokensSaved = u.DailyUsed
		if r.Period == PeriodMonth {
			r.TokensSaved = u.MonthlyUsed
		}
	}
	return r
}
