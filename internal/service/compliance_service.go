package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/money"

	"github.com/rs/zerolog"
)

// ComplianceRules holds the regulatory thresholds.
type ComplianceRules struct {
	RestrictedStates      []string
	EnhancedKYCStates     []string
	EnhancedKYCThreshold  money.Money
	DailyWithdrawalLimit  money.Money
	WeeklyWithdrawalLimit money.Money
	AMOEPerDay            int
	AMOEPer30Days         int
}

// DefaultComplianceRules returns the production thresholds.
func DefaultComplianceRules() ComplianceRules {
	return ComplianceRules{
		RestrictedStates:      []string{"WA", "ID"},
		EnhancedKYCStates:     []string{"NY", "FL", "TX"},
		EnhancedKYCThreshold:  money.MustParse("2000.0000"),
		DailyWithdrawalLimit:  money.MustParse("5000.0000"),
		WeeklyWithdrawalLimit: money.MustParse("25000.0000"),
		AMOEPerDay:            1,
		AMOEPer30Days:         30,
	}
}

type complianceCheck struct {
	name string
	run  func(ctx context.Context, req domain.OperationRequest, now time.Time) error
}

// ComplianceService runs the ordered gate chain: state, self-exclusion, KYC,
// limits. The first failing check wins. Checks never write.
type ComplianceService struct {
	ledger     ports.LedgerRepository
	rules      ComplianceRules
	restricted map[string]struct{}
	enhanced   map[string]struct{}
	checks     []complianceCheck
	metrics    ports.Metrics
	now        func() time.Time
	log        zerolog.Logger
}

// NewComplianceService creates a new ComplianceService. metrics may be nil.
func NewComplianceService(ledger ports.LedgerRepository, rules ComplianceRules, metrics ports.Metrics, log zerolog.Logger) *ComplianceService {
	s := &ComplianceService{
		ledger:     ledger,
		rules:      rules,
		restricted: make(map[string]struct{}, len(rules.RestrictedStates)),
		enhanced:   make(map[string]struct{}, len(rules.EnhancedKYCStates)),
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
	for _, st := range rules.RestrictedStates {
		s.restricted[strings.ToUpper(st)] = struct{}{}
	}
	for _, st := range rules.EnhancedKYCStates {
		s.enhanced[strings.ToUpper(st)] = struct{}{}
	}
	s.checks = []complianceCheck{
		{"state", s.checkState},
		{"self_exclusion", s.checkSelfExclusion},
		{"kyc", s.checkKYC},
		{"limits", s.checkLimits},
	}
	return s
}

// Check evaluates req against every rule in order.
func (s *ComplianceService) Check(ctx context.Context, req domain.OperationRequest) error {
	now := s.now()
	for _, c := range s.checks {
		if err := c.run(ctx, req, now); err != nil {
			if kind := apperror.ViolationKindOf(err); kind != "" {
				if s.metrics != nil {
					s.metrics.IncViolation(domain.ViolationKind(kind))
				}
				s.log.Warn().
					Str("user_id", req.UserID.String()).
					Str("kind", string(req.Kind)).
					Str("currency", string(req.Currency)).
					Str("violation", kind).
					Msg("compliance check failed")
			}
			return err
		}
	}
	return nil
}

func (s *ComplianceService) checkState(_ context.Context, req domain.OperationRequest, _ time.Time) error {
	if req.Currency != domain.CurrencySweeps || req.Kind == domain.KindUnlock {
		return nil
	}
	state := strings.ToUpper(req.Subject.StateCode)
	if _, blocked := s.restricted[state]; blocked {
		return domain.NewViolation(domain.ViolationStateRestriction,
			fmt.Sprintf("Sweeps play is not available in %s", state))
	}
	return nil
}

func (s *ComplianceService) checkSelfExclusion(_ context.Context, req domain.OperationRequest, now time.Time) error {
	if req.Kind.PlayerInitiated() && req.Subject.SelfExcluded(now) {
		return domain.NewViolation(domain.ViolationSelfExclusion,
			"Account is self-excluded until "+req.Subject.SelfExclusionUntil.UTC().Format(time.RFC3339))
	}
	return nil
}

func (s *ComplianceService) checkKYC(_ context.Context, req domain.OperationRequest, _ time.Time) error {
	if req.Kind != domain.KindWithdrawal || req.Currency != domain.CurrencySweeps {
		return nil
	}
	if req.Subject.KYCStatus != domain.KYCVerified {
		return domain.NewViolation(domain.ViolationKYCRequired, "KYC verification required for redemption")
	}
	if req.Subject.EnhancedVerified() {
		return nil
	}
	if !req.Amount.LessThan(s.rules.EnhancedKYCThreshold) {
		return domain.NewViolation(domain.ViolationEnhancedKYC,
			"Enhanced KYC verification required for redemptions of "+s.rules.EnhancedKYCThreshold.String()+" or more")
	}
	state := strings.ToUpper(req.Subject.StateCode)
	if _, ok := s.enhanced[state]; ok {
		return domain.NewViolation(domain.ViolationEnhancedKYC,
			"Enhanced KYC verification required for redemptions in "+state)
	}
	return nil
}

func (s *ComplianceService) checkLimits(ctx context.Context, req domain.OperationRequest, now time.Time) error {
	switch req.Kind {
	case domain.KindWithdrawal:
		if err := s.checkWithdrawalWindow(ctx, req, startOfDay(now), s.rules.DailyWithdrawalLimit, "daily"); err != nil {
			return err
		}
		return s.checkWithdrawalWindow(ctx, req, startOfWeek(now), s.rules.WeeklyWithdrawalLimit, "weekly")
	case domain.KindAMOEGrant:
		if err := s.checkAMOEWindow(ctx, req, startOfDay(now), s.rules.AMOEPerDay, "daily"); err != nil {
			return err
		}
		return s.checkAMOEWindow(ctx, req, now.Add(-30*24*time.Hour), s.rules.AMOEPer30Days, "30-day")
	}
	return nil
}

func (s *ComplianceService) checkWithdrawalWindow(ctx context.Context, req domain.OperationRequest, since time.Time, limit money.Money, window string) error {
	used, err := s.ledger.SumWithdrawals(ctx, req.UserID, since)
	if err != nil {
		return fmt.Errorf("sum %s withdrawals: %w", window, err)
	}
	total, err := used.Add(req.Amount)
	if err != nil {
		return err
	}
	if total.GreaterThan(limit) {
		return domain.NewViolation(domain.ViolationLimitExceeded,
			fmt.Sprintf("%s withdrawal limit of %s exceeded", window, limit)).
			WithDetail("window", window).
			WithDetail("used", used.String()).
			WithDetail("limit", limit.String())
	}
	return nil
}

func (s *ComplianceService) checkAMOEWindow(ctx context.Context, req domain.OperationRequest, since time.Time, limit int, window string) error {
	count, err := s.ledger.CountByKind(ctx, req.UserID, domain.KindAMOEGrant, since)
	if err != nil {
		return fmt.Errorf("count %s amoe grants: %w", window, err)
	}
	if count >= limit {
		return domain.NewViolation(domain.ViolationLimitExceeded,
			fmt.Sprintf("%s AMOE grant limit of %d reached", window, limit)).
			WithDetail("window", window).
			WithDetail("used", count).
			WithDetail("limit", limit)
	}
	return nil
}

// startOfDay truncates to midnight UTC.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// startOfWeek returns Monday 00:00 UTC of t's week.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
