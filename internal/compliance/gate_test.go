package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
	"github.com/daveylupes/rowell-infra-sub001/internal/store"
	"github.com/daveylupes/rowell-infra-sub001/pkg/kycclient"
)

type gateRepoStub struct {
	store.Repository

	daily     decimal.Decimal
	monthly   decimal.Decimal
	histAvg   decimal.Decimal
	histCount int64
	saved     []*domain.ComplianceDecision
}

func (s *gateRepoStub) SumTransferAmountsSince(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	// The gate asks for a 24h window and a 30d window; tell them apart by age.
	if time.Since(since) < 25*time.Hour {
		return s.daily, nil
	}
	return s.monthly, nil
}

func (s *gateRepoStub) SettledAmountStats(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, int64, error) {
	return s.histAvg, s.histCount, nil
}

func (s *gateRepoStub) CreateComplianceDecision(ctx context.Context, decision *domain.ComplianceDecision) error {
	s.saved = append(s.saved, decision)
	return nil
}

type screenerStub struct {
	result *kycclient.ScreeningResult
	err    error
}

func (s screenerStub) ScreenSubject(ctx context.Context, subjectRef, countryCode string) (*kycclient.ScreeningResult, error) {
	return s.result, s.err
}

func basicAccount(country string) domain.Account {
	return domain.Account{
		AccountID:   "acc-sender",
		Network:     domain.NetworkStellar,
		CountryCode: country,
		KYCTier:     domain.KYCTierBasic,
		Status:      domain.AccountStatusActive,
	}
}

func transferOf(amount string) *domain.Transfer {
	return &domain.Transfer{
		ID:          uuid.New(),
		FromAccount: "acc-sender",
		ToAccount:   "acc-receiver",
		Network:     domain.NetworkStellar,
		Amount:      decimal.RequireFromString(amount),
	}
}

func TestEvaluate_AllowUnderAllLimits(t *testing.T) {
	repo := &gateRepoStub{}
	gate := NewGate(repo, nil, nil)

	decision, err := gate.Evaluate(context.Background(), basicAccount("KE"), transferOf("100"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if decision.Decision != domain.DecisionAllow {
		t.Fatalf("expected allow, got %s", decision.Decision)
	}
	if decision.RiskScore != 0 {
		t.Fatalf("expected zero risk score, got %d", decision.RiskScore)
	}
	if len(decision.RuleMatches) != 0 {
		t.Fatalf("expected no rule matches, got %v", decision.RuleMatches)
	}
	if len(repo.saved) != 1 {
		t.Fatal("expected the decision to be persisted")
	}
}

func TestEvaluate_AmountOverTierThresholdBlocks(t *testing.T) {
	repo := &gateRepoStub{}
	gate := NewGate(repo, nil, nil)

	// Basic tier caps single transfers at 1000.
	decision, err := gate.Evaluate(context.Background(), basicAccount("KE"), transferOf("1500"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if decision.Decision != domain.DecisionBlock {
		t.Fatalf("expected block, got %s", decision.Decision)
	}
	if len(decision.RuleMatches) != 1 || decision.RuleMatches[0] != RuleKYCAmountThreshold {
		t.Fatalf("expected short-circuit on the threshold rule, got %v", decision.RuleMatches)
	}
	if decision.RiskScore != 90 {
		t.Fatalf("expected risk score 90, got %d", decision.RiskScore)
	}
}

func TestEvaluate_NoTierOverThresholdBlocks(t *testing.T) {
	repo := &gateRepoStub{}
	gate := NewGate(repo, nil, nil)

	account := basicAccount("KE")
	account.KYCTier = domain.KYCTierNone

	decision, err := gate.Evaluate(context.Background(), account, transferOf("250"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if decision.Decision != domain.DecisionBlock {
		t.Fatalf("expected block for unverified sender over threshold, got %s", decision.Decision)
	}
	if decision.RuleMatches[0] != RuleKYCAmountThreshold {
		t.Fatalf("expected threshold rule match, got %v", decision.RuleMatches)
	}
}

func TestEvaluate_SanctionedCountryBlocks(t *testing.T) {
	repo := &gateRepoStub{}
	gate := NewGate(repo, nil, []string{"XX"})

	decision, err := gate.Evaluate(context.Background(), basicAccount("XX"), transferOf("10"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if decision.Decision != domain.DecisionBlock {
		t.Fatalf("expected block, got %s", decision.Decision)
	}
	if decision.RiskScore != 100 {
		t.Fatalf("expected risk score 100, got %d", decision.RiskScore)
	}
}

func TestEvaluate_DailyVelocityHolds(t *testing.T) {
	repo := &gateRepoStub{daily: decimal.NewFromInt(4800)}
	gate := NewGate(repo, nil, nil)

	// 4800 already sent today + 300 breaches the basic daily limit of 5000.
	decision, err := gate.Evaluate(context.Background(), basicAccount("KE"), transferOf("300"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if decision.Decision != domain.DecisionHold {
		t.Fatalf("expected hold, got %s", decision.Decision)
	}
	if decision.RuleMatches[0] != RuleVelocityDaily {
		t.Fatalf("expected daily velocity match, got %v", decision.RuleMatches)
	}
	if decision.RiskScore != 60 {
		t.Fatalf("expected risk score 60, got %d", decision.RiskScore)
	}
}

func TestEvaluate_AmountAnomalyHolds(t *testing.T) {
	repo := &gateRepoStub{histAvg: decimal.NewFromInt(10), histCount: 20}
	gate := NewGate(repo, nil, nil)

	decision, err := gate.Evaluate(context.Background(), basicAccount("KE"), transferOf("150"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if decision.Decision != domain.DecisionHold {
		t.Fatalf("expected hold, got %s", decision.Decision)
	}
	if decision.RuleMatches[0] != RuleAmountAnomaly {
		t.Fatalf("expected anomaly match, got %v", decision.RuleMatches)
	}
}

func TestEvaluate_AnomalyNeedsHistory(t *testing.T) {
	repo := &gateRepoStub{histAvg: decimal.NewFromInt(10), histCount: 2}
	gate := NewGate(repo, nil, nil)

	decision, err := gate.Evaluate(context.Background(), basicAccount("KE"), transferOf("150"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if decision.Decision != domain.DecisionAllow {
		t.Fatalf("expected allow with too little history, got %s", decision.Decision)
	}
}

func TestEvaluate_ScreeningTimeoutHoldsNeverAllows(t *testing.T) {
	repo := &gateRepoStub{}
	gate := NewGate(repo, screenerStub{err: kycclient.ErrTimeout}, nil)

	decision, err := gate.Evaluate(context.Background(), basicAccount("KE"), transferOf("10"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if decision.Decision != domain.DecisionHold {
		t.Fatalf("expected hold on provider timeout, got %s", decision.Decision)
	}
	if decision.RuleMatches[0] != RuleProviderTimeout {
		t.Fatalf("expected provider timeout match, got %v", decision.RuleMatches)
	}
	if decision.RiskScore != 50 {
		t.Fatalf("expected risk score 50, got %d", decision.RiskScore)
	}
}

func TestEvaluate_AdverseScreeningHolds(t *testing.T) {
	repo := &gateRepoStub{}
	gate := NewGate(repo, screenerStub{result: &kycclient.ScreeningResult{Clear: false, Flags: []string{"pep"}}}, nil)

	decision, err := gate.Evaluate(context.Background(), basicAccount("KE"), transferOf("10"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if decision.Decision != domain.DecisionHold {
		t.Fatalf("expected hold on adverse screening, got %s", decision.Decision)
	}
	if decision.RiskScore != 70 {
		t.Fatalf("expected risk score 70, got %d", decision.RiskScore)
	}
}

func TestEvaluate_RiskScoreIsMaxSeverityNotSum(t *testing.T) {
	// Daily velocity (60) and adverse screening (70) both match.
	repo := &gateRepoStub{daily: decimal.NewFromInt(4900)}
	gate := NewGate(repo, screenerStub{result: &kycclient.ScreeningResult{Clear: false}}, nil)

	decision, err := gate.Evaluate(context.Background(), basicAccount("KE"), transferOf("200"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if decision.Decision != domain.DecisionHold {
		t.Fatalf("expected hold, got %s", decision.Decision)
	}
	if len(decision.RuleMatches) != 2 {
		t.Fatalf("expected two rule matches, got %v", decision.RuleMatches)
	}
	if decision.RiskScore != 70 {
		t.Fatalf("expected max severity 70, got %d", decision.RiskScore)
	}
}

func TestEvaluate_RecordsRuleTableVersion(t *testing.T) {
	repo := &gateRepoStub{}
	gate := NewGate(repo, nil, nil)

	decision, err := gate.Evaluate(context.Background(), basicAccount("KE"), transferOf("10"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if decision.RuleTableVersion != RuleTableVersion {
		t.Fatalf("expected rule table version %q, got %q", RuleTableVersion, decision.RuleTableVersion)
	}
}
