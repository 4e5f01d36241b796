/**
 * @description
 * This package implements the compliance gate: the rule-evaluation component
 * that decides allow / hold / block for a transfer before any network call is
 * made. Evaluation is split into two phases so that decisions are reproducible
 * for audit: a gather phase collects every external input (velocity sums,
 * historical stats, the KYC provider's screening answer), then a pure rule
 * pass runs over the frozen snapshot. The rule pass has no side effects and is
 * deterministic given the same snapshot and rule-table version.
 *
 * Decision policy: rules run in a fixed order; the first rule producing a
 * block short-circuits with that result; otherwise the highest-severity hold
 * among matches wins; otherwise allow. The risk score is the maximum severity
 * among matched rules, not a sum.
 *
 * @dependencies
 * - github.com/google/uuid: Decision identifiers.
 * - github.com/shopspring/decimal: Fixed-point amount arithmetic.
 * - internal/domain: ComplianceDecision and account/transfer types.
 * - internal/store: Velocity and historical-pattern queries.
 * - pkg/kycclient: The external screening provider client.
 */
package compliance

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
	"github.com/daveylupes/rowell-infra-sub001/internal/store"
	"github.com/daveylupes/rowell-infra-sub001/pkg/kycclient"
)

// RuleTableVersion identifies the rule set below. Bump it whenever a rule,
// threshold, or severity changes so recorded decisions stay attributable.
const RuleTableVersion = "2026-08-01"

// Rule identifiers recorded in ComplianceDecision.RuleMatches.
const (
	RuleKYCAmountThreshold = "kyc_amount_threshold"
	RuleVelocityDaily      = "velocity_daily"
	RuleVelocityMonthly    = "velocity_monthly"
	RuleSanctionsList      = "sanctions_list"
	RuleAmountAnomaly      = "amount_anomaly"
	RuleProviderAdverse    = "kyc_provider_adverse"
	RuleProviderTimeout    = "kyc_provider_timeout"
)

// TierLimits are the per-KYC-tier transfer ceilings. Amounts are in the
// asset's major unit.
type TierLimits struct {
	MaxTransferAmount decimal.Decimal
	DailyLimit        decimal.Decimal
	MonthlyLimit      decimal.Decimal
}

func defaultTierLimits() map[domain.KYCTier]TierLimits {
	return map[domain.KYCTier]TierLimits{
		domain.KYCTierNone: {
			MaxTransferAmount: decimal.NewFromInt(100),
			DailyLimit:        decimal.NewFromInt(500),
			MonthlyLimit:      decimal.NewFromInt(2000),
		},
		domain.KYCTierBasic: {
			MaxTransferAmount: decimal.NewFromInt(1000),
			DailyLimit:        decimal.NewFromInt(5000),
			MonthlyLimit:      decimal.NewFromInt(20000),
		},
		domain.KYCTierEnhanced: {
			MaxTransferAmount: decimal.NewFromInt(10000),
			DailyLimit:        decimal.NewFromInt(50000),
			MonthlyLimit:      decimal.NewFromInt(200000),
		},
	}
}

// Snapshot is the frozen input set for one evaluation. Everything the rules
// read lives here; the rule pass never touches the store or the network.
type Snapshot struct {
	SubjectID         string
	Account           domain.Account
	Amount            decimal.Decimal
	DailyVolume       decimal.Decimal
	MonthlyVolume     decimal.Decimal
	HistoricalAvg     decimal.Decimal
	HistoricalCount   int64
	ScreeningClear    bool
	ScreeningFlags    []string
	ScreeningTimedOut bool
}

type ruleOutcome struct {
	RuleID   string
	Decision domain.Decision
	Severity int
}

// rule evaluates one policy against a snapshot. It returns the outcome and
// whether the rule matched.
type rule func(snap Snapshot, limits TierLimits) (ruleOutcome, bool)

// Gate evaluates transfers against the ordered rule table.
type Gate struct {
	repo       store.Repository
	screener   kycclient.Screener
	limits     map[domain.KYCTier]TierLimits
	sanctioned map[string]bool
	rules      []rule
}

// NewGate creates a compliance gate. sanctionedCountries is the static
// sanctions list of ISO country codes; screener may be nil when no external
// provider is configured.
func NewGate(repo store.Repository, screener kycclient.Screener, sanctionedCountries []string) *Gate {
	sanctioned := make(map[string]bool, len(sanctionedCountries))
	for _, cc := range sanctionedCountries {
		sanctioned[cc] = true
	}
	g := &Gate{
		repo:       repo,
		screener:   screener,
		limits:     defaultTierLimits(),
		sanctioned: sanctioned,
	}
	g.rules = []rule{
		g.kycAmountThresholdRule,
		g.velocityDailyRule,
		g.velocityMonthlyRule,
		g.sanctionsListRule,
		g.amountAnomalyRule,
		g.screeningRule,
	}
	return g
}

// Evaluate runs the transfer through the rule table and persists the
// resulting decision. The returned decision is immutable once recorded; a
// re-evaluation writes a new row.
func (g *Gate) Evaluate(ctx context.Context, account domain.Account, transfer *domain.Transfer) (*domain.ComplianceDecision, error) {
	snap, err := g.gather(ctx, account, transfer)
	if err != nil {
		return nil, err
	}

	decision := g.decide(snap)

	if err := g.repo.CreateComplianceDecision(ctx, decision); err != nil {
		return nil, err
	}
	log.Printf("level=info component=compliance_gate msg=\"decision recorded\" subject_id=%s decision=%s risk_score=%d rules=%v",
		decision.SubjectID, decision.Decision, decision.RiskScore, decision.RuleMatches)
	return decision, nil
}

// gather collects every input the rules need. Store reads use the ledger (the
// strongly consistent side), never the derived aggregates.
func (g *Gate) gather(ctx context.Context, account domain.Account, transfer *domain.Transfer) (Snapshot, error) {
	now := time.Now().UTC()

	daily, err := g.repo.SumTransferAmountsSince(ctx, transfer.FromAccount, now.Add(-24*time.Hour))
	if err != nil {
		return Snapshot{}, err
	}
	monthly, err := g.repo.SumTransferAmountsSince(ctx, transfer.FromAccount, now.AddDate(0, 0, -30))
	if err != nil {
		return Snapshot{}, err
	}
	histAvg, histCount, err := g.repo.SettledAmountStats(ctx, transfer.FromAccount, now.AddDate(0, 0, -90))
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		SubjectID:       transfer.ID.String(),
		Account:         account,
		Amount:          transfer.Amount,
		DailyVolume:     daily,
		MonthlyVolume:   monthly,
		HistoricalAvg:   histAvg,
		HistoricalCount: histCount,
		ScreeningClear:  true,
	}

	if g.screener != nil {
		result, err := g.screener.ScreenSubject(ctx, transfer.FromAccount, account.CountryCode)
		switch {
		case errors.Is(err, kycclient.ErrTimeout):
			// An unanswered screening is an open question, never a pass.
			snap.ScreeningTimedOut = true
		case err != nil:
			log.Printf("level=warn component=compliance_gate msg=\"screening call failed; treating as timeout\" account_id=%s err=%v", transfer.FromAccount, err)
			snap.ScreeningTimedOut = true
		default:
			snap.ScreeningClear = result.Clear
			snap.ScreeningFlags = result.Flags
		}
	}

	return snap, nil
}

// decide is the pure rule pass over a frozen snapshot.
func (g *Gate) decide(snap Snapshot) *domain.ComplianceDecision {
	limits, ok := g.limits[snap.Account.KYCTier]
	if !ok {
		limits = g.limits[domain.KYCTierNone]
	}

	decision := &domain.ComplianceDecision{
		ID:               uuid.New(),
		SubjectID:        snap.SubjectID,
		Decision:         domain.DecisionAllow,
		RuleTableVersion: RuleTableVersion,
		DecidedAt:        time.Now().UTC(),
	}

	maxSeverity := 0
	for _, r := range g.rules {
		outcome, matched := r(snap, limits)
		if !matched {
			continue
		}
		decision.RuleMatches = append(decision.RuleMatches, outcome.RuleID)
		if outcome.Severity > maxSeverity {
			maxSeverity = outcome.Severity
		}
		if outcome.Decision == domain.DecisionBlock {
			decision.Decision = domain.DecisionBlock
			decision.RiskScore = outcome.Severity
			return decision
		}
		if decision.Decision != domain.DecisionBlock {
			decision.Decision = domain.DecisionHold
		}
	}

	decision.RiskScore = maxSeverity
	return decision
}

func (g *Gate) kycAmountThresholdRule(snap Snapshot, limits TierLimits) (ruleOutcome, bool) {
	if snap.Amount.GreaterThan(limits.MaxTransferAmount) {
		return ruleOutcome{RuleID: RuleKYCAmountThreshold, Decision: domain.DecisionBlock, Severity: 90}, true
	}
	return ruleOutcome{}, false
}

func (g *Gate) velocityDailyRule(snap Snapshot, limits TierLimits) (ruleOutcome, bool) {
	if snap.DailyVolume.Add(snap.Amount).GreaterThan(limits.DailyLimit) {
		return ruleOutcome{RuleID: RuleVelocityDaily, Decision: domain.DecisionHold, Severity: 60}, true
	}
	return ruleOutcome{}, false
}

func (g *Gate) velocityMonthlyRule(snap Snapshot, limits TierLimits) (ruleOutcome, bool) {
	if snap.MonthlyVolume.Add(snap.Amount).GreaterThan(limits.MonthlyLimit) {
		return ruleOutcome{RuleID: RuleVelocityMonthly, Decision: domain.DecisionHold, Severity: 55}, true
	}
	return ruleOutcome{}, false
}

func (g *Gate) sanctionsListRule(snap Snapshot, limits TierLimits) (ruleOutcome, bool) {
	if g.sanctioned[snap.Account.CountryCode] {
		return ruleOutcome{RuleID: RuleSanctionsList, Decision: domain.DecisionBlock, Severity: 100}, true
	}
	return ruleOutcome{}, false
}

// amountAnomalyRule flags an amount more than 10x the sender's 90-day settled
// average. It needs at least 5 prior settlements before it has a pattern.
func (g *Gate) amountAnomalyRule(snap Snapshot, limits TierLimits) (ruleOutcome, bool) {
	if snap.HistoricalCount < 5 || snap.HistoricalAvg.IsZero() {
		return ruleOutcome{}, false
	}
	if snap.Amount.GreaterThan(snap.HistoricalAvg.Mul(decimal.NewFromInt(10))) {
		return ruleOutcome{RuleID: RuleAmountAnomaly, Decision: domain.DecisionHold, Severity: 40}, true
	}
	return ruleOutcome{}, false
}

func (g *Gate) screeningRule(snap Snapshot, limits TierLimits) (ruleOutcome, bool) {
	if snap.ScreeningTimedOut {
		return ruleOutcome{RuleID: RuleProviderTimeout, Decision: domain.DecisionHold, Severity: 50}, true
	}
	if !snap.ScreeningClear {
		return ruleOutcome{RuleID: RuleProviderAdverse, Decision: domain.DecisionHold, Severity: 70}, true
	}
	return ruleOutcome{}, false
}
