/**
 * @description
 * This file defines the compliance domain models: the gate's verdict for a
 * specific transfer or account action and its supporting types. Decisions are
 * immutable once recorded; a later re-evaluation creates a new decision row.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Decision is the gate's verdict for a subject.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionHold  Decision = "hold"
	DecisionBlock Decision = "block"
)

// ComplianceDecision maps to the `compliance_decisions` table. Every block or
// hold decision carries at least one rule match; RuleMatches preserves rule
// evaluation order so decisions are reproducible for audit.
type ComplianceDecision struct {
	ID               uuid.UUID `json:"id"`
	SubjectID        string    `json:"subject_id"`
	Decision         Decision  `json:"decision"`
	RiskScore        int       `json:"risk_score"`
	RuleMatches      []string  `json:"rule_matches"`
	RuleTableVersion string    `json:"rule_table_version"`
	DecidedAt        time.Time `json:"decided_at"`
}
