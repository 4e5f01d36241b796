/**
 * @description
 * This file defines the account domain models for the transfer engine. An account
 * represents a holder of value on one (network, environment) pair and is owned by
 * a developer project. Accounts are never physically deleted; status changes are
 * appended so the compliance audit trail stays intact.
 *
 * @notes
 * - KYC tiers are ordered. A tier may only move forward unless an explicit
 *   compliance reversal is requested, which is enforced by the registry.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Network identifies one of the supported ledger networks.
type Network string

const (
	// NetworkStellar is the fast, low-fee network.
	NetworkStellar Network = "stellar"
	// NetworkHedera is the enterprise-grade consensus network.
	NetworkHedera Network = "hedera"
)

// Environment distinguishes test from production ledgers.
type Environment string

const (
	EnvironmentTest       Environment = "test"
	EnvironmentProduction Environment = "production"
)

// AccountType categorizes the holder behind an account.
type AccountType string

const (
	AccountTypeIndividual        AccountType = "individual"
	AccountTypeMerchant          AccountType = "merchant"
	AccountTypeLiquidityProvider AccountType = "liquidity_provider"
	AccountTypeAidDistributor    AccountType = "aid_distributor"
)

// KYCTier is the verification level reached by an account holder.
type KYCTier string

const (
	KYCTierNone     KYCTier = "none"
	KYCTierBasic    KYCTier = "basic"
	KYCTierEnhanced KYCTier = "enhanced"
)

// kycTierRank orders tiers so forward-only transitions can be enforced.
var kycTierRank = map[KYCTier]int{
	KYCTierNone:     0,
	KYCTierBasic:    1,
	KYCTierEnhanced: 2,
}

// Rank returns the ordinal position of the tier, or -1 for an unknown tier.
func (t KYCTier) Rank() int {
	rank, ok := kycTierRank[t]
	if !ok {
		return -1
	}
	return rank
}

// IsValid reports whether the tier is one of the known levels.
func (t KYCTier) IsValid() bool {
	_, ok := kycTierRank[t]
	return ok
}

// AccountStatus is the lifecycle state of an account record.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusClosed    AccountStatus = "closed"
)

// Account maps to the `accounts` table. AccountID is the network-native
// identifier returned by the adapter; (network, environment, account_id) is
// globally unique.
type Account struct {
	AccountID      string        `json:"account_id"`
	Network        Network       `json:"network"`
	Environment    Environment   `json:"environment"`
	OwnerProjectID uuid.UUID     `json:"owner_project_id"`
	AccountType    AccountType   `json:"account_type"`
	CountryCode    string        `json:"country_code"`
	KYCTier        KYCTier       `json:"kyc_tier"`
	Status         AccountStatus `json:"status"`
	CreationNonce  string        `json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// CreateAccountRequest is the DTO for incoming account creation API requests.
type CreateAccountRequest struct {
	Network     Network     `json:"network"`
	Environment Environment `json:"environment"`
	AccountType AccountType `json:"account_type"`
	CountryCode string      `json:"country_code"`
}

// SetKYCTierRequest is the DTO for the compliance-only tier mutation endpoint.
// Reversal must be set explicitly to move the tier backward.
type SetKYCTierRequest struct {
	Tier     KYCTier `json:"tier"`
	Reversal bool    `json:"reversal"`
}
