package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
	"github.com/daveylupes/rowell-infra-sub001/internal/store"
	"github.com/daveylupes/rowell-infra-sub001/pkg/network"
)

type registryRepoStub struct {
	store.Repository
	mu       sync.Mutex
	accounts map[string]*domain.Account
	// createErr forces the next CreateAccount to fail with this error.
	createErr error
}

func newRegistryRepoStub() *registryRepoStub {
	return &registryRepoStub{accounts: make(map[string]*domain.Account)}
}

func (r *registryRepoStub) CreateAccount(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.accounts[account.AccountID]; ok {
		return store.ErrAccountExists
	}
	copied := *account
	r.accounts[account.AccountID] = &copied
	return nil
}

func (r *registryRepoStub) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (r *registryRepoStub) UpdateAccountKYCTier(ctx context.Context, accountID string, tier domain.KYCTier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	account.KYCTier = tier
	return nil
}

func (r *registryRepoStub) UpdateAccountStatus(ctx context.Context, accountID string, status domain.AccountStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	account.Status = status
	return nil
}

type registryAdapterStub struct {
	accountID     string
	alreadyExists bool
	createErr     error
	createCalls   int
	lastNonce     string
}

func (a *registryAdapterStub) Name() string { return "stellar" }

func (a *registryAdapterStub) CreateAccount(ctx context.Context, req network.CreateAccountRequest) (*network.Account, error) {
	a.createCalls++
	a.lastNonce = req.Nonce
	if a.createErr != nil {
		return nil, a.createErr
	}
	return &network.Account{AccountID: a.accountID, AlreadyExists: a.alreadyExists}, nil
}

func (a *registryAdapterStub) GetBalance(ctx context.Context, accountID, assetCode string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

func (a *registryAdapterStub) SubmitTransfer(ctx context.Context, req network.SubmitRequest) (*network.PendingHandle, error) {
	return nil, errors.New("not implemented")
}

func (a *registryAdapterStub) GetReceipt(ctx context.Context, clientRef string) (*network.Receipt, error) {
	return nil, network.ErrReceiptNotFound
}

func (a *registryAdapterStub) PollBudget() network.PollBudget { return network.PollBudget{} }

func newTestRegistry(adapter network.Adapter) (*Registry, *registryRepoStub) {
	repo := newRegistryRepoStub()
	registry := NewRegistry(repo, map[domain.Network]network.Adapter{
		domain.NetworkStellar: adapter,
	})
	return registry, repo
}

func validCreateRequest() domain.CreateAccountRequest {
	return domain.CreateAccountRequest{
		Network:     domain.NetworkStellar,
		Environment: domain.EnvironmentTest,
		AccountType: domain.AccountTypeIndividual,
		CountryCode: "KE",
	}
}

func TestCreateAccountStartsUnverifiedAndActive(t *testing.T) {
	adapter := &registryAdapterStub{accountID: "GABC123"}
	registry, _ := newTestRegistry(adapter)

	account, err := registry.CreateAccount(context.Background(), uuid.New(), validCreateRequest())
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if account.AccountID != "GABC123" {
		t.Errorf("account id = %q, want GABC123", account.AccountID)
	}
	if account.KYCTier != domain.KYCTierNone {
		t.Errorf("new account tier = %s, want %s", account.KYCTier, domain.KYCTierNone)
	}
	if account.Status != domain.AccountStatusActive {
		t.Errorf("new account status = %s, want %s", account.Status, domain.AccountStatusActive)
	}
	if account.CreationNonce == "" || account.CreationNonce != adapter.lastNonce {
		t.Errorf("creation nonce was not recorded: record=%q adapter=%q", account.CreationNonce, adapter.lastNonce)
	}
}

func TestCreateAccountReplayedNonceResolvesToSameAccount(t *testing.T) {
	adapter := &registryAdapterStub{accountID: "GABC123", alreadyExists: true}
	registry, repo := newTestRegistry(adapter)

	account, err := registry.CreateAccount(context.Background(), uuid.New(), validCreateRequest())
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if account.AccountID != "GABC123" {
		t.Errorf("account id = %q, want GABC123", account.AccountID)
	}

	// The row already landed on an earlier attempt; the retry must hand back
	// the existing record instead of failing.
	repo.createErr = store.ErrAccountExists
	retried, err := registry.CreateAccount(context.Background(), uuid.New(), validCreateRequest())
	if err != nil {
		t.Fatalf("retried CreateAccount failed: %v", err)
	}
	if retried.AccountID != account.AccountID {
		t.Errorf("retry minted a different account: %q vs %q", retried.AccountID, account.AccountID)
	}
}

func TestCreateAccountRejectsUnsupportedNetwork(t *testing.T) {
	registry, _ := newTestRegistry(&registryAdapterStub{accountID: "GABC123"})

	req := validCreateRequest()
	req.Network = domain.Network("dogechain")
	if _, err := registry.CreateAccount(context.Background(), uuid.New(), req); !errors.Is(err, ErrUnsupportedNetwork) {
		t.Fatalf("error = %v, want ErrUnsupportedNetwork", err)
	}
}

func TestCreateAccountRejectsUnsupportedCountry(t *testing.T) {
	adapter := &registryAdapterStub{accountID: "GABC123"}
	registry, _ := newTestRegistry(adapter)

	req := validCreateRequest()
	req.CountryCode = "XX"
	if _, err := registry.CreateAccount(context.Background(), uuid.New(), req); !errors.Is(err, ErrUnsupportedCountry) {
		t.Fatalf("error = %v, want ErrUnsupportedCountry", err)
	}
	if adapter.createCalls != 0 {
		t.Errorf("adapter was called %d times for a rejected country", adapter.createCalls)
	}
}

func TestSetKYCTierOnlyMovesForward(t *testing.T) {
	adapter := &registryAdapterStub{accountID: "GABC123"}
	registry, _ := newTestRegistry(adapter)
	if _, err := registry.CreateAccount(context.Background(), uuid.New(), validCreateRequest()); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	account, err := registry.SetKYCTier(context.Background(), "GABC123", domain.SetKYCTierRequest{Tier: domain.KYCTierEnhanced})
	if err != nil {
		t.Fatalf("SetKYCTier failed: %v", err)
	}
	if account.KYCTier != domain.KYCTierEnhanced {
		t.Errorf("tier = %s, want %s", account.KYCTier, domain.KYCTierEnhanced)
	}

	if _, err := registry.SetKYCTier(context.Background(), "GABC123", domain.SetKYCTierRequest{Tier: domain.KYCTierBasic}); !errors.Is(err, ErrInvalidTierTransition) {
		t.Fatalf("backward move error = %v, want ErrInvalidTierTransition", err)
	}

	downgraded, err := registry.SetKYCTier(context.Background(), "GABC123", domain.SetKYCTierRequest{Tier: domain.KYCTierBasic, Reversal: true})
	if err != nil {
		t.Fatalf("reversal failed: %v", err)
	}
	if downgraded.KYCTier != domain.KYCTierBasic {
		t.Errorf("tier after reversal = %s, want %s", downgraded.KYCTier, domain.KYCTierBasic)
	}
}

func TestSuspendAndCloseKeepTheRecord(t *testing.T) {
	adapter := &registryAdapterStub{accountID: "GABC123"}
	registry, repo := newTestRegistry(adapter)
	if _, err := registry.CreateAccount(context.Background(), uuid.New(), validCreateRequest()); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	if err := registry.SuspendAccount(context.Background(), "GABC123"); err != nil {
		t.Fatalf("SuspendAccount failed: %v", err)
	}
	account, err := repo.FindAccountByID(context.Background(), "GABC123")
	if err != nil {
		t.Fatalf("account vanished after suspension: %v", err)
	}
	if account.Status != domain.AccountStatusSuspended {
		t.Errorf("status = %s, want %s", account.Status, domain.AccountStatusSuspended)
	}

	if err := registry.CloseAccount(context.Background(), "GABC123"); err != nil {
		t.Fatalf("CloseAccount failed: %v", err)
	}
	account, _ = repo.FindAccountByID(context.Background(), "GABC123")
	if account.Status != domain.AccountStatusClosed {
		t.Errorf("status = %s, want %s", account.Status, domain.AccountStatusClosed)
	}

	if err := registry.SuspendAccount(context.Background(), "missing"); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("error = %v, want ErrAccountNotFound", err)
	}
}
