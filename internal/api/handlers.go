/**
 * @description
 * This file contains the HTTP handlers for the transfer engine's API surface:
 * account registry endpoints, transfer lifecycle endpoints, operator actions,
 * and the flow analytics queries. Each handler decodes the request, calls the
 * core service logic, and maps domain errors onto HTTP status codes.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - github.com/google/uuid: Transfer id parsing.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/daveylupes/rowell-infra-sub001/internal/app"
	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
	"github.com/daveylupes/rowell-infra-sub001/internal/indexer"
	"github.com/daveylupes/rowell-infra-sub001/internal/store"
)

// EngineHandlers bundles the handler dependencies.
type EngineHandlers struct {
	registry     *app.Registry
	orchestrator *app.Orchestrator
	indexer      *indexer.Indexer
}

// NewEngineHandlers creates a new instance of EngineHandlers.
func NewEngineHandlers(registry *app.Registry, orchestrator *app.Orchestrator, idx *indexer.Indexer) *EngineHandlers {
	return &EngineHandlers{registry: registry, orchestrator: orchestrator, indexer: idx}
}

// CreateAccountHandler handles requests to provision a new ledger account.
func (h *EngineHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	projectID, ok := GetOwnerProjectID(r.Context())
	if !ok {
		http.Error(w, "Could not get project ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_account outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	account, err := h.registry.CreateAccount(r.Context(), projectID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_account outcome=failed project_id=%s err=%v", projectID, err)
		if errors.Is(err, app.ErrUnsupportedNetwork) || errors.Is(err, app.ErrUnsupportedCountry) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusCreated, account)
}

// GetAccountHandler returns an account record by id.
func (h *EngineHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	account, err := h.registry.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_account account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, account)
}

// GetBalanceHandler returns the live network balance for one asset.
func (h *EngineHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	assetCode := r.URL.Query().Get("asset")
	if assetCode == "" {
		h.writeError(w, http.StatusBadRequest, "asset query parameter is required")
		return
	}

	balance, err := h.registry.GetBalance(r.Context(), accountID, assetCode)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_balance account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusBadGateway, "Unable to read balance from the network")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"asset_code": assetCode,
		"balance":    balance,
	})
}

// SetKYCTierHandler applies the compliance-only tier mutation.
func (h *EngineHandlers) SetKYCTierHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req domain.SetKYCTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	account, err := h.registry.SetKYCTier(r.Context(), accountID, req)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		if errors.Is(err, app.ErrInvalidTierTransition) {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=set_kyc_tier account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, account)
}

// SuspendAccountHandler suspends an account on compliance action.
func (h *EngineHandlers) SuspendAccountHandler(w http.ResponseWriter, r *http.Request) {
	h.updateAccountStatus(w, r, h.registry.SuspendAccount)
}

// CloseAccountHandler closes an account. The row stays for the audit trail.
func (h *EngineHandlers) CloseAccountHandler(w http.ResponseWriter, r *http.Request) {
	h.updateAccountStatus(w, r, h.registry.CloseAccount)
}

func (h *EngineHandlers) updateAccountStatus(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, accountID string) error) {
	accountID := chi.URLParam(r, "accountID")

	if err := action(r.Context(), accountID); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=account_status account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	account, err := h.registry.GetAccount(r.Context(), accountID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// CreateTransferHandler accepts a transfer request. The idempotency key may
// come from the body or the Idempotency-Key header.
func (h *EngineHandlers) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	projectID, ok := GetOwnerProjectID(r.Context())
	if !ok {
		http.Error(w, "Could not get project ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.CreateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_transfer outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	transfer, err := h.orchestrator.CreateTransfer(r.Context(), projectID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_transfer outcome=failed project_id=%s err=%v", projectID, err)
		switch {
		case errors.Is(err, store.ErrAccountNotFound):
			h.writeError(w, http.StatusNotFound, "Account not found")
		case errors.Is(err, app.ErrMissingIdempotencyKey),
			errors.Is(err, app.ErrInvalidAmount),
			errors.Is(err, app.ErrSameAccount),
			errors.Is(err, app.ErrNetworkMismatch),
			errors.Is(err, app.ErrUnsupportedNetwork):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrAccountNotActive):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, app.ErrStateConflict):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			// The transfer may still have been created and parked in a
			// recoverable state; return it when we have one.
			if transfer != nil {
				h.writeJSON(w, http.StatusAccepted, transfer)
				return
			}
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, transfer)
}

// GetTransferHandler returns a transfer by id.
func (h *EngineHandlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transfer ID format")
		return
	}

	transfer, err := h.orchestrator.GetTransfer(r.Context(), transferID)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			h.writeError(w, http.StatusNotFound, "Transfer not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_transfer transfer_id=%s err=%v", transferID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, transfer)
}

// CancelTransferHandler cancels a transfer that has not yet touched the network.
func (h *EngineHandlers) CancelTransferHandler(w http.ResponseWriter, r *http.Request) {
	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transfer ID format")
		return
	}

	transfer, err := h.orchestrator.CancelTransfer(r.Context(), transferID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTransferNotFound):
			h.writeError(w, http.StatusNotFound, "Transfer not found")
		case errors.Is(err, app.ErrNotCancellable), errors.Is(err, app.ErrStateConflict):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			log.Printf("level=error component=api endpoint=cancel_transfer transfer_id=%s err=%v", transferID, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, transfer)
}

// ReleaseTransferHandler is the operator action releasing a compliance hold.
func (h *EngineHandlers) ReleaseTransferHandler(w http.ResponseWriter, r *http.Request) {
	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transfer ID format")
		return
	}

	transfer, err := h.orchestrator.ReleaseHeldTransfer(r.Context(), transferID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTransferNotFound):
			h.writeError(w, http.StatusNotFound, "Transfer not found")
		case errors.Is(err, app.ErrNotHeld), errors.Is(err, app.ErrStateConflict):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			log.Printf("level=error component=api endpoint=release_transfer transfer_id=%s err=%v", transferID, err)
			if transfer != nil {
				h.writeJSON(w, http.StatusAccepted, transfer)
				return
			}
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, transfer)
}

// ListReviewRequiredHandler returns transfers flagged for manual review.
func (h *EngineHandlers) ListReviewRequiredHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	transfers, err := h.orchestrator.ListReviewRequired(r.Context(), limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=review_required err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": transfers})
}

// QueryFlowsHandler returns flow aggregates filtered by corridor, asset, and
// period.
func (h *EngineHandlers) QueryFlowsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	flows, err := h.indexer.QueryFlows(r.Context(), domain.FlowQuery{
		FromCountry: q.Get("from_country"),
		ToCountry:   q.Get("to_country"),
		AssetCode:   q.Get("asset"),
		Period:      q.Get("period"),
		Limit:       limit,
	})
	if err != nil {
		log.Printf("level=error component=api endpoint=query_flows err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"flows": flows})
}

// RebuildFlowsHandler replays the event log into fresh aggregates.
func (h *EngineHandlers) RebuildFlowsHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.indexer.Rebuild(r.Context()); err != nil {
		log.Printf("level=error component=api endpoint=rebuild_flows err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Rebuild failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

// writeJSON is a helper for writing JSON responses.
func (h *EngineHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *EngineHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
