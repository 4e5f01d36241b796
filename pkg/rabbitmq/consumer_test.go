package rabbitmq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
)

func lifecycleEventBody(t *testing.T, newState domain.TransferState) []byte {
	t.Helper()
	event := domain.TransferLifecycleEvent{
		Seq:         7,
		TransferID:  uuid.New(),
		OldState:    domain.TransferStateSubmitted,
		NewState:    newState,
		Network:     domain.NetworkStellar,
		Environment: domain.EnvironmentTest,
		AssetCode:   "USDC",
		Amount:      decimal.RequireFromString("150"),
		FeeAmount:   decimal.RequireFromString("1.5"),
		FromCountry: "KE",
		ToCountry:   "NG",
		OccurredAt:  time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestDispatchTransferEvent_RoutesByNewState(t *testing.T) {
	var got domain.TransferLifecycleEvent
	handlers := map[domain.TransferState]EventHandler{
		domain.TransferStateSettled: func(event domain.TransferLifecycleEvent) bool {
			got = event
			return true
		},
	}

	if !dispatchTransferEvent(handlers, lifecycleEventBody(t, domain.TransferStateSettled)) {
		t.Fatal("expected delivery to be acknowledged")
	}
	if got.NewState != domain.TransferStateSettled {
		t.Fatalf("handler saw state %s, want settled", got.NewState)
	}
	if got.Seq != 7 || got.AssetCode != "USDC" {
		t.Fatalf("handler saw a partially decoded event: %+v", got)
	}
}

func TestDispatchTransferEvent_DropsMalformedPayload(t *testing.T) {
	called := false
	handlers := map[domain.TransferState]EventHandler{
		domain.TransferStateSettled: func(domain.TransferLifecycleEvent) bool {
			called = true
			return true
		},
	}

	// Redelivery cannot fix a broken payload, so it is acked and dropped.
	if !dispatchTransferEvent(handlers, []byte("not json")) {
		t.Fatal("expected malformed payload to be acknowledged")
	}
	if called {
		t.Fatal("handler must not run on a malformed payload")
	}
}

func TestDispatchTransferEvent_DropsUnhandledState(t *testing.T) {
	handlers := map[domain.TransferState]EventHandler{
		domain.TransferStateSettled: func(domain.TransferLifecycleEvent) bool { return true },
	}

	if !dispatchTransferEvent(handlers, lifecycleEventBody(t, domain.TransferStateFailed)) {
		t.Fatal("expected unhandled state to be acknowledged")
	}
}

func TestDispatchTransferEvent_RequeuesOnHandlerFailure(t *testing.T) {
	handlers := map[domain.TransferState]EventHandler{
		domain.TransferStateSettled: func(domain.TransferLifecycleEvent) bool { return false },
	}

	if dispatchTransferEvent(handlers, lifecycleEventBody(t, domain.TransferStateSettled)) {
		t.Fatal("expected failed handler to re-queue the delivery")
	}
}
