/**
 * @description
 * This file defines the lifecycle event models. Every state transition appends a
 * row to the append-only `transfer_events` log (same transaction as the state
 * change) and publishes a best-effort message for the event indexer. The log is
 * the source from which flow aggregates can be rebuilt at any time.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferEvent is one row of the append-only lifecycle log. Seq is assigned by
// the database and is strictly increasing across all transfers.
type TransferEvent struct {
	Seq        int64         `json:"seq"`
	TransferID uuid.UUID     `json:"transfer_id"`
	OldState   TransferState `json:"old_state"`
	NewState   TransferState `json:"new_state"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// TransferLifecycleEvent is the message payload published on every transition.
// It carries enough of the transfer snapshot for the indexer to bucket settled
// flows without a read back into the ledger store.
type TransferLifecycleEvent struct {
	Seq         int64           `json:"seq"`
	TransferID  uuid.UUID       `json:"transfer_id"`
	OldState    TransferState   `json:"old_state"`
	NewState    TransferState   `json:"new_state"`
	Network     Network         `json:"network"`
	Environment Environment     `json:"environment"`
	AssetCode   string          `json:"asset_code"`
	Amount      decimal.Decimal `json:"amount"`
	FeeAmount   decimal.Decimal `json:"fee_amount"`
	FromCountry string          `json:"from_country"`
	ToCountry   string          `json:"to_country"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// RoutingKey returns the topic routing key for this event, e.g.
// "transfer.state.settled".
func (e TransferLifecycleEvent) RoutingKey() string {
	return "transfer.state." + string(e.NewState)
}
