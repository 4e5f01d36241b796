/**
 * @description
 * This file defines the derived analytics models owned by the event indexer.
 * FlowAggregate rows are a cache over the transfer event log, not a source of
 * truth: they tolerate lag and can be rebuilt from the log at any time.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FlowPeriodFormat is the daily bucket key layout, e.g. "2026-09-01".
const FlowPeriodFormat = "2006-01-02"

// FlowBucketKey identifies one aggregate bucket.
type FlowBucketKey struct {
	FromCountry string `json:"from_country"`
	ToCountry   string `json:"to_country"`
	AssetCode   string `json:"asset_code"`
	Period      string `json:"period"`
}

// FlowAggregate is one row of the `flow_aggregates` table. LastEventSeq is the
// highest event sequence folded into the bucket so far, kept as a freshness
// watermark; idempotency is enforced per event, not by this high-water mark.
type FlowAggregate struct {
	FlowBucketKey
	TransferCount int64           `json:"transfer_count"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	LastEventSeq  int64           `json:"-"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// FlowQuery filters aggregate rows for the analytics endpoint. Empty fields
// match everything.
type FlowQuery struct {
	FromCountry string
	ToCountry   string
	AssetCode   string
	Period      string
	Limit       int
}

// FlowPeriod returns the daily bucket key for a point in time, in UTC.
func FlowPeriod(t time.Time) string {
	return t.UTC().Format(FlowPeriodFormat)
}
