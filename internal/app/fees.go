/**
 * @description
 * This file implements fee computation for transfers. Each network carries its
 * own schedule: a flat component plus a basis-point component, floored at the
 * network's minimum fee. All arithmetic is fixed-point decimal.
 */

package app

import (
	"github.com/shopspring/decimal"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
)

// FeeSchedule describes one network's pricing.
type FeeSchedule struct {
	Flat       decimal.Decimal
	PercentBps decimal.Decimal
	Minimum    decimal.Decimal
}

// ComputeFee returns max(flat + amount * bps/10000, minimum).
func (s FeeSchedule) ComputeFee(amount decimal.Decimal) decimal.Decimal {
	fee := s.Flat.Add(amount.Mul(s.PercentBps).Div(decimal.NewFromInt(10000)))
	if fee.LessThan(s.Minimum) {
		return s.Minimum
	}
	return fee
}

// DefaultFeeSchedules returns the built-in per-network pricing. Stellar is the
// cheap fast leg; hedera carries a higher network-native minimum.
func DefaultFeeSchedules() map[domain.Network]FeeSchedule {
	return map[domain.Network]FeeSchedule{
		domain.NetworkStellar: {
			Flat:       decimal.RequireFromString("0.01"),
			PercentBps: decimal.NewFromInt(10),
			Minimum:    decimal.RequireFromString("0.01"),
		},
		domain.NetworkHedera: {
			Flat:       decimal.RequireFromString("0.05"),
			PercentBps: decimal.NewFromInt(25),
			Minimum:    decimal.RequireFromString("0.10"),
		},
	}
}
