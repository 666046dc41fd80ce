// Package builtins provides the secondary decision rules that ship with the
// engine alongside the time-gated momentum rule.
package builtins

import (
	"fmt"
	"math"

	"momentum/internal/domain"
)

// ZSignal is the outcome of the residual z-score ladder.
type ZSignal string

const (
	ZCutRisk  ZSignal = "CUT_RISK"
	ZStopLoss ZSignal = "STOP_LOSS"
	ZLong     ZSignal = "LONG"
	ZShort    ZSignal = "SHORT"
	ZNeutral  ZSignal = "NEUTRAL"
	ZHold     ZSignal = "HOLD"
)

// Position is the instrument currently held by the reversion strategy.
type Position string

const (
	PositionNone  Position = "none"
	PositionLong  Position = "long"
	PositionShort Position = "short"
)

// ParsePosition accepts none, long or short.
func ParsePosition(s string) (Position, error) {
	switch p := Position(s); p {
	case PositionNone, PositionLong, PositionShort:
		return p, nil
	}
	return "", fmt.Errorf("unknown position %q (want none, long or short)", s)
}

// ResidualParams are the thresholds of the reversion ladder.
type ResidualParams struct {
	EntryZ       float64
	ExitZ        float64
	StopLossMult float64
	VIXQuantile  float64
	FXQuantile   float64
}

// ResidualInputs are the day's statistics: the residual z-score of the
// index against the prior US session, and the percentile ranks of the VIX
// level and of the FX shock within their trailing windows.
type ResidualInputs struct {
	Z       float64
	VIXRank float64
	FXShock float64
}

// ResidualDecision is the ladder's verdict for one day.
type ResidualDecision struct {
	Signal  ZSignal
	Allowed bool
	Inputs  ResidualInputs
	Reason  string
}

// Decide walks the ladder: risk cut, stop loss, entries, exit, hold.
func (p ResidualParams) Decide(in ResidualInputs) ResidualDecision {
	d := ResidualDecision{Inputs: in}
	d.Allowed = in.VIXRank <= p.VIXQuantile && in.FXShock <= p.FXQuantile
	z := in.Z

	switch {
	case math.IsNaN(z):
		d.Signal, d.Reason = ZNeutral, "z-score unavailable"
	case !d.Allowed:
		d.Signal = ZCutRisk
		d.Reason = fmt.Sprintf("vix rank %.2f (max %.2f), fx shock %.2f (max %.2f)", in.VIXRank, p.VIXQuantile, in.FXShock, p.FXQuantile)
	case math.Abs(z) > p.EntryZ*p.StopLossMult:
		d.Signal = ZStopLoss
		d.Reason = fmt.Sprintf("|z| %.3f > %.3f", math.Abs(z), p.EntryZ*p.StopLossMult)
	case z <= -p.EntryZ:
		d.Signal = ZLong
		d.Reason = fmt.Sprintf("z %.3f <= -%.3f", z, p.EntryZ)
	case z >= p.EntryZ:
		d.Signal = ZShort
		d.Reason = fmt.Sprintf("z %.3f >= %.3f", z, p.EntryZ)
	case math.Abs(z) <= p.ExitZ:
		d.Signal = ZNeutral
		d.Reason = fmt.Sprintf("|z| %.3f <= %.3f", math.Abs(z), p.ExitZ)
	default:
		d.Signal = ZHold
		d.Reason = "between exit and entry bands"
	}
	return d
}

// TargetPosition derives the position to hold after sig given the current
// one. HOLD keeps the current position; risk and stop signals flatten.
func TargetPosition(sig ZSignal, current Position) Position {
	switch sig {
	case ZHold:
		return current
	case ZLong:
		return PositionLong
	case ZShort:
		return PositionShort
	default:
		return PositionNone
	}
}

// PlanStep is one market order of a rebalance.
type PlanStep struct {
	Side domain.OrderSide
	Code string
}

// Plan lists the orders moving from current to target: the held instrument
// is sold first, then the target instrument is bought.
func Plan(current, target Position, longCode, shortCode string) []PlanStep {
	if current == target {
		return nil
	}
	var steps []PlanStep
	switch current {
	case PositionLong:
		steps = append(steps, PlanStep{Side: domain.OrderSideSell, Code: longCode})
	case PositionShort:
		steps = append(steps, PlanStep{Side: domain.OrderSideSell, Code: shortCode})
	}
	switch target {
	case PositionLong:
		steps = append(steps, PlanStep{Side: domain.OrderSideBuy, Code: longCode})
	case PositionShort:
		steps = append(steps, PlanStep{Side: domain.OrderSideBuy, Code: shortCode})
	}
	return steps
}

// CurrentPosition infers the position from held quantities.
func CurrentPosition(longQty, shortQty int64) Position {
	switch {
	case longQty > 0:
		return PositionLong
	case shortQty > 0:
		return PositionShort
	}
	return PositionNone
}
