package builtins

import (
	"math"
	"testing"

	"momentum/internal/domain"
)

func defaultParams() ResidualParams {
	return ResidualParams{EntryZ: 2.15, ExitZ: 0.0, StopLossMult: 3.3, VIXQuantile: 0.94, FXQuantile: 0.96}
}

func TestResidualLadder(t *testing.T) {
	p := defaultParams()
	tests := []struct {
		name string
		in   ResidualInputs
		want ZSignal
	}{
		{"vix cut", ResidualInputs{Z: -3, VIXRank: 0.95, FXShock: 0.1}, ZCutRisk},
		{"fx cut", ResidualInputs{Z: -3, VIXRank: 0.1, FXShock: 0.97}, ZCutRisk},
		{"stop loss", ResidualInputs{Z: 7.2}, ZStopLoss},
		{"long", ResidualInputs{Z: -2.15}, ZLong},
		{"short", ResidualInputs{Z: 2.5}, ZShort},
		{"neutral", ResidualInputs{Z: 0}, ZNeutral},
		{"hold", ResidualInputs{Z: 1.2}, ZHold},
		{"nan", ResidualInputs{Z: math.NaN()}, ZNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Decide(tt.in); got.Signal != tt.want {
				t.Errorf("Decide(%+v) = %s (%s), want %s", tt.in, got.Signal, got.Reason, tt.want)
			}
		})
	}
}

func TestTargetAndPlan(t *testing.T) {
	if got := TargetPosition(ZHold, PositionShort); got != PositionShort {
		t.Errorf("HOLD target = %s", got)
	}
	if got := TargetPosition(ZStopLoss, PositionLong); got != PositionNone {
		t.Errorf("STOP_LOSS target = %s", got)
	}

	steps := Plan(PositionLong, PositionShort, "069500", "114800")
	if len(steps) != 2 ||
		steps[0] != (PlanStep{Side: domain.OrderSideSell, Code: "069500"}) ||
		steps[1] != (PlanStep{Side: domain.OrderSideBuy, Code: "114800"}) {
		t.Errorf("Plan = %+v", steps)
	}
	if steps := Plan(PositionNone, PositionNone, "a", "b"); steps != nil {
		t.Errorf("no-op plan = %+v", steps)
	}
	if got := CurrentPosition(0, 5); got != PositionShort {
		t.Errorf("CurrentPosition = %s", got)
	}
	if _, err := ParsePosition("flat"); err == nil {
		t.Error("expected error for unknown position")
	}
}
