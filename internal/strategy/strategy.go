// Package strategy turns observed bars into a once-per-session trading
// decision and sizes the resulting order. It also hosts the offline grid
// search over persisted sessions.
package strategy

import (
	"fmt"

	"momentum/internal/domain"
)

// Rule maps the session's open-to-reference return onto a direction.
type Rule interface {
	// Name returns the rule identifier used in logs and journaled reasons.
	Name() string

	// Decide returns the direction for ret and a human-readable reason.
	Decide(ret float64) (domain.Direction, string)
}

// ThresholdRule is the time-gated momentum rule. With a zero threshold the
// sign of the return decides (ties go short); otherwise returns inside
// [-Threshold, Threshold] stay neutral.
type ThresholdRule struct {
	Threshold float64
}

// Compile-time interface check.
var _ Rule = ThresholdRule{}

// Name returns "momentum".
func (r ThresholdRule) Name() string { return "momentum" }

// Decide applies the threshold.
func (r ThresholdRule) Decide(ret float64) (domain.Direction, string) {
	theta := r.Threshold
	if theta <= 0 {
		if ret > 0 {
			return domain.DirectionLong, fmt.Sprintf("ret %.5f > 0", ret)
		}
		return domain.DirectionShort, fmt.Sprintf("ret %.5f <= 0", ret)
	}
	switch {
	case ret > theta:
		return domain.DirectionLong, fmt.Sprintf("ret %.5f > %.5f", ret, theta)
	case ret < -theta:
		return domain.DirectionShort, fmt.Sprintf("ret %.5f < -%.5f", ret, theta)
	default:
		return domain.DirectionNeutral, fmt.Sprintf("|ret %.5f| <= %.5f", ret, theta)
	}
}
