package risk

import "fmt"

// Guardrail rejection codes. These are stable API: callers and operators key
// off them, so changing one is a breaking change.
const (
	CodeRiskCheckFailed        = "risk_check_failed"
	CodeKellyFractionExceeded  = "kelly_fraction_exceeded"
	CodePositionRiskLimit      = "position_risk_limit"
	CodePortfolioExposureLimit = "portfolio_exposure_limit"
	CodeDrawdownGuardrail      = "drawdown_guardrail"
	CodeDailyLossLimit         = "daily_loss_limit"
	CodeDuplicate              = "duplicate"
	CodeKillSwitch             = "kill_switch"
	CodeRateLimited            = "rate_limited"
	CodeServiceDegraded        = "service_degraded"
)

// GuardrailError is an expected business rejection, not a fault. The order
// was evaluated and refused; nothing is retried.
type GuardrailError struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Reject builds a guardrail error with a formatted reason.
func Reject(code, format string, args ...any) *GuardrailError {
	return &GuardrailError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Degraded reports whether the rejection should surface as a 503 rather
// than a 400: the order was refused because a dependency is unhealthy, not
// because the order itself violated a limit.
func (e *GuardrailError) Degraded() bool {
	return e.Code == CodeServiceDegraded
}
