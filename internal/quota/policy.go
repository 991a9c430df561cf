// Package quota implements the monthly token quota policy: the threshold
// state machine, its enforcement side effects, and the daily warning sweep.
package quota

// Threshold is the enforcement state for an agent's quota consumption, in
// strictly increasing order of severity. When the tenant has overage billing
// enabled the restrictive states above 120% collapse into grace: the tenant
// is billed for the excess instead of being restricted.
type Threshold string

const (
	ThresholdNormal      Threshold = "normal"
	ThresholdWarning     Threshold = "warning"
	ThresholdGrace       Threshold = "grace"
	ThresholdRateLimited Threshold = "rate_limited"
	ThresholdPaused      Threshold = "paused"
)

// DetermineThreshold maps percent-of-quota-used to a threshold state. Pure
// function of its two inputs. Below 120% the overage flag has no effect.
func DetermineThreshold(percentUsed float64, overageBillingEnabled bool) Threshold {
	switch {
	case percentUsed < 80:
		return ThresholdNormal
	case percentUsed < 100:
		return ThresholdWarning
	case percentUsed < 120:
		return ThresholdGrace
	case overageBillingEnabled:
		return ThresholdGrace
	case percentUsed < 150:
		return ThresholdRateLimited
	default:
		return ThresholdPaused
	}
}
