package booking

import (
	"errors"
	"math"
)

var ErrInvalidFee = errors.New("consultation fee must be positive")

// FeeInput carries everything the fee calculation depends on. Rates are
// basis points so the arithmetic stays in integers; the emergency
// multiplier is the one knob that arrives as a factor.
type FeeInput struct {
	ConsultationFee     int64
	IsEmergency         bool
	HasSubscription     bool
	EmergencyMultiplier float64 // 0 means the default of 1.0
	PlatformFeeBps      int
	SubscriptionBps     int
}

// FeeQuote is the priced booking: the adjusted consultation fee, the
// platform's cut on top of it, and the total captured from the patient.
type FeeQuote struct {
	ConsultationFee int64
	PlatformFee     int64
	TotalAmount     int64
}

// ComputeFee prices a consultation. Order matters and is fixed: the
// subscription discount applies first, then the emergency multiplier,
// then the platform fee on the adjusted amount. All rounding is half-up
// to the nearest integer currency unit, so identical inputs always
// produce identical quotes. Disputes are audited against re-runs of
// this function.
func ComputeFee(in FeeInput) (FeeQuote, error) {
	if in.ConsultationFee <= 0 {
		return FeeQuote{}, ErrInvalidFee
	}

	multiplier := in.EmergencyMultiplier
	if multiplier == 0 {
		multiplier = 1.0
	}
	if multiplier < 0 {
		return FeeQuote{}, ErrInvalidFee
	}

	adjusted := in.ConsultationFee
	if in.HasSubscription {
		adjusted = bpsHalfUp(adjusted, 10000-in.SubscriptionBps)
	}
	if in.IsEmergency {
		adjusted = int64(math.Floor(float64(adjusted)*multiplier + 0.5))
	}
	if adjusted <= 0 {
		return FeeQuote{}, ErrInvalidFee
	}

	platformFee := bpsHalfUp(adjusted, in.PlatformFeeBps)

	return FeeQuote{
		ConsultationFee: adjusted,
		PlatformFee:     platformFee,
		TotalAmount:     adjusted + platformFee,
	}, nil
}

// bpsHalfUp applies a basis-point rate with half-up rounding.
func bpsHalfUp(amount int64, bps int) int64 {
	return (amount*int64(bps) + 5000) / 10000
}
