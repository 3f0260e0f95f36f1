package pricing

import (
	"github.com/shopspring/decimal"
)

// DefaultVATRate is the UAE VAT rate.
var DefaultVATRate = decimal.NewFromFloat(0.05)

// Inputs are the pricing signals read from a lead.
type Inputs struct {
	DurationDays int64
	DailyRate    decimal.Decimal

	DeliveryFeeLabel  string
	InsuranceFeeLabel string
	// InsuranceFeeAmount, when positive, is billed as taxable insurance and
	// bypasses InsuranceFeeLabel.
	InsuranceFeeAmount decimal.Decimal
	DepositOptionLabel string

	Schedule FeeSchedule
}

// Totals is the price breakdown of a booking. Amounts are exact; rounding to
// fils happens when they are stored. Total is the pre-VAT taxable subtotal,
// not the grand total; TotalWithVAT is what the customer pays.
type Totals struct {
	Base              decimal.Decimal
	DeliveryFee       decimal.Decimal
	InsuranceFee      decimal.Decimal
	DepositFee        decimal.Decimal
	RefundableDeposit decimal.Decimal
	TaxableSubtotal   decimal.Decimal
	VAT               decimal.Decimal
	TotalWithVAT      decimal.Decimal
	Total             decimal.Decimal
}

// ComputeBookingTotals returns nil when no component carries an amount, which
// callers must read as "not enough data" rather than a free booking.
func ComputeBookingTotals(in Inputs, vatRate decimal.Decimal) *Totals {
	days := decimal.NewFromInt(in.DurationDays)
	if days.IsNegative() {
		days = decimal.Zero
	}
	rate := in.DailyRate
	if rate.IsNegative() {
		rate = decimal.Zero
	}
	base := days.Mul(rate)

	deliveryFee := ResolveFee(in.DeliveryFeeLabel, in.Schedule.DeliveryFees, in.Schedule.DeliveryLabels)

	insuranceFee := decimal.Zero
	refundable := decimal.Zero
	if in.InsuranceFeeAmount.IsPositive() {
		insuranceFee = in.InsuranceFeeAmount
	} else {
		amount, id := resolveFee(in.InsuranceFeeLabel, in.Schedule.InsuranceFees, in.Schedule.InsuranceLabels)
		if id != "" && in.Schedule.RefundableDepositIDs[id] {
			refundable = amount
		} else {
			insuranceFee = amount
		}
	}

	depositFee := ResolveFee(in.DepositOptionLabel, in.Schedule.DepositFees, nil)

	if base.IsZero() && deliveryFee.IsZero() && insuranceFee.IsZero() && depositFee.IsZero() && refundable.IsZero() {
		return nil
	}

	subtotal := base.Add(deliveryFee).Add(insuranceFee).Add(depositFee)
	vat := decimal.Zero
	if subtotal.IsPositive() {
		vat = subtotal.Mul(vatRate)
	}
	return &Totals{
		Base:              base,
		DeliveryFee:       deliveryFee,
		InsuranceFee:      insuranceFee,
		DepositFee:        depositFee,
		RefundableDeposit: refundable,
		TaxableSubtotal:   subtotal,
		VAT:               vat,
		TotalWithVAT:      subtotal.Add(vat).Add(refundable),
		Total:             subtotal,
	}
}
