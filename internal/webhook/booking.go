package webhook

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wolfman30/rental-ops/internal/bookings"
	"github.com/wolfman30/rental-ops/internal/fields"
	"github.com/wolfman30/rental-ops/internal/kommo"
	"github.com/wolfman30/rental-ops/internal/pricing"
	"github.com/wolfman30/rental-ops/internal/store"
)

// buildBooking maps a lead onto a partial booking. Only attributes the lead
// actually carries are set, so a sparse delivery never blanks stored data.
func (p *Processor) buildBooking(ctx context.Context, lead *kommo.Lead, statusID int64, clientID, ownerID string) (bookings.Booking, error) {
	f := p.catalog.Fields
	b := bookings.Booking{
		SourcePayloadID: bookings.SourcePayloadID(lead.ID),
		Status:          p.catalog.BookingStatus(statusID),
		KommoStatusID:   store.Set(statusID),
	}
	if clientID != "" {
		b.ClientID = store.Set(clientID)
	}
	if ownerID != "" {
		b.OwnerID = store.Set(ownerID)
	}

	if ref, ok := fields.VehicleID(lead, f.Vehicle, f.VehicleCode); ok {
		vehicleID, found, err := p.directory.VehicleByKommoID(ctx, ref)
		if err != nil {
			return bookings.Booking{}, err
		}
		if found {
			b.VehicleID = store.Set(vehicleID)
		}
	}

	start, hasStart := fields.Epoch(lead, f.DeliveryDate)
	end, hasEnd := fields.Epoch(lead, f.CollectDate)
	if hasStart {
		b.StartAt = store.Set(start)
	}
	if hasEnd {
		b.EndAt = store.Set(end)
	}
	if loc, ok := fields.String(lead, f.DeliveryLocation); ok {
		b.DeliveryLocation = store.Set(loc)
	}
	if loc, ok := fields.String(lead, f.CollectLocation); ok {
		b.CollectLocation = store.Set(loc)
	}

	dailyRate, hasRate := fields.Decimal(lead, f.DailyPrice)
	if hasRate {
		b.DailyPrice = store.Set(dailyRate)
	}
	days, hasDays := fields.Integer(lead, f.DurationDays)
	if !hasDays && hasStart && hasEnd {
		days, hasDays = rentalDays(start, end)
	}
	if hasDays {
		b.DurationDays = store.Set(days)
	}

	insuranceLabel, hasInsurance := fields.String(lead, f.InsuranceFee)
	if hasInsurance {
		b.InsuranceFeeLabel = store.Set(insuranceLabel)
	}
	deliveryLabel, hasDelivery := fields.String(lead, f.DeliveryFee)
	if hasDelivery {
		b.DeliveryFeeLabel = store.Set(deliveryLabel)
	}
	fullInsurance, hasFullInsurance := fields.Decimal(lead, f.FullInsuranceFee)
	if hasFullInsurance {
		b.FullInsuranceFee = store.Set(fullInsurance)
	}
	if advance, ok := fields.Decimal(lead, f.AdvancePayment); ok {
		b.AdvancePayment = store.Set(advance)
	}
	if agreement, ok := fields.String(lead, f.AgreementNumber); ok {
		b.AgreementNumber = store.Set(agreement)
	}

	totals := pricing.ComputeBookingTotals(pricing.Inputs{
		DurationDays:       days,
		DailyRate:          dailyRate,
		DeliveryFeeLabel:   feeKey(lead, f.DeliveryFee, p.schedule.DeliveryFees),
		InsuranceFeeLabel:  feeKey(lead, f.InsuranceFee, p.schedule.InsuranceFees),
		InsuranceFeeAmount: fullInsurance,
		DepositOptionLabel: feeKey(lead, f.DepositOption, p.schedule.DepositFees),
		Schedule:           p.schedule,
	}, p.vatRate)
	if total, ok := bookingTotal(totals, lead); ok {
		b.TotalAmount = store.Set(total)
	}
	return b, nil
}

// feeKey picks the enum id when the fee table knows it, else the value text.
// Labels get edited in Kommo; enum ids do not.
func feeKey(lead *kommo.Lead, fieldID int64, fees map[string]decimal.Decimal) string {
	if id, ok := fields.EnumID(lead, fieldID); ok {
		if _, known := fees[id]; known {
			return id
		}
	}
	label, _ := fields.String(lead, fieldID)
	return label
}

// bookingTotal prefers the computed grand total and falls back to the lead
// price when the pricing fields are empty.
func bookingTotal(totals *pricing.Totals, lead *kommo.Lead) (decimal.Decimal, bool) {
	if totals != nil {
		return totals.TotalWithVAT, true
	}
	return leadPrice(lead)
}

// rentalDays is the number of started 24h periods between start and end.
func rentalDays(start, end time.Time) (int64, bool) {
	if !end.After(start) {
		return 0, false
	}
	return int64(math.Ceil(end.Sub(start).Hours() / 24)), true
}
