// Package pricing resolves fee labels to amounts and computes booking totals.
package pricing

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var amountPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)

// FeeSchedule holds the enum-id keyed fee tables and the label aliases
// operators type into Kommo.
type FeeSchedule struct {
	DeliveryFees         map[string]decimal.Decimal
	DeliveryLabels       map[string]string
	InsuranceFees        map[string]decimal.Decimal
	InsuranceLabels      map[string]string
	RefundableDepositIDs map[string]bool
	DepositFees          map[string]decimal.Decimal
}

// DefaultSchedule returns the production fee tables (AED).
func DefaultSchedule() FeeSchedule {
	return FeeSchedule{
		DeliveryFees: map[string]decimal.Decimal{
			"7001": decimal.Zero,
			"7003": decimal.NewFromInt(100),
			"7005": decimal.NewFromInt(150),
			"7007": decimal.NewFromInt(250),
			"7009": decimal.NewFromInt(350),
		},
		DeliveryLabels: map[string]string{
			"Self pickup":             "7001",
			"Delivery Dubai":          "7003",
			"Delivery Sharjah":        "7005",
			"Delivery Abu Dhabi":      "7007",
			"Delivery other emirates": "7009",
		},
		InsuranceFees: map[string]decimal.Decimal{
			"7101": decimal.Zero,
			"7103": decimal.NewFromInt(1500),
			"7105": decimal.NewFromInt(3000),
			"7107": decimal.NewFromInt(500),
		},
		InsuranceLabels: map[string]string{
			"Basic insurance (included)": "7101",
			"Refundable deposit 1500":    "7103",
			"Refundable deposit 3000":    "7105",
			"No-deposit fee":             "7107",
		},
		RefundableDepositIDs: map[string]bool{
			"7103": true,
			"7105": true,
		},
		DepositFees: map[string]decimal.Decimal{
			"7201": decimal.Zero,
			"7203": decimal.NewFromInt(250),
		},
	}
}

// ResolveFee turns a fee label or enum id into an amount: a direct key of
// fees wins, then a labels alias pointing into fees, then the first signed
// number found in the label. Signs are kept, so "Discount -500" is -500.
func ResolveFee(label string, fees map[string]decimal.Decimal, labels map[string]string) decimal.Decimal {
	amount, _ := resolveFee(label, fees, labels)
	return amount
}

// resolveFee also returns the table id the amount came from, if any.
func resolveFee(label string, fees map[string]decimal.Decimal, labels map[string]string) (decimal.Decimal, string) {
	label = strings.TrimSpace(label)
	if label == "" {
		return decimal.Zero, ""
	}
	if amount, ok := fees[label]; ok {
		return amount, label
	}
	if id, ok := lookupLabel(labels, label); ok {
		if amount, ok := fees[id]; ok {
			return amount, id
		}
	}
	match := amountPattern.FindString(label)
	if match == "" {
		return decimal.Zero, ""
	}
	amount, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.Zero, ""
	}
	return amount, ""
}

func lookupLabel(labels map[string]string, label string) (string, bool) {
	if id, ok := labels[label]; ok {
		return id, true
	}
	for key, id := range labels {
		if strings.EqualFold(strings.TrimSpace(key), label) {
			return id, true
		}
	}
	return "", false
}
