package domain

import (
	"fmt"
	"strings"
)

// Pricing holds the checkout charges applied on top of the locked item prices.
// Amounts are minor units; TaxBasisPoints is a rate in 1/100 of a percent.
type Pricing struct {
	FreeShippingThreshold int64
	ShippingFee           int64
	TaxBasisPoints        int64
	Currency              string
}

func DefaultPricing() Pricing {
	return Pricing{
		FreeShippingThreshold: 200000,
		ShippingFee:           10000,
		TaxBasisPoints:        1800,
		Currency:              "INR",
	}
}

type Totals struct {
	Subtotal    int64
	ShippingFee int64
	Tax         int64
	Total       int64
}

// Compute prices a set of line items. Tax is rounded half up.
func (p Pricing) Compute(items []LineItem) Totals {
	var subtotal int64
	for _, item := range items {
		subtotal += item.Total()
	}
	shipping := p.ShippingFee
	if subtotal >= p.FreeShippingThreshold {
		shipping = 0
	}
	tax := (subtotal*p.TaxBasisPoints + 5000) / 10000
	return Totals{
		Subtotal:    subtotal,
		ShippingFee: shipping,
		Tax:         tax,
		Total:       subtotal + shipping + tax,
	}
}

// FormatMoney renders minor units for receipts and emails, e.g. "INR 1180.00".
func FormatMoney(currency string, minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s %s%d.%02d", strings.ToUpper(currency), sign, minor/100, minor%100)
}
