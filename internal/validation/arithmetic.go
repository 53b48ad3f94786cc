package validation

import (
	"fmt"
	"math"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// Tolerance is the absolute difference allowed between a stated amount and
// the amount recomputed from its parts.
const Tolerance = 0.01

// epsilon absorbs binary rounding so a difference of exactly Tolerance passes.
const epsilon = 1e-9

func withinTolerance(got, want float64) bool {
	return math.Abs(got-want) <= Tolerance+epsilon
}

// lineBase is quantity × rate minus the discount. ok is false when quantity or
// rate is missing.
func lineBase(item *models.LineItem) (base float64, ok bool) {
	if item.Quantity == nil || item.Rate == nil {
		return 0, false
	}
	gross := item.Quantity.Value * *item.Rate
	return gross - discountAmount(item.Discount, gross), true
}

// discountAmount prefers a direct amount over a percentage of gross.
func discountAmount(d *models.Discount, gross float64) float64 {
	switch {
	case d == nil:
		return 0
	case d.Amount != nil:
		return *d.Amount
	case d.Percentage != nil:
		return *d.Percentage * gross / 100
	}
	return 0
}

// taxAmount is the stated tax amount, or rate% of base when only the rate is
// given.
func taxAmount(tax *models.Tax, base float64) (float64, bool) {
	switch {
	case tax.Amount != nil:
		return *tax.Amount, true
	case tax.Rate != nil:
		return *tax.Rate * base / 100, true
	}
	return 0, false
}

// checkLineArithmetic reconciles one line item: each tax against rate% of the
// discounted base, then the line amount against base plus taxes.
func checkLineArithmetic(c *collector, path string, item *models.LineItem) {
	base, ok := lineBase(item)
	if !ok {
		return
	}

	taxes := 0.0
	for j := range item.Taxes {
		tax := &item.Taxes[j]
		if tax.Rate != nil && tax.Amount != nil {
			want := *tax.Rate * base / 100
			if *tax.Amount >= 0 && !withinTolerance(*tax.Amount, want) {
				c.add(fmt.Sprintf("%s.taxes[%d].amount", path, j),
					fmt.Sprintf("Tax amount %.2f does not match %.2f%% of %.2f (expected %.2f).", *tax.Amount, *tax.Rate, base, want),
					models.SeverityError)
			}
		}
		if amount, ok := taxAmount(tax, base); ok {
			taxes += amount
		}
	}

	if item.Amount == nil {
		return
	}
	want := base + taxes
	if !withinTolerance(*item.Amount, want) {
		c.add(path+".amount",
			fmt.Sprintf("Line amount %.2f does not match quantity × rate − discount + taxes (expected %.2f).", *item.Amount, want),
			models.SeverityError)
	}
}

// checkTotals reconciles the billed amounts against the line items. Each rule
// runs only when every value it needs is present.
func checkTotals(c *collector, inv *models.Invoice) {
	billed := inv.BilledAmount
	if billed == nil || len(inv.LineItems) == 0 {
		return
	}

	var lineSum, baseSum, taxSum float64
	amountsComplete, basesComplete := true, true
	for i := range inv.LineItems {
		item := &inv.LineItems[i]
		if item.Amount == nil {
			amountsComplete = false
		} else {
			lineSum += *item.Amount
		}
		base, ok := lineBase(item)
		if !ok {
			basesComplete = false
			continue
		}
		baseSum += base
		for j := range item.Taxes {
			if amount, ok := taxAmount(&item.Taxes[j], base); ok {
				taxSum += amount
			}
		}
	}

	if billed.Total != nil && amountsComplete && !withinTolerance(lineSum, *billed.Total) {
		c.add(root+".billedAmount.total",
			fmt.Sprintf("Billed total %.2f does not match the sum of line amounts %.2f.", *billed.Total, lineSum),
			models.SeverityError)
	}
	if billed.SubTotal != nil && basesComplete && !withinTolerance(baseSum, *billed.SubTotal) {
		c.add(root+".billedAmount.subTotal",
			fmt.Sprintf("Sub-total %.2f does not match the sum of discounted line values %.2f.", *billed.SubTotal, baseSum),
			models.SeverityError)
	}
	if billed.TaxTotal != nil && basesComplete && !withinTolerance(taxSum, *billed.TaxTotal) {
		c.add(root+".billedAmount.taxTotal",
			fmt.Sprintf("Tax total %.2f does not match the sum of line taxes %.2f.", *billed.TaxTotal, taxSum),
			models.SeverityError)
	}
}
