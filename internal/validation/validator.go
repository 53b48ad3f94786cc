// Package validation checks a structured invoice for completeness and
// arithmetic consistency. Everything here is pure: no I/O, no shared mutable
// state, and the same invoice always yields the same result.
package validation

import (
	"fmt"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

const root = "invoice"

// collector accumulates findings keyed by field path. added counts every add
// call so tests can assert that no path is ever emitted twice.
type collector struct {
	errs  map[string]models.ValidationError
	added int
}

func (c *collector) add(path, message string, severity models.Severity) {
	c.added++
	c.errs[path] = models.ValidationError{Field: path, Message: message, Severity: severity}
}

// Validate runs every rule against inv and returns the findings keyed by field
// path. Rules accumulate; none short-circuits the others. An empty map means
// the invoice is clean.
func Validate(inv *models.Invoice) map[string]models.ValidationError {
	return validate(inv).errs
}

func validate(inv *models.Invoice) *collector {
	c := &collector{errs: map[string]models.ValidationError{}}
	if inv == nil {
		c.add(root, "Invoice data is missing.", models.SeverityError)
		return c
	}

	checkRequired(c, inv)
	checkFormats(c, inv)
	checkDates(c, inv)
	checkTotals(c, inv)

	validateParty(c, root+".customer", inv.Customer, false)
	validateParty(c, root+".vendor", inv.Vendor, true)
	for i := range inv.LineItems {
		validateLineItem(c, fmt.Sprintf("%s.lineItems[%d]", root, i), &inv.LineItems[i])
	}
	return c
}

// HasErrors reports whether any finding has error severity.
func HasErrors(errs map[string]models.ValidationError) bool {
	for _, e := range errs {
		if e.Severity == models.SeverityError {
			return true
		}
	}
	return false
}

func validateLineItem(c *collector, path string, item *models.LineItem) {
	if blank(item.Description) {
		c.add(path+".description", "Line item description is missing.", models.SeverityWarning)
	}
	if item.Quantity != nil && item.Quantity.Value <= 0 {
		c.add(path+".quantity.value", "Quantity must be greater than zero.", models.SeverityError)
	}
	if item.Rate != nil && *item.Rate < 0 {
		c.add(path+".rate", "Rate cannot be negative.", models.SeverityError)
	}
	if item.Amount == nil {
		c.add(path+".amount", "Line amount is required.", models.SeverityError)
	}
	validateDiscount(c, path+".discount", item)
	for j := range item.Taxes {
		validateTax(c, fmt.Sprintf("%s.taxes[%d]", path, j), &item.Taxes[j])
	}
	checkLineArithmetic(c, path, item)
}

func validateDiscount(c *collector, path string, item *models.LineItem) {
	d := item.Discount
	if d == nil {
		return
	}
	if d.Percentage != nil && (*d.Percentage < 0 || *d.Percentage > 100) {
		c.add(path+".percentage", "Discount percentage must be between 0 and 100.", models.SeverityError)
	}
	if d.Amount != nil && *d.Amount < 0 {
		c.add(path+".amount", "Discount amount cannot be negative.", models.SeverityError)
	}
	if d.Amount != nil && item.Quantity != nil && item.Rate != nil && *d.Amount > item.Quantity.Value**item.Rate+epsilon {
		c.add(path, "Discount exceeds the line value.", models.SeverityError)
	}
}

func validateTax(c *collector, path string, tax *models.Tax) {
	if tax.Rate != nil && (*tax.Rate < 0 || *tax.Rate > 100) {
		c.add(path+".rate", "Tax rate must be between 0 and 100.", models.SeverityError)
	}
	if tax.Amount != nil && *tax.Amount < 0 {
		c.add(path+".amount", "Tax amount cannot be negative.", models.SeverityError)
	}
	if tax.Rate == nil && tax.Amount == nil {
		c.add(path, "Tax needs a rate or an amount.", models.SeverityError)
	}
}
