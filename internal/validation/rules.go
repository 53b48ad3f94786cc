package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// Format patterns. Compiled once; every Validate call shares them read-only.
var (
	currencyPattern      = regexp.MustCompile(`^[A-Z]{3}$`)
	gstinPattern         = regexp.MustCompile(`^[0-9A-Za-z]{15}$`)
	panPattern           = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	ifscPattern          = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	upiPattern           = regexp.MustCompile(`^[A-Za-z0-9._-]{2,256}@[A-Za-z][A-Za-z0-9]{1,63}$`)
	emailPattern         = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	accountNumberPattern = regexp.MustCompile(`^[0-9]{6,18}$`)
)

// dateLayouts are tried in order; the first layout that parses wins. Day-first
// layouts come before month-first ones.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2006/01/02",
	"02-Jan-2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 January 2006",
	"02-Jan-06",
	time.RFC3339,
}

// ParseDate parses s with the first matching accepted layout.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// checkRequired covers the header fields an invoice cannot do without.
func checkRequired(c *collector, inv *models.Invoice) {
	if blank(inv.InvoiceNumber) {
		c.add(root+".invoiceNumber", "Invoice number is required.", models.SeverityError)
	}
	if blank(inv.BillingDate) {
		c.add(root+".billingDate", "Billing date is required.", models.SeverityError)
	}
	if blank(inv.DueDate) {
		c.add(root+".dueDate", "Due date is required.", models.SeverityError)
	}
	if blank(inv.PlaceOfSupply) {
		c.add(root+".placeOfSupply", "Place of supply is required.", models.SeverityError)
	}
	if inv.Customer == nil {
		c.add(root+".customer", "Customer details are required.", models.SeverityError)
	}
	if inv.Vendor == nil {
		c.add(root+".vendor", "Vendor details are required.", models.SeverityError)
	}
	if inv.BilledAmount == nil {
		c.add(root+".billedAmount", "Billed amount is required.", models.SeverityError)
	} else if inv.BilledAmount.Total == nil {
		c.add(root+".billedAmount.total", "Billed total is required.", models.SeverityError)
	}
	if len(inv.LineItems) == 0 {
		c.add(root+".lineItems", "At least one line item is required.", models.SeverityError)
	}
}

// checkFormats covers header-level patterns. Party and bank fields are
// checked by their nested validators.
func checkFormats(c *collector, inv *models.Invoice) {
	if inv.BilledAmount != nil && !blank(inv.BilledAmount.Currency) && !currencyPattern.MatchString(inv.BilledAmount.Currency) {
		c.add(root+".billedAmount.currency", fmt.Sprintf("Currency %q must be a 3-letter uppercase code.", inv.BilledAmount.Currency), models.SeverityError)
	}
}

// checkDates parses both dates and, when both parse, requires the due date to
// fall strictly after the billing date.
func checkDates(c *collector, inv *models.Invoice) {
	billing, billingOK := parseDateField(c, root+".billingDate", "Billing date", inv.BillingDate)
	due, dueOK := parseDateField(c, root+".dueDate", "Due date", inv.DueDate)
	if billingOK && dueOK && !due.After(billing) {
		c.add(root+".dueDate", "Due date must be after the billing date.", models.SeverityError)
	}
}

func parseDateField(c *collector, path, label, value string) (time.Time, bool) {
	if blank(value) {
		return time.Time{}, false
	}
	t, ok := ParseDate(value)
	if !ok {
		c.add(path, fmt.Sprintf("%s %q is not in a recognised date format.", label, value), models.SeverityError)
	}
	return t, ok
}

func validateParty(c *collector, path string, party *models.Party, gstinRecommended bool) {
	if party == nil {
		return
	}
	if blank(party.Name) {
		c.add(path+".name", "Name is required.", models.SeverityError)
	}
	switch {
	case !blank(party.GSTIN) && !gstinPattern.MatchString(party.GSTIN):
		c.add(path+".gstin", fmt.Sprintf("GST number %q must be 15 alphanumeric characters.", party.GSTIN), models.SeverityError)
	case blank(party.GSTIN) && gstinRecommended:
		c.add(path+".gstin", "GST number is not provided.", models.SeverityWarning)
	}
	if !blank(party.PAN) && !panPattern.MatchString(party.PAN) {
		c.add(path+".pan", fmt.Sprintf("PAN %q must be 5 letters, 4 digits and 1 letter.", party.PAN), models.SeverityError)
	}
	if !blank(party.Email) && !emailPattern.MatchString(party.Email) {
		c.add(path+".email", fmt.Sprintf("Email %q is not a valid address.", party.Email), models.SeverityError)
	}
	for i := range party.BankDetails {
		validateBankDetail(c, fmt.Sprintf("%s.bankDetails[%d]", path, i), &party.BankDetails[i])
	}
}

func validateBankDetail(c *collector, path string, bank *models.BankDetail) {
	if !blank(bank.IFSC) && !ifscPattern.MatchString(bank.IFSC) {
		c.add(path+".ifsc", fmt.Sprintf("IFSC %q must be 4 letters, a zero and 6 alphanumeric characters.", bank.IFSC), models.SeverityError)
	}
	if !blank(bank.UPIID) && !upiPattern.MatchString(bank.UPIID) {
		c.add(path+".upiId", fmt.Sprintf("UPI id %q must look like name@bank.", bank.UPIID), models.SeverityError)
	}
	if !blank(bank.AccountNumber) && !accountNumberPattern.MatchString(bank.AccountNumber) {
		c.add(path+".accountNumber", "Account number must be 6 to 18 digits.", models.SeverityError)
	}
	if blank(bank.AccountNumber) && blank(bank.UPIID) {
		c.add(path, "Bank detail needs an account number or a UPI id.", models.SeverityError)
	}
}
