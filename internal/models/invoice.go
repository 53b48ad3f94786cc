package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Invoice is the typed structure extracted from a source document. Optional
// numeric values are pointers so that "absent" and "zero" stay distinct.
type Invoice struct {
	InvoiceNumber string        `firestore:"invoiceNumber,omitempty" json:"invoiceNumber,omitempty"`
	BillingDate   string        `firestore:"billingDate,omitempty" json:"billingDate,omitempty"`
	DueDate       string        `firestore:"dueDate,omitempty" json:"dueDate,omitempty"`
	PlaceOfSupply string        `firestore:"placeOfSupply,omitempty" json:"placeOfSupply,omitempty"`
	Customer      *Party        `firestore:"customer,omitempty" json:"customer,omitempty"`
	Vendor        *Party        `firestore:"vendor,omitempty" json:"vendor,omitempty"`
	BilledAmount  *BilledAmount `firestore:"billedAmount,omitempty" json:"billedAmount,omitempty"`
	LineItems     []LineItem    `firestore:"lineItems,omitempty" json:"lineItems,omitempty"`
	Notes         string        `firestore:"notes,omitempty" json:"notes,omitempty"`
}

// Party is either side of the invoice.
type Party struct {
	Name        string       `firestore:"name,omitempty" json:"name,omitempty"`
	GSTIN       string       `firestore:"gstin,omitempty" json:"gstin,omitempty"`
	PAN         string       `firestore:"pan,omitempty" json:"pan,omitempty"`
	Email       string       `firestore:"email,omitempty" json:"email,omitempty"`
	Phone       string       `firestore:"phone,omitempty" json:"phone,omitempty"`
	Address     *Address     `firestore:"address,omitempty" json:"address,omitempty"`
	BankDetails []BankDetail `firestore:"bankDetails,omitempty" json:"bankDetails,omitempty"`
}

type Address struct {
	Line1      string `firestore:"line1,omitempty" json:"line1,omitempty"`
	Line2      string `firestore:"line2,omitempty" json:"line2,omitempty"`
	City       string `firestore:"city,omitempty" json:"city,omitempty"`
	State      string `firestore:"state,omitempty" json:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty" json:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty" json:"country,omitempty"`
}

type BankDetail struct {
	AccountName   string `firestore:"accountName,omitempty" json:"accountName,omitempty"`
	AccountNumber string `firestore:"accountNumber,omitempty" json:"accountNumber,omitempty"`
	BankName      string `firestore:"bankName,omitempty" json:"bankName,omitempty"`
	Branch        string `firestore:"branch,omitempty" json:"branch,omitempty"`
	IFSC          string `firestore:"ifsc,omitempty" json:"ifsc,omitempty"`
	UPIID         string `firestore:"upiId,omitempty" json:"upiId,omitempty"`
}

// BilledAmount carries the invoice totals.
type BilledAmount struct {
	Currency  string   `firestore:"currency,omitempty" json:"currency,omitempty"`
	SubTotal  *float64 `firestore:"subTotal,omitempty" json:"subTotal,omitempty"`
	TaxTotal  *float64 `firestore:"taxTotal,omitempty" json:"taxTotal,omitempty"`
	Total     *float64 `firestore:"total,omitempty" json:"total,omitempty"`
	AmountDue *float64 `firestore:"amountDue,omitempty" json:"amountDue,omitempty"`
}

type LineItem struct {
	Description string    `firestore:"description,omitempty" json:"description,omitempty"`
	HSNCode     string    `firestore:"hsnCode,omitempty" json:"hsnCode,omitempty"`
	Quantity    *Quantity `firestore:"quantity,omitempty" json:"quantity,omitempty"`
	Rate        *float64  `firestore:"rate,omitempty" json:"rate,omitempty"`
	Discount    *Discount `firestore:"discount,omitempty" json:"discount,omitempty"`
	Taxes       []Tax     `firestore:"taxes,omitempty" json:"taxes,omitempty"`
	Amount      *float64  `firestore:"amount,omitempty" json:"amount,omitempty"`
}

type Quantity struct {
	Value float64 `firestore:"value" json:"value"`
	Unit  string  `firestore:"unit,omitempty" json:"unit,omitempty"`
}

// Discount is either a direct Amount or a Percentage of quantity × rate.
type Discount struct {
	Amount     *float64 `firestore:"amount,omitempty" json:"amount,omitempty"`
	Percentage *float64 `firestore:"percentage,omitempty" json:"percentage,omitempty"`
}

type Tax struct {
	Type   string   `firestore:"type,omitempty" json:"type,omitempty"`
	Rate   *float64 `firestore:"rate,omitempty" json:"rate,omitempty"`
	Amount *float64 `firestore:"amount,omitempty" json:"amount,omitempty"`
}

// ErrEmptyExtraction is returned by ParseInvoice for blank input.
var ErrEmptyExtraction = errors.New("extracted text is empty")

// ParseInvoice deserializes raw extraction output into an Invoice. Model
// output is frequently wrapped in markdown fences, which are stripped first.
func ParseInvoice(raw string) (*Invoice, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return nil, ErrEmptyExtraction
	}

	// Some prompts return {"invoice": {...}} instead of the bare object.
	var envelope struct {
		Invoice json.RawMessage `json:"invoice"`
	}
	payload := []byte(clean)
	if err := json.Unmarshal(payload, &envelope); err == nil && len(envelope.Invoice) > 0 && !bytes.Equal(envelope.Invoice, []byte("null")) {
		payload = envelope.Invoice
	}

	var inv Invoice
	if err := json.Unmarshal(payload, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse invoice JSON: %w", err)
	}
	return &inv, nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
