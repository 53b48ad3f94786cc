package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInvoice() *Invoice {
	return &Invoice{
		InvoiceNumber: "INV-2024-001",
		BillingDate:   "2024-04-01",
		DueDate:       "2024-04-30",
		PlaceOfSupply: "Karnataka",
		Customer: &Party{
			Name:  "Acme Retail",
			GSTIN: "29ABCDE1234F1Z5",
			Address: &Address{
				City:  "Bengaluru",
				State: "Karnataka",
			},
		},
		Vendor: &Party{
			Name:  "Widget Works",
			GSTIN: "27ABCDE1234F1Z5",
			PAN:   "ABCDE1234F",
			BankDetails: []BankDetail{{
				AccountNumber: "0011223344",
				IFSC:          "HDFC0001234",
				UPIID:         "widgets@hdfc",
			}},
		},
		BilledAmount: &BilledAmount{Currency: "INR", SubTotal: Float(1575), TaxTotal: Float(283.5), Total: Float(1858.5)},
		LineItems: []LineItem{{
			Description: "Widget",
			Quantity:    &Quantity{Value: 5, Unit: "Pcs."},
			Rate:        Float(315),
			Discount:    &Discount{Percentage: Float(0)},
			Taxes: []Tax{
				{Type: "CGST", Rate: Float(9), Amount: Float(141.75)},
				{Type: "SGST", Rate: Float(9), Amount: Float(141.75)},
			},
			Amount: Float(1858.5),
		}},
	}
}

func TestInvoice_RoundTrip(t *testing.T) {
	t.Parallel()

	original := sampleInvoice()
	raw, err := json.Marshal(original)
	require.NoError(t, err)

	parsed, err := ParseInvoice(string(raw))
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestParseInvoice(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(sampleInvoice())
	require.NoError(t, err)

	t.Run("fenced", func(t *testing.T) {
		t.Parallel()
		inv, err := ParseInvoice("```json\n" + string(raw) + "\n```")
		require.NoError(t, err)
		assert.Equal(t, "INV-2024-001", inv.InvoiceNumber)
	})

	t.Run("enveloped", func(t *testing.T) {
		t.Parallel()
		inv, err := ParseInvoice(`{"invoice":` + string(raw) + `}`)
		require.NoError(t, err)
		assert.Equal(t, "Widget Works", inv.Vendor.Name)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		_, err := ParseInvoice("  ``` ```  ")
		assert.True(t, errors.Is(err, ErrEmptyExtraction))
	})

	t.Run("not json", func(t *testing.T) {
		t.Parallel()
		_, err := ParseInvoice("Invoice number 42, total 100")
		assert.Error(t, err)
	})
}

func TestParseStoragePath(t *testing.T) {
	t.Parallel()

	p, err := ParseStoragePath("tenant-1/col-1/doc-1/invoice.pdf")
	require.NoError(t, err)
	assert.Equal(t, ObjectPath{TenantID: "tenant-1", CollectionID: "col-1", DocumentID: "doc-1", Filename: "invoice.pdf"}, p)
	assert.Equal(t, "tenant-1/col-1/doc-1/invoice.pdf", p.String())

	for _, bad := range []string{"", "a/b/c", "a/b/c/d/e", "a//c/d"} {
		_, err := ParseStoragePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestAppError(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := NewError(CodeResourceNotFound, cause).ForDocument("doc-1")

	assert.Equal(t, CodeResourceNotFound, CodeOf(err))
	assert.Equal(t, "doc-1", err.DocumentID)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeInvoiceProcessing, CodeOf(cause))

	for code := range errorMessages {
		assert.NotEmpty(t, code.Message())
	}
}
