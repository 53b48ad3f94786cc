package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Invoice Extractor Model Prompts ---
const InvoiceExtractorSystemPrompt = "You are an invoice data extraction tool. Your task is to read an invoice document and return its contents as a single JSON object. Accuracy and completeness are of utmost importance; never invent values that are not on the document."

// InvoiceExtractionPrompt is sent with every extraction task. The field names
// match the structured invoice stored on each document.
const InvoiceExtractionPrompt = `Extract the invoice in the attached document into a JSON object with exactly this shape:

{
  "invoiceNumber": string,
  "billingDate": string,            // as printed, e.g. "01/04/2024" or "1 Apr 2024"
  "dueDate": string,
  "placeOfSupply": string,
  "customer": Party,
  "vendor": Party,
  "billedAmount": {"currency": "INR", "subTotal": number, "taxTotal": number, "total": number, "amountDue": number},
  "lineItems": [
    {
      "description": string,
      "hsnCode": string,
      "quantity": {"value": number, "unit": string},
      "rate": number,
      "discount": {"amount": number, "percentage": number},
      "taxes": [{"type": "CGST" | "SGST" | "IGST" | string, "rate": number, "amount": number}],
      "amount": number
    }
  ],
  "notes": string
}

Party is {"name", "gstin", "pan", "email", "phone", "address": {"line1", "line2", "city", "state", "postalCode", "country"}, "bankDetails": [{"accountName", "accountNumber", "bankName", "branch", "ifsc", "upiId"}]}.

Rules:
1.  Copy identifiers (GSTIN, PAN, IFSC, UPI id, account number) exactly as printed.
2.  Numbers must be plain JSON numbers without currency symbols or thousands separators.
3.  Omit any field that is not present on the document. Do not guess.
4.  Line item "amount" is the final amount for the line including its taxes.
5.  Return ONLY the JSON object. Do not surround it with backtick fences or add any commentary.`

// VertexClient holds the pre-configured generative models of the pipeline.
type VertexClient struct {
	InvoiceExtractorModel *genai.GenerativeModel
	baseClient            *genai.Client
}

// NewVertexClient creates a new client holding the invoice extractor model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	extractorModel := baseClient.GenerativeModel(modelName)
	extractorModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(InvoiceExtractorSystemPrompt)},
	}
	extractorModel.GenerationConfig = genai.GenerationConfig{
		// The callback carries the response verbatim; it must parse as JSON.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	extractorModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		InvoiceExtractorModel: extractorModel,
		baseClient:            baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
