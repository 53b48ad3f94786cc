package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"
	"github.com/go-resty/resty/v2"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/models"
)

const pdfMIMEType = "application/pdf"

// ContentGenerator is the part of a generative model the extractor uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// ArchiveFunc stores the raw model output under objectName.
type ArchiveFunc func(ctx context.Context, objectName, content string) error

// ExtractorFunction runs one extraction task: it fetches the source through
// its download link, asks the model for the invoice JSON and posts the result
// to the task's callback address.
type ExtractorFunction struct {
	http    *resty.Client
	model   ContentGenerator
	archive ArchiveFunc
	pdfConf *model.Configuration
	closer  func() error
}

// NewExtractor creates an ExtractorFunction backed by Vertex AI and, when
// RAW_EXTRACTION_BUCKET is set, a GCS archive of raw model output.
func NewExtractor(ctx context.Context, cfg *config.ExtractorConfig) (*ExtractorFunction, error) {
	vertexClient, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.VertexModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	var archive ArchiveFunc
	closers := []func() error{vertexClient.Close}
	if cfg.RawExtractionBucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			_ = vertexClient.Close()
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		bucket := storageClient.Bucket(cfg.RawExtractionBucket)
		archive = func(ctx context.Context, objectName, content string) error {
			return gcp.SaveToGCSAtomically(ctx, bucket, objectName, content)
		}
		closers = append(closers, storageClient.Close)
	}

	f := NewExtractorFunction(resty.New(), vertexClient.InvoiceExtractorModel, archive)
	f.closer = func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	return f, nil
}

// NewExtractorFunction wires an extractor from its parts. archive may be nil.
func NewExtractorFunction(client *resty.Client, gen ContentGenerator, archive ArchiveFunc) *ExtractorFunction {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &ExtractorFunction{http: client, model: gen, archive: archive, pdfConf: conf}
}

// Close releases the underlying clients.
func (f *ExtractorFunction) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer()
}

// Process extracts the document of task and delivers the callback. Extraction
// failures are reported inside the callback; the returned error is non-nil
// only when the callback could not be delivered.
func (f *ExtractorFunction) Process(ctx context.Context, task *models.ExtractionTask) (*models.ExtractionCallback, error) {
	logCtx := slog.With("collectionId", task.CollectionID, "documentId", task.DocumentID)
	logCtx.Info("Starting extraction.")

	cb := &models.ExtractionCallback{
		ID:       task.DocumentID,
		Name:     task.Name,
		Path:     models.StoragePath(task.TenantID, task.CollectionID, task.DocumentID, task.Name),
		Type:     task.ContentType,
		Metadata: map[string]string{},
	}

	raw, err := f.extract(ctx, task, cb)
	if err != nil {
		logCtx.Error("Extraction failed.", "error", err)
		cb.Error = err.Error()
	} else {
		cb.ParsedData = raw
	}

	if task.CallbackURL == "" {
		return cb, errors.New("task has no callback address")
	}
	resp, err := f.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(cb).
		Post(task.CallbackURL)
	if err != nil {
		return cb, fmt.Errorf("failed to post callback: %w", err)
	}
	if resp.IsError() {
		return cb, fmt.Errorf("callback rejected with status %d: %s", resp.StatusCode(), resp.String())
	}
	logCtx.Info("Extraction callback delivered.", "failed", cb.Error != "")
	return cb, nil
}

func (f *ExtractorFunction) extract(ctx context.Context, task *models.ExtractionTask, cb *models.ExtractionCallback) (string, error) {
	if task.DownloadURL == "" {
		return "", errors.New("task has no download link")
	}
	resp, err := f.http.R().SetContext(ctx).Get(task.DownloadURL)
	if err != nil {
		return "", fmt.Errorf("failed to download source: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("source download returned status %d", resp.StatusCode())
	}
	data := resp.Body()
	if len(data) == 0 {
		return "", errors.New("source document is empty")
	}

	mimeType := task.ContentType
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	cb.Type = mimeType

	if mimeType == pdfMIMEType {
		pages, err := api.PageCount(bytes.NewReader(data), f.pdfConf)
		if err != nil {
			return "", fmt.Errorf("source is not a readable PDF: %w", err)
		}
		cb.Metadata[MetadataPageCount] = strconv.Itoa(pages)
	}

	prompt := task.Prompt
	if prompt == "" {
		prompt = gcp.InvoiceExtractionPrompt
	}
	geminiResp, err := f.model.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	content := extractText(geminiResp)
	if content == "" {
		return "", errors.New("gemini returned no text")
	}
	if refused(content) {
		return "", errors.New("gemini response indicates refusal")
	}

	if f.archive != nil {
		objectName := fmt.Sprintf("%s/%s/%s.json", task.TenantID, task.CollectionID, task.DocumentID)
		if err := f.archive(ctx, objectName, content); err != nil {
			// The callback carries the content; a lost archive copy is not fatal.
			slog.Warn("Failed to archive raw extraction.", "documentId", task.DocumentID, "error", err)
		}
	}
	return content, nil
}

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

func refused(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// extractText concatenates the text parts of the first candidate and strips
// markdown fences.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	out := strings.TrimSpace(sb.String())
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}
