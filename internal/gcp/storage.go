package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// BlobStore issues V4 signed URLs for the uploads bucket. Objects are named
// tenant/collection/document/filename.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
	ttl    time.Duration
	now    func() time.Time
}

// NewBlobStore returns a BlobStore over bucketName whose links expire after ttl.
func NewBlobStore(client *storage.Client, bucketName string, ttl time.Duration) *BlobStore {
	return &BlobStore{bucket: client.Bucket(bucketName), name: bucketName, ttl: ttl, now: time.Now}
}

// IssueUploadTarget returns a signed PUT URL for path. The client must send
// the same Content-Type header.
func (b *BlobStore) IssueUploadTarget(_ context.Context, path models.ObjectPath, contentType string) (string, error) {
	url, err := b.bucket.SignedURL(path.String(), &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      http.MethodPut,
		ContentType: contentType,
		Expires:     b.now().Add(b.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign upload URL for gs://%s/%s: %w", b.name, path, err)
	}
	return url, nil
}

// IssueDownloadLink returns a signed GET URL for an existing object. A missing
// object yields models.ErrNotFound.
func (b *BlobStore) IssueDownloadLink(ctx context.Context, path models.ObjectPath) (string, error) {
	object := path.String()
	if _, err := b.bucket.Object(object).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", fmt.Errorf("gs://%s/%s: %w", b.name, object, models.ErrNotFound)
		}
		return "", fmt.Errorf("failed to read attributes of gs://%s/%s: %w", b.name, object, err)
	}
	url, err := b.bucket.SignedURL(object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: b.now().Add(b.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign download URL for gs://%s/%s: %w", b.name, object, err)
	}
	return url, nil
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is not a failure: the write is idempotent.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, content string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := io.Copy(writer, strings.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists. Skipping.", "gcsObject", objectName)
			return nil
		}
		slog.Error("Failed to copy content to GCS object.", "gcsObject", objectName, "error", err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists. Skipping.", "gcsObject", objectName)
			return nil
		}
		slog.Error("Failed to close GCS writer.", "gcsObject", objectName, "error", err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
