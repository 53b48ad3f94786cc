package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// StorageEventFunc returns a CloudEvent function for storage "object
// finalized" events. Malformed events are dropped; pipeline failures are
// returned so the trigger redelivers.
func StorageEventFunc(p Pipeline) func(context.Context, cloudevents.Event) error {
	return func(ctx context.Context, e cloudevents.Event) error {
		var obj models.StorageObject
		if err := e.DataAs(&obj); err != nil {
			slog.Error("Failed to decode storage event.", "eventId", e.ID(), "error", err, "data", string(e.Data()))
			return fmt.Errorf("event.DataAs: %w", err)
		}
		slog.Info("Storage object finalized.", "eventId", e.ID(), "bucket", obj.Bucket, "gcsObject", obj.Name)

		err := p.HandleFileUploaded(ctx, obj)
		var appErr *models.AppError
		if errors.As(err, &appErr) && (appErr.Code == models.CodeInvalidRequest || appErr.Code == models.CodeNotFound) {
			// Objects outside the collection layout are not ours to process.
			slog.Warn("Ignoring storage event.", "gcsObject", obj.Name, "error", err)
			return nil
		}
		return err
	}
}
