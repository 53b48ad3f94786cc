package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// Server-sent event names.
const (
	eventStatus   = "status"
	eventComplete = "complete"
)

// KeepAliveInterval is how often an idle stream sends a comment line.
var KeepAliveInterval = 15 * time.Second

// StreamCollection GET /collections/{collectionId}/events
//
// The stored snapshot is sent first, then live events until the collection's
// stream completes or the client disconnects.
func (h *Handler) StreamCollection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["collectionId"]
	snapshot, sub, err := h.pipeline.Watch(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	if sub != nil {
		defer sub.Cancel()
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	logCtx := slog.With("collectionId", id)
	if err := writeEvent(w, eventStatus, snapshot); err != nil {
		logCtx.Debug("Stream client went away.", "error", err)
		return
	}
	_ = rc.Flush()

	if sub == nil {
		_ = writeEvent(w, eventComplete, snapshot)
		_ = rc.Flush()
		return
	}

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()
	last := snapshot
	for {
		select {
		case <-r.Context().Done():
			logCtx.Debug("Stream client disconnected.")
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				_ = writeEvent(w, eventComplete, last)
				_ = rc.Flush()
				return
			}
			last = ev
			if err := writeEvent(w, eventStatus, ev); err != nil {
				logCtx.Debug("Stream client went away.", "error", err)
				return
			}
			_ = rc.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, ev models.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
