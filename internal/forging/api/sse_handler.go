package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tradinta-forging/internal/forging"
	"tradinta-forging/internal/models"
)

const keepAliveInterval = 25 * time.Second

// StreamProgress streams live buyer-count updates for one forging event.
// The stream ends once the event is finished or declined.
func (h *Handler) StreamProgress(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	view, err := h.Service.GetEvent(ctx, eventID)
	if err != nil {
		h.writeError(w, "StreamProgress", err)
		return
	}

	// Subscribe before writing the snapshot so no update falls in between.
	updates := h.Progress.Subscribe(ctx, eventID)

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	h.writeEvent(w, "snapshot", models.ProgressUpdate{
		ForgingEventID:    view.ID,
		Status:            view.Status,
		CurrentBuyerCount: view.CurrentBuyerCount,
		Snapshot:          view.Snapshot,
		FinalDiscountTier: view.FinalDiscountTier,
		At:                time.Now().UTC(),
	})
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to progress of forging event %s", eventID))

	if terminal(view.Status) {
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.writeEvent(w, "progress", update)
			flusher.Flush()
			if terminal(update.Status) {
				h.Logger.Debug("SSE", fmt.Sprintf("Forging event %s reached %s, closing stream", eventID, update.Status))
				return
			}
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from forging event %s", eventID))
			return
		}
	}
}

func terminal(status models.ForgingEventStatus) bool {
	return status == models.ForgingStatusFinished || status == models.ForgingStatusDeclined
}

func (h *Handler) writeEvent(w http.ResponseWriter, name string, update models.ProgressUpdate) {
	jsonData, err := json.Marshal(update)
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize progress update: %v", err))
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, jsonData)
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

var _ ForgingService = (*forging.ForgingService)(nil)
