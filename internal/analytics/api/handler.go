package analytics_api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tradinta-forging/internal/analytics"
	"tradinta-forging/internal/auth"
	"tradinta-forging/internal/logger"
	"tradinta-forging/internal/utils"
)

type AnalyticsService interface {
	GetSellerAnalytics(ctx context.Context, sellerID string) (*analytics.SellerAnalytics, error)
	GetEventAnalytics(ctx context.Context, callerID, eventID string) (*analytics.EventAnalytics, error)
}

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service AnalyticsService
	Logger  *logger.Logger
}

// NewHandler creates a new analytics handler
func NewHandler(service AnalyticsService, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// RegisterRoutes registers the analytics routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/analytics/forging", func(r chi.Router) {
		r.Get("/seller", h.GetSellerAnalytics)
		r.Get("/events/{eventId}", h.GetEventAnalytics)
	})
}

// GetSellerAnalytics serves the caller's own seller dashboard.
func (h *Handler) GetSellerAnalytics(w http.ResponseWriter, r *http.Request) {
	sellerID := auth.UserID(r.Context())
	if sellerID == "" {
		h.Logger.Error("ANALYTICS", "User ID not found in context")
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "Unauthorized access"))
		return
	}

	result, err := h.Service.GetSellerAnalytics(r.Context(), sellerID)
	if err != nil {
		h.Logger.Error("ANALYTICS", "Error getting seller analytics: "+err.Error())
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Internal Server Error", "Failed to get analytics"))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Seller forging analytics", result))
}

func (h *Handler) GetEventAnalytics(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.Logger.Error("ANALYTICS", "User ID not found in context")
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "Unauthorized access"))
		return
	}

	result, err := h.Service.GetEventAnalytics(r.Context(), userID, eventID)
	switch {
	case errors.Is(err, analytics.ErrNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Not Found", err.Error()))
		return
	case errors.Is(err, analytics.ErrForbidden):
		h.Logger.Warn("ANALYTICS", fmt.Sprintf("User %s attempted to read analytics for event %s", userID, eventID))
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "You do not have permission to access these analytics"))
		return
	case err != nil:
		h.Logger.Error("ANALYTICS", "Error getting event analytics: "+err.Error())
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Internal Server Error", "Failed to get analytics"))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Forging event analytics", result))
}
