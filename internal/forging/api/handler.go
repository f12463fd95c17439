package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tradinta-forging/internal/auth"
	"tradinta-forging/internal/forging"
	"tradinta-forging/internal/logger"
	"tradinta-forging/internal/models"
	"tradinta-forging/internal/utils"
)

type ForgingService interface {
	ProposeEvent(ctx context.Context, sellerID string, req models.ProposeEventRequest) (*models.ForgingEvent, error)
	RespondToProposal(ctx context.Context, partnerID, eventID string, accept bool) (*models.ForgingEvent, error)
	Pledge(ctx context.Context, buyerID, eventID string) (*models.PledgeResult, error)
	GetEvent(ctx context.Context, eventID string) (*models.ForgingEventView, error)
	ListEventsBySeller(ctx context.Context, sellerID string) ([]models.ForgingEventView, error)
	ListEventsForPartner(ctx context.Context, partnerID string) ([]models.ForgingEventView, error)
	ListActiveEvents(ctx context.Context) ([]models.ForgingEventView, error)
	ListPledgesByBuyer(ctx context.Context, buyerID string) ([]models.PledgeWithEvent, error)
	ForceEnd(ctx context.Context, adminID string, isAdmin bool, eventID string) (*models.ForgingEvent, error)
	CompletePledgePurchase(ctx context.Context, buyerID, eventID string) (*models.CheckoutResponse, error)
	ApplyPrice(ctx context.Context, sellerID, productID string, req models.ApplyPriceRequest) (*models.MarginReport, error)
}

type ProgressSubscriber interface {
	Subscribe(ctx context.Context, eventID string) <-chan models.ProgressUpdate
}

type Handler struct {
	Service   ForgingService
	Progress  ProgressSubscriber
	Logger    *logger.Logger
	AdminRole string
}

func NewHandler(service ForgingService, progress ProgressSubscriber, log *logger.Logger, adminRole string) *Handler {
	return &Handler{
		Service:   service,
		Progress:  progress,
		Logger:    log,
		AdminRole: adminRole,
	}
}

// RegisterRoutes registers the forging routes on a chi router. The caller
// is expected to have mounted auth.Middleware already.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/forging", func(r chi.Router) {
		r.Post("/events", h.ProposeEvent)
		r.Get("/events", h.ListEvents)
		r.Route("/events/{eventId}", func(r chi.Router) {
			r.Get("/", h.GetEvent)
			r.Post("/respond", h.RespondToProposal)
			r.Post("/pledges", h.Pledge)
			r.Post("/checkout", h.Checkout)
			r.With(auth.RequireRole(h.AdminRole)).Post("/end", h.ForceEnd)
			r.Get("/stream", h.StreamProgress)
		})
		r.Get("/pledges", h.ListMyPledges)
		r.Post("/margin", h.CalculateMargins)
		r.Put("/products/{productId}/price", h.ApplyPrice)
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", map[string]string{"status": "healthy"}))
}

func (h *Handler) ProposeEvent(w http.ResponseWriter, r *http.Request) {
	sellerID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("ProposeEvent: seller=%s", sellerID))

	var req models.ProposeEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("ProposeEvent: failed to decode request body: %v", err))
		h.badRequest(w, "Invalid request body: "+err.Error())
		return
	}

	event, err := h.Service.ProposeEvent(r.Context(), sellerID, req)
	if err != nil {
		h.writeError(w, "ProposeEvent", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Forging event created", event))
	h.Logger.Info("API", fmt.Sprintf("ProposeEvent: created %s with status %s", event.ID, event.Status))
}

// ListEvents serves the seller dashboard (seller=me), the partner dashboard
// (partner=me) and the public list of live deals (default).
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)
	q := r.URL.Query()

	var (
		events []models.ForgingEventView
		err    error
	)
	switch {
	case q.Get("seller") != "":
		sellerID := q.Get("seller")
		if sellerID == "me" {
			sellerID = userID
		}
		events, err = h.Service.ListEventsBySeller(ctx, sellerID)
	case q.Get("partner") != "":
		if p := q.Get("partner"); p != "me" && p != userID {
			h.writeError(w, "ListEvents", fmt.Errorf("%w: partners can only list their own events", forging.ErrNotAuthorized))
			return
		}
		events, err = h.Service.ListEventsForPartner(ctx, userID)
	case q.Get("status") == "" || q.Get("status") == string(models.ForgingStatusActive):
		events, err = h.Service.ListActiveEvents(ctx)
	default:
		h.badRequest(w, "Unsupported status filter: "+q.Get("status"))
		return
	}
	if err != nil {
		h.writeError(w, "ListEvents", err)
		return
	}
	h.Logger.Debug("API", fmt.Sprintf("ListEvents: %d events for %s", len(events), r.URL.RawQuery))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Forging events", events))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	h.Logger.Info("API", fmt.Sprintf("GetEvent: eventId=%s", eventID))

	view, err := h.Service.GetEvent(r.Context(), eventID)
	if err != nil {
		h.writeError(w, "GetEvent", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Forging event", view))
}

func (h *Handler) RespondToProposal(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	partnerID := auth.UserID(r.Context())

	var body struct {
		Accept *bool `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Accept == nil {
		h.badRequest(w, `Request body must be {"accept": true|false}`)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("RespondToProposal: eventId=%s partner=%s accept=%t", eventID, partnerID, *body.Accept))

	event, err := h.Service.RespondToProposal(r.Context(), partnerID, eventID, *body.Accept)
	if err != nil {
		h.writeError(w, "RespondToProposal", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Proposal "+string(event.Status), event))
}

func (h *Handler) Pledge(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	buyerID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("Pledge: eventId=%s buyer=%s", eventID, buyerID))

	result, err := h.Service.Pledge(r.Context(), buyerID, eventID)
	if err != nil {
		h.writeError(w, "Pledge", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Pledge recorded", result))
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	buyerID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("Checkout: eventId=%s buyer=%s", eventID, buyerID))

	resp, err := h.Service.CompletePledgePurchase(r.Context(), buyerID, eventID)
	if err != nil {
		h.writeError(w, "Checkout", err)
		return
	}
	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	utils.WriteJSON(w, status, utils.SuccessResponse("Order ready for payment", resp))
}

func (h *Handler) ForceEnd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := chi.URLParam(r, "eventId")
	adminID := auth.UserID(ctx)
	h.Logger.Info("API", fmt.Sprintf("ForceEnd: eventId=%s admin=%s", eventID, adminID))

	event, err := h.Service.ForceEnd(ctx, adminID, auth.HasRole(ctx, h.AdminRole), eventID)
	if err != nil {
		h.writeError(w, "ForceEnd", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Forging event ended", event))
}

func (h *Handler) ListMyPledges(w http.ResponseWriter, r *http.Request) {
	buyerID := auth.UserID(r.Context())
	pledges, err := h.Service.ListPledgesByBuyer(r.Context(), buyerID)
	if err != nil {
		h.writeError(w, "ListMyPledges", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Pledges", pledges))
}

func (h *Handler) CalculateMargins(w http.ResponseWriter, r *http.Request) {
	var req models.MarginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Invalid request body: "+err.Error())
		return
	}
	report, err := forging.CalculateMargins(req.UnitCost, req.B2BPrice, req.Tiers)
	if err != nil {
		h.writeError(w, "CalculateMargins", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Margin report", report))
}

func (h *Handler) ApplyPrice(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	sellerID := auth.UserID(r.Context())

	var req models.ApplyPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Invalid request body: "+err.Error())
		return
	}
	h.Logger.Info("API", fmt.Sprintf("ApplyPrice: product=%s seller=%s price=%s", productID, sellerID, req.B2BPrice.String()))

	report, err := h.Service.ApplyPrice(r.Context(), sellerID, productID, req)
	if err != nil {
		if report != nil && errors.Is(err, forging.ErrValidation) {
			resp := utils.ErrorResponse("Price not applied", err.Error())
			resp.Data = report
			utils.WriteJSON(w, http.StatusBadRequest, resp)
			return
		}
		h.writeError(w, "ApplyPrice", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Price applied", report))
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, forging.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, forging.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, forging.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, forging.ErrEventNotActive),
		errors.Is(err, forging.ErrEventNotFinished),
		errors.Is(err, forging.ErrEventNotProposed),
		errors.Is(err, forging.ErrAlreadyPledged),
		errors.Is(err, forging.ErrPledgeInProgress):
		return http.StatusConflict
	case errors.Is(err, forging.ErrExternalService):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		msg = "internal error, please retry"
	} else {
		h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteJSON(w, status, utils.ErrorResponse(http.StatusText(status), msg))
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse(http.StatusText(http.StatusBadRequest), msg))
}

// RequestLogger logs one line per request through the service logger.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.LogAPI(r.Method, r.URL.Path, fmt.Sprintf("%d", ww.Status()), time.Since(start).String())
		})
	}
}
