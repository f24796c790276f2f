package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rutaviva/booking-backend/internal/models"
	"github.com/rutaviva/booking-backend/internal/payment"
	"github.com/rutaviva/booking-backend/internal/services"
)

// BookingHandler exposes the booking flow over HTTP. The webhook and the
// poll endpoint are both thin callers of the same idempotent Confirm.
type BookingHandler struct {
	orchestrator *services.BookingOrchestratorService
	gateway      payment.Gateway
	logger       *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(
	orchestrator *services.BookingOrchestratorService,
	gateway payment.Gateway,
	logger *logrus.Logger,
) *BookingHandler {
	return &BookingHandler{
		orchestrator: orchestrator,
		gateway:      gateway,
		logger:       logger,
	}
}

// CheckAvailability handles GET /api/v1/availability.
func (h *BookingHandler) CheckAvailability(c *gin.Context) {
	origin := c.Query("origin")
	destination := c.Query("destination")
	date := c.Query("date")
	departure := c.Query("departure")
	if origin == "" || destination == "" || date == "" || departure == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "origin, destination, date and departure are required"})
		return
	}

	resp, err := h.orchestrator.CheckAvailability(origin, destination, date, departure)
	if err != nil {
		if errors.Is(err, services.ErrFareNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown route or departure"})
			return
		}
		h.logger.WithError(err).Error("Failed to check availability")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StartCheckout handles POST /api/v1/checkout.
func (h *BookingHandler) StartCheckout(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	resp, err := h.orchestrator.StartCheckout(c.Request.Context(), &req)
	if err != nil {
		var conflict *models.SeatConflictError
		switch {
		case errors.As(err, &conflict):
			c.JSON(http.StatusConflict, gin.H{
				"error": "seat_unavailable",
				"seat":  conflict.Seat,
			})
		case errors.Is(err, services.ErrFareNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown route or departure"})
		default:
			h.logger.WithError(err).Error("Failed to start checkout")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Confirm handles POST /api/v1/bookings/confirm, the polling path used by
// the frontend after the provider redirects back.
func (h *BookingHandler) Confirm(c *gin.Context) {
	var req models.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result, err := h.orchestrator.Confirm(c.Request.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, services.ErrIntentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
			return
		}
		h.logger.WithError(err).Error("Failed to confirm booking")
		c.JSON(http.StatusBadGateway, gin.H{"error": "confirmation failed, please retry"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// PaymentWebhook handles POST /api/v1/payments/webhook. A delivery that
// fails signature verification is rejected with no state change.
func (h *BookingHandler) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	event, err := h.gateway.VerifyWebhookSignature(body, c.GetHeader("X-Signature"))
	if err != nil {
		h.logger.WithError(err).Warn("Rejected webhook delivery")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}

	result, err := h.orchestrator.Confirm(c.Request.Context(), event.SessionID)
	if err != nil {
		if errors.Is(err, services.ErrIntentNotFound) {
			// Acknowledge unknown sessions so the provider stops retrying.
			h.logger.WithField("session_id", event.SessionID).Warn("Webhook for unknown session")
			c.JSON(http.StatusOK, gin.H{"acknowledged": true})
			return
		}
		h.logger.WithError(err).Error("Failed to process webhook")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"acknowledged": true, "status": result.Status})
}

// Cancel handles POST /api/v1/bookings/cancel.
func (h *BookingHandler) Cancel(c *gin.Context) {
	var req models.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result, err := h.orchestrator.Cancel(req.Reference, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrIntentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		case errors.Is(err, services.ErrTripDeparted), errors.Is(err, services.ErrCannotCancel):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.WithError(err).Error("Failed to cancel booking")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetTicket handles GET /api/v1/tickets/:session_id.
func (h *BookingHandler) GetTicket(c *gin.Context) {
	ticket, err := h.orchestrator.GetTicket(c.Param("session_id"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to load ticket")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if ticket == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		return
	}
	c.JSON(http.StatusOK, ticket)
}
