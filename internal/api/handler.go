package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"venfurneer-orders/internal/models"
	"venfurneer-orders/internal/service"
	"venfurneer-orders/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	checkout *service.CheckoutService
	query    *service.QueryService
}

// NewHandler creates a new HTTP handler
func NewHandler(checkout *service.CheckoutService, query *service.QueryService) *Handler {
	return &Handler{
		checkout: checkout,
		query:    query,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.placeOrder)
		v1.GET("/orders/:number", h.getOrder)
		v1.POST("/orders/:number/payment", h.initiatePayment)
		v1.POST("/payments/verify", h.confirmPayment)
		v1.PATCH("/admin/orders/:number/status", h.updateStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// placeOrder handles checkout submissions
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.checkout.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// initiatePayment creates a gateway intent for an order
func (h *Handler) initiatePayment(c *gin.Context) {
	resp, err := h.checkout.InitiatePayment(c.Request.Context(), c.Param("number"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// confirmPayment reconciles a claimed gateway payment result
func (h *Handler) confirmPayment(c *gin.Context) {
	var req service.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.checkout.ConfirmPayment(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_number":   order.OrderNumber,
		"status":         order.Status,
		"payment_status": order.PaymentStatus,
		"total":          order.Total,
	})
}

// getOrder renders the confirmation-page view of an order
func (h *Handler) getOrder(c *gin.Context) {
	view, err := h.query.GetByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

type updateStatusRequest struct {
	Status        models.OrderStatus   `json:"status,omitempty"`
	PaymentStatus models.PaymentStatus `json:"payment_status,omitempty"`
}

// updateStatus applies an administrative status transition
func (h *Handler) updateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if req.Status == "" && req.PaymentStatus == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "status or payment_status is required",
		})
		return
	}

	number := c.Param("number")
	if req.Status != "" {
		if err := h.checkout.UpdateStatus(c.Request.Context(), number, req.Status); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.PaymentStatus != "" {
		if err := h.checkout.UpdatePaymentStatus(c.Request.Context(), number, req.PaymentStatus); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"order_number": number, "updated": true})
}

// respondError maps the domain error taxonomy onto HTTP responses.
// Signature failures get a deliberately generic message; the expected
// signature must never appear in a response.
func respondError(c *gin.Context, err error) {
	switch {
	case models.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrUnknownOrder):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, models.ErrSignatureMismatch):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Payment could not be verified, please contact support or retry",
		})
	case errors.Is(err, models.ErrGatewayTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":     "Payment gateway timed out",
			"retryable": true,
		})
	case errors.Is(err, models.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     "Payment gateway unavailable",
			"retryable": true,
		})
	case errors.Is(err, models.ErrIllegalTransition), errors.Is(err, models.ErrPaymentConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
