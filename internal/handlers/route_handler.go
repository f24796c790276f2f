package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rutaviva/booking-backend/internal/models"
	"github.com/rutaviva/booking-backend/internal/repository"
)

// RouteHandler exposes the admin CRUD surface for route/schedule reference
// data, the oracle the fare resolver reads.
type RouteHandler struct {
	routes *repository.RouteRepository
	logger *logrus.Logger
}

// NewRouteHandler creates a new RouteHandler.
func NewRouteHandler(routes *repository.RouteRepository, logger *logrus.Logger) *RouteHandler {
	return &RouteHandler{routes: routes, logger: logger}
}

// List handles GET /api/v1/admin/routes.
func (h *RouteHandler) List(c *gin.Context) {
	routes, err := h.routes.List()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list routes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"routes": routes})
}

// Get handles GET /api/v1/admin/routes/:key.
func (h *RouteHandler) Get(c *gin.Context) {
	route, err := h.routes.GetByKey(c.Param("key"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to load route")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if route == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
		return
	}
	c.JSON(http.StatusOK, route)
}

// Create handles POST /api/v1/admin/routes.
func (h *RouteHandler) Create(c *gin.Context) {
	var route models.Route
	if err := c.ShouldBindJSON(&route); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := route.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.routes.Create(&route); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	h.logger.WithField("route_key", route.Key).Info("Route created")
	c.JSON(http.StatusCreated, route)
}

// Update handles PUT /api/v1/admin/routes/:key.
func (h *RouteHandler) Update(c *gin.Context) {
	var route models.Route
	if err := c.ShouldBindJSON(&route); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := route.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if models.RouteKey(route.Origin, route.Destination) != c.Param("key") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "route key does not match origin/destination"})
		return
	}

	if err := h.routes.Update(&route); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	h.logger.WithField("route_key", route.Key).Info("Route updated")
	c.JSON(http.StatusOK, route)
}

// Delete handles DELETE /api/v1/admin/routes/:key.
func (h *RouteHandler) Delete(c *gin.Context) {
	key := c.Param("key")
	if err := h.routes.Delete(key); err != nil {
		h.logger.WithError(err).Error("Failed to delete route")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.logger.WithField("route_key", key).Info("Route deleted")
	c.JSON(http.StatusOK, gin.H{"deleted": key})
}
