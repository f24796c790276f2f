package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rutaviva/booking-backend/internal/models"
	"github.com/rutaviva/booking-backend/internal/repository"
	"github.com/rutaviva/booking-backend/internal/store"
)

func newRouteRouter(t *testing.T) (*gin.Engine, *repository.RouteRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	routes := repository.NewRouteRepository(store.NewMemoryStore())
	handler := NewRouteHandler(routes, logger)

	router := gin.New()
	admin := router.Group("/api/v1/admin")
	admin.GET("/routes", handler.List)
	admin.POST("/routes", handler.Create)
	admin.GET("/routes/:key", handler.Get)
	admin.PUT("/routes/:key", handler.Update)
	admin.DELETE("/routes/:key", handler.Delete)
	return router, routes
}

func sampleRoute() models.Route {
	return models.Route{
		Origin:          "Monterrey",
		Destination:     "Saltillo",
		DurationMinutes: 90,
		TotalSeats:      40,
		Schedules: []models.Schedule{
			{Departure: "08:00", Arrival: "09:30", Price: 180},
		},
	}
}

func postJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouteCreateAndGet(t *testing.T) {
	router, _ := newRouteRouter(t)

	w := postJSON(t, router, http.MethodPost, "/api/v1/admin/routes", sampleRoute())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.Route
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "monterrey|saltillo", created.Key)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/routes/"+created.Key, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouteCreate_DuplicateRejected(t *testing.T) {
	router, routes := newRouteRouter(t)
	route := sampleRoute()
	require.NoError(t, routes.Create(&route))

	w := postJSON(t, router, http.MethodPost, "/api/v1/admin/routes", sampleRoute())
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRouteCreate_SameOriginDestination(t *testing.T) {
	router, _ := newRouteRouter(t)
	route := sampleRoute()
	route.Destination = "Monterrey"

	w := postJSON(t, router, http.MethodPost, "/api/v1/admin/routes", route)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouteUpdate_KeyMismatch(t *testing.T) {
	router, routes := newRouteRouter(t)
	route := sampleRoute()
	require.NoError(t, routes.Create(&route))

	w := postJSON(t, router, http.MethodPut, "/api/v1/admin/routes/other|key", sampleRoute())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouteDelete(t *testing.T) {
	router, routes := newRouteRouter(t)
	route := sampleRoute()
	require.NoError(t, routes.Create(&route))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/routes/"+route.Key, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := routes.GetByKey(route.Key)
	require.NoError(t, err)
	assert.Nil(t, got)
}
