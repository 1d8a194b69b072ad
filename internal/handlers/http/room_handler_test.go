package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"pointlink/internal/infrastructure/middleware"
	"pointlink/internal/infrastructure/signal"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(registry *signal.Registry) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	NewRoomHandler(registry).SetupRoutes(router)
	return router
}

func doGet(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(signal.NewRegistry())

	rec, body := doGet(t, router, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["connections"])
}

func TestListRooms(t *testing.T) {
	registry := signal.NewRegistry()
	registry.Join("lobby", "alice", &signal.Client{})
	registry.Join("lobby", "bob", &signal.Client{})
	registry.Join("standup", "carol", &signal.Client{})

	router := newTestRouter(registry)

	rec, body := doGet(t, router, "/api/v1/rooms")
	require.Equal(t, http.StatusOK, rec.Code)

	rooms, ok := body["rooms"].([]any)
	require.True(t, ok)
	require.Len(t, rooms, 2)

	first := rooms[0].(map[string]any)
	assert.Equal(t, "lobby", first["id"])
	assert.ElementsMatch(t, []any{"alice", "bob"}, first["members"].([]any))
}

func TestGetRoom(t *testing.T) {
	registry := signal.NewRegistry()
	registry.Join("lobby", "alice", &signal.Client{})

	router := newTestRouter(registry)

	rec, body := doGet(t, router, "/api/v1/rooms/lobby")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lobby", body["id"])
}

func TestGetRoomNotFound(t *testing.T) {
	router := newTestRouter(signal.NewRegistry())

	rec, body := doGet(t, router, "/api/v1/rooms/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["error"])
}
