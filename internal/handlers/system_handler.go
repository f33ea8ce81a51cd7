package handlers

import (
	"net/http"
	"time"

	"event-ticket/utils"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type SystemHandler struct {
	redis   redis.Cmdable
	backend string
}

// NewSystemHandler builds the health and profile handlers. A nil client means
// the in-memory backend, which is always healthy.
func NewSystemHandler(client redis.Cmdable, backend string) *SystemHandler {
	return &SystemHandler{redis: client, backend: backend}
}

func (h *SystemHandler) Health(e *core.RequestEvent) error {
	body := map[string]any{
		"status":    "healthy",
		"backend":   h.backend,
		"timestamp": time.Now().UTC(),
	}
	if h.redis != nil {
		if err := utils.RedisHealthCheck(e.Request.Context(), h.redis); err != nil {
			body["status"] = "unhealthy"
			body["error"] = "redis unreachable"
			return e.JSON(http.StatusServiceUnavailable, body)
		}
	}
	return e.JSON(http.StatusOK, body)
}

func (h *SystemHandler) Me(e *core.RequestEvent) error {
	return e.JSON(http.StatusOK, currentUser(e))
}
