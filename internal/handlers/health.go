package handlers

import (
	"net/http"

	"github.com/anonto42/nano-midea/fanout/internal/worker"
	"github.com/labstack/echo/v4"
)

// HealthHandler reports liveness and fan-out worker totals
type HealthHandler struct {
	pools []*worker.Pool
}

func NewHealthHandler(pools ...*worker.Pool) *HealthHandler {
	return &HealthHandler{pools: pools}
}

func (h *HealthHandler) HealthCheck(c echo.Context) error {
	lanes := echo.Map{}
	for _, p := range h.pools {
		lanes[p.Name()] = p.Stats()
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":  "healthy",
		"service": "fanout",
		"workers": lanes,
	})
}
