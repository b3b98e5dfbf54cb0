package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"sketchroom/internal/version"
)

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := s.clock.Since(s.startTime).Seconds()
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": uptime,
	})
}

// handleReadiness verifies the registry and hub actors still answer queries.
// A -1 reply means the command timed out, i.e. the goroutine is stuck.
func (s *Server) handleReadiness(c echo.Context) error {
	checks := []struct {
		name string
		fn   func() int
	}{
		{"registry", s.registry.RoomCount},
		{"hub", s.hub.ClientCount},
	}

	for _, check := range checks {
		if check.fn() < 0 {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status":       "unhealthy",
				"failed_check": check.name,
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ready",
		"connections": s.limiter.Current(),
	})
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Get())
}
