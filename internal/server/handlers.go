package server

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"sketchroom/internal/domain"
	"sketchroom/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const maxFrameSize = 256 * 1024

func (s *Server) handleWebSocket(c echo.Context) error {
	ip := clientIP(c)

	if !s.limiter.Acquire() {
		metrics.ConnectionsRejected.WithLabelValues("global").Inc()
		return c.String(http.StatusServiceUnavailable, "Server at capacity")
	}
	defer s.limiter.Release()

	if !s.ipLimiter.Acquire(ip) {
		metrics.ConnectionsRejected.WithLabelValues("per_ip").Inc()
		return c.String(http.StatusTooManyRequests, "Too many connections from this address")
	}
	defer s.ipLimiter.Release(ip)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("Failed to upgrade WebSocket", "error", err)
		return nil
	}
	conn.SetReadLimit(maxFrameSize)

	connID := uuid.New()
	s.hub.Register(connID, conn)
	slog.Debug("Connection established", "conn_id", connID.String(), "ip", ip)

	s.readPump(connID, conn)

	// The registry tears down the user and room membership; the hub stops the
	// writer and closes the connection.
	s.registry.Disconnect(connID)
	s.hub.Unregister(connID)
	slog.Debug("Connection closed", "conn_id", connID.String())

	return nil
}

// readPump decodes inbound frames and feeds them to the registry until the
// connection drops. Cursor updates are throttled per connection; everything
// over the budget is dropped, never queued.
func (s *Server) readPump(connID uuid.UUID, conn *websocket.Conn) {
	cursorLimiter := rate.NewLimiter(rate.Limit(s.config.CursorRateLimit), s.config.CursorRateBurst)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Read error", "conn_id", connID.String(), "error", err)
			}
			return
		}

		ev, err := domain.DecodeInbound(frame)
		if err != nil {
			metrics.MalformedFramesTotal.Inc()
			slog.Debug("Dropping malformed frame", "conn_id", connID.String(), "error", err)
			continue
		}

		if _, ok := ev.(domain.CursorUpdate); ok && !cursorLimiter.Allow() {
			metrics.CursorUpdatesThrottled.Inc()
			continue
		}

		s.registry.Dispatch(connID, ev)
	}
}

func clientIP(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}
