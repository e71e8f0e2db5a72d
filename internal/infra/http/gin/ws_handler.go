package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"workly/internal/infra/realtime"
)

// WSHandler authenticates the handshake and hands the socket to the hub.
type WSHandler struct {
	Hub      *realtime.Hub
	Upgrader websocket.Upgrader
	Logger   *slog.Logger
}

func NewWSHandler(hub *realtime.Hub, logger *slog.Logger) WSHandler {
	return WSHandler{
		Hub:    hub,
		Logger: logger,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h WSHandler) Connect(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	ws, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("websocket upgrade failed", "participant", identity.Key(), "error", err)
		}
		return
	}
	h.Hub.Serve(c.Request.Context(), ws, identity)
}
