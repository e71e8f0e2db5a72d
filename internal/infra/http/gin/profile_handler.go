package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"workly/internal/app/services/messaging"
	domainchat "workly/internal/domain/chat"
)

// ProfileHandler serves public participant cards.
type ProfileHandler struct {
	Service *messaging.Service
	Logger  *slog.Logger
}

func (h ProfileHandler) User(c *gin.Context) {
	h.respond(c, domainchat.User(c.Param("id")))
}

func (h ProfileHandler) Company(c *gin.Context) {
	h.respond(c, domainchat.CompanyParticipant(c.Param("id")))
}

func (h ProfileHandler) respond(c *gin.Context, p domainchat.Participant) {
	if _, ok := requireAuth(c); !ok {
		return
	}
	prof, err := h.Service.Profile(c.Request.Context(), p)
	if err != nil {
		respondChatError(c, h.Logger, err, "load profile", "participant", p.Key())
		return
	}
	c.JSON(http.StatusOK, prof)
}
