package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	"workly/internal/app/dto"
	"workly/internal/app/services/messaging"
	domainchat "workly/internal/domain/chat"
)

// ReadPublisher pushes read receipts to connected sockets.
type ReadPublisher interface {
	PublishRead(res messaging.ReadResult)
}

// ChatHandler exposes the conversation endpoints.
type ChatHandler struct {
	Service *messaging.Service
	Reads   ReadPublisher
	Logger  *slog.Logger
}

func (h ChatHandler) ListConversations(c *gin.Context) {
	as, ok := requireIdentity(c)
	if !ok {
		return
	}
	page := parsePositiveIntStrict(c.Query("page"), 1)
	limit := parsePositiveIntStrict(c.Query("limit"), 20)
	res, err := h.Service.List(c.Request.Context(), as, page, limit)
	if err != nil {
		h.respondChatError(c, err, "list conversations", "participant", as.Key())
		return
	}
	items := res.Items
	if items == nil {
		items = []domainchat.Conversation{}
	}
	c.JSON(http.StatusOK, dto.ConversationList{Items: items, Page: res.Page, HasMore: res.HasMore})
}

func (h ChatHandler) StartConversation(c *gin.Context) {
	as, ok := requireIdentity(c)
	if !ok {
		return
	}
	var req dto.StartConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid payload", Code: "malformed_payload"})
		return
	}
	typ, err := domainchat.ParseParticipantType(req.ParticipantType)
	if err != nil {
		h.respondChatError(c, err, "start conversation", "participant", as.Key())
		return
	}
	other := domainchat.Participant{ID: strings.TrimSpace(req.ParticipantID), Type: typ}
	conv, created, err := h.Service.GetOrCreate(c.Request.Context(), as, other)
	if err != nil {
		h.respondChatError(c, err, "start conversation", "participant", as.Key(), "other", other.Key())
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, conv)
}

func (h ChatHandler) GetConversation(c *gin.Context) {
	as, ok := requireIdentity(c)
	if !ok {
		return
	}
	conv, err := h.Service.Get(c.Request.Context(), as, c.Param("id"))
	if err != nil {
		h.respondChatError(c, err, "load conversation", "conversation_id", c.Param("id"), "participant", as.Key())
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h ChatHandler) DeleteConversation(c *gin.Context) {
	as, ok := requireIdentity(c)
	if !ok {
		return
	}
	conv, err := h.Service.Delete(c.Request.Context(), as, c.Param("id"))
	if err != nil {
		h.respondChatError(c, err, "delete conversation", "conversation_id", c.Param("id"), "participant", as.Key())
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h ChatHandler) ListMessages(c *gin.Context) {
	as, ok := requireIdentity(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	page := parsePositiveIntStrict(c.Query("page"), 1)
	limit := parsePositiveIntStrict(c.Query("limit"), 20)
	res, err := h.Service.ListMessages(c.Request.Context(), as, conversationID, page, limit)
	if err != nil {
		h.respondChatError(c, err, "list messages", "conversation_id", conversationID, "participant", as.Key())
		return
	}
	items := res.Items
	if items == nil {
		items = []domainchat.Message{}
	}
	c.JSON(http.StatusOK, dto.MessageList{Items: items, Page: res.Page, HasMore: res.HasMore})
}

func (h ChatHandler) MarkRead(c *gin.Context) {
	as, ok := requireIdentity(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	res, err := h.Service.MarkRead(c.Request.Context(), as, conversationID)
	if err != nil {
		h.respondChatError(c, err, "mark read", "conversation_id", conversationID, "participant", as.Key())
		return
	}
	if h.Reads != nil && len(res.MessageIDs) > 0 {
		h.Reads.PublishRead(res)
	}
	ids := res.MessageIDs
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, dto.ReadReceipts{
		ConversationID: res.ConversationID,
		Reader:         res.Reader,
		MessageIDs:     ids,
		ReadAt:         res.ReadAt,
	})
}

func (h ChatHandler) respondChatError(c *gin.Context, err error, action string, attrs ...any) {
	respondChatError(c, h.Logger, err, action, attrs...)
}

func respondChatError(c *gin.Context, logger *slog.Logger, err error, action string, attrs ...any) {
	status := chatErrorStatus(err)
	if logger != nil {
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "chat call failed", append([]any{"action", action, "error", err}, attrs...)...)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, dto.ErrorResponse{Error: msg, Code: dto.ErrorCode(err)})
}

func chatErrorStatus(err error) int {
	switch {
	case errors.Is(err, domainchat.ErrConversationNotFound), errors.Is(err, domainchat.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainchat.ErrNotParticipant), errors.Is(err, domainchat.ErrIdentityNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, domainchat.ErrEmptyContent),
		errors.Is(err, domainchat.ErrConversationIDRequired),
		errors.Is(err, domainchat.ErrSelfConversation),
		errors.Is(err, domainchat.ErrInvalidParticipantType),
		errors.Is(err, domainchat.ErrParticipantIDRequired),
		errors.Is(err, domainchat.ErrParticipantsInvalid),
		errors.Is(err, domainchat.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, messaging.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parsePositiveIntStrict(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}
