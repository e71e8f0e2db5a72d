package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	domainchat "workly/internal/domain/chat"
	"workly/internal/infra/security"
)

const (
	principalContextKey = "workly.principal"
	identityTypeHeader  = "X-Identity-Type"
	identityIDHeader    = "X-Identity-ID"
)

type principal struct {
	UserID    string
	Companies []string
	Token     string
	claims    security.Claims
}

type AuthMiddleware struct {
	Tokens *security.Tokens
	Logger *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" || m.Tokens == nil {
		c.Next()
		return
	}
	claims, err := m.Tokens.Verify(token)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	setPrincipal(c, principal{
		UserID:    claims.UserID(),
		Companies: claims.Companies,
		Token:     token,
		claims:    claims,
	})
	c.Next()
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requireAuth(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}

// requireIdentity resolves the participant the caller speaks as. Without
// explicit identity headers it is the token holder's personal identity.
func requireIdentity(c *gin.Context) (domainchat.Participant, bool) {
	p, ok := requireAuth(c)
	if !ok {
		return domainchat.Participant{}, false
	}
	rawType := c.GetHeader(identityTypeHeader)
	rawID := c.GetHeader(identityIDHeader)
	if rawType == "" && rawID == "" {
		rawType = c.Query("identity_type")
		rawID = c.Query("identity_id")
	}
	if rawType == "" && rawID == "" {
		return domainchat.User(p.UserID), true
	}
	typ, err := domainchat.ParseParticipantType(rawType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_participant_type"})
		return domainchat.Participant{}, false
	}
	identity, err := domainchat.NewParticipant(rawID, typ)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "participant_id_required"})
		return domainchat.Participant{}, false
	}
	if !p.claims.CanActAs(identity) {
		c.JSON(http.StatusForbidden, gin.H{"error": domainchat.ErrIdentityNotAuthorized.Error(), "code": "identity_not_authorized"})
		return domainchat.Participant{}, false
	}
	return identity, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	token := strings.TrimSpace(header[7:])
	return token
}
