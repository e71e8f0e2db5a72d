package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"workly/internal/infra/config"
	"workly/internal/infra/obs"
)

type ChatHTTP interface {
	ListConversations(c *gin.Context)
	StartConversation(c *gin.Context)
	GetConversation(c *gin.Context)
	DeleteConversation(c *gin.Context)
	ListMessages(c *gin.Context)
	MarkRead(c *gin.Context)
}

type ProfileHTTP interface {
	User(c *gin.Context)
	Company(c *gin.Context)
}

type RealtimeHTTP interface {
	Connect(c *gin.Context)
}

type Handlers struct {
	Chat           ChatHTTP
	Profiles       ProfileHTTP
	Realtime       RealtimeHTTP
	Metrics        http.Handler
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Server, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg.Env, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the gin engine; tests drive it through httptest.
func NewRouter(env string, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", identityTypeHeader, identityIDHeader},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}
	if h.Realtime != nil {
		router.GET("/ws", h.Realtime.Connect)
	}

	api := router.Group("/api/v1")
	if h.Chat != nil {
		chatGroup := api.Group("/chat/conversations")
		chatGroup.GET("", h.Chat.ListConversations)
		chatGroup.POST("", h.Chat.StartConversation)
		chatGroup.GET("/:id", h.Chat.GetConversation)
		chatGroup.DELETE("/:id", h.Chat.DeleteConversation)
		chatGroup.GET("/:id/messages", h.Chat.ListMessages)
		chatGroup.POST("/:id/read", h.Chat.MarkRead)
	}
	if h.Profiles != nil {
		api.GET("/users/:id", h.Profiles.User)
		api.GET("/companies/:id", h.Profiles.Company)
	}
	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
