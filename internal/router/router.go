package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// limiter may be nil to disable rate limiting.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware(log))

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:   middleware.DefaultBrotliConfig.Quality,
		MinLength: middleware.DefaultBrotliConfig.MinLength,
		SkipPaths: []string{"/metrics", "/ws/"},
	}))

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ─── 1. Candidate Group (JWT, Rate Limited) ────────────────────────
	candidateAPI := router.Group("/api/v1/candidate")
	candidateAPI.Use(middleware.RequireCandidateJWT(authService))
	if limiter != nil {
		candidateAPI.Use(limiter.Middleware())
	}
	{
		exams := candidateAPI.Group("/exams/:exam_id")
		exams.GET("/paper", handlers.Session.GetPaper)
		exams.POST("/session", handlers.Session.StartSession)
		exams.GET("/session", handlers.Session.GetState)
		exams.POST("/session/navigate", handlers.Session.Navigate)
		exams.PUT("/session/answers/:question_id", handlers.Session.RecordAnswer)
		exams.DELETE("/session/answers/:question_id", handlers.Session.ClearAnswer)
		exams.POST("/session/questions/:question_id/mark", handlers.Session.ToggleMark)
		exams.POST("/session/save-next", handlers.Session.SaveAndNext)
		exams.POST("/session/mark-next", handlers.Session.MarkAndNext)
		exams.POST("/session/pause", handlers.Session.PauseSession)
		exams.POST("/session/resume", handlers.Session.ResumeSession)
		exams.PUT("/session/language", handlers.Session.SetLanguage)

		candidateAPI.POST("/sessions/:session_id/submit", handlers.Session.SubmitExam)
		candidateAPI.GET("/sessions/:session_id/result", handlers.Session.GetResult)
	}

	// ─── 2. WebSocket Group (Candidate WS Auth) ────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireCandidateWSAuth(authService))
	{
		ws.GET("/candidate/exams/:exam_id/stream", handlers.WS.SessionStream)
	}

	return router
}
