package http

import (
	"log/slog"
	"os"

	"github.com/90rdon/Nubela-Tasks/internal/config"
	"github.com/90rdon/Nubela-Tasks/internal/core/gemini"
	"github.com/90rdon/Nubela-Tasks/internal/core/live"
	"github.com/90rdon/Nubela-Tasks/internal/core/prompt"
	"github.com/90rdon/Nubela-Tasks/internal/core/session"
	"github.com/90rdon/Nubela-Tasks/internal/core/tasks"
	"github.com/90rdon/Nubela-Tasks/internal/http/handlers"
	"github.com/90rdon/Nubela-Tasks/internal/repo/memory"
	"github.com/90rdon/Nubela-Tasks/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(cfg config.Config, logger *slog.Logger) *gin.Engine {
	r := gin.Default()
	repo := memory.NewSessionRepo()
	svc := session.NewService(repo)
	store := tasks.NewStore()
	hub := ws.NewHub()

	var decomposer live.Decomposer
	if cfg.GeminiAPIKey != "" {
		client, err := gemini.New(cfg.GeminiAPIKey, cfg.DecomposeModel)
		if err != nil {
			logger.Warn("decomposer unavailable", "err", err)
		} else {
			decomposer = client
		}
	}
	transport := gemini.NewDialer(cfg.GeminiAPIKey)

	wsScheme := "ws"
	if os.Getenv("TLS") == "1" {
		wsScheme = "wss"
	}
	host := os.Getenv("PUBLIC_HOST")
	if host == "" {
		host = "localhost:" + cfg.Port
	}

	sh := handlers.NewSessionsHandler(svc, wsScheme, host)
	th := handlers.NewTasksHandler(store)
	wsh := handlers.NewStreamHandler(hub, repo, store, transport, decomposer,
		cfg.LiveModel, cfg.Voice, prompt.New().SystemInstruction(), cfg.ConnectTimeout, logger)

	api := r.Group("/v1")
	api.POST("/sessions", sh.Create)
	api.GET("/sessions/:id/summary", sh.Summary)
	api.GET("/tasks", th.List)
	api.POST("/tasks", th.Create)
	api.PATCH("/tasks/:id", th.Update)
	api.DELETE("/tasks/:id", th.Delete)
	r.GET("/v1/stream", wsh.WS)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
