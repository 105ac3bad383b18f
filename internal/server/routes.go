package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/callsheet/internal/prompts"
)

// profileView is the JSON shape of one prompt profile.
type profileView struct {
	Profile     prompts.Profile `json:"profile"`
	Instruction string          `json:"instruction"`
	Template    string          `json:"template"`
}

// registerRoutes sets up all routes on the Gin router.
func registerRoutes(router *gin.Engine, opts Opts) {
	router.GET("/healthz", handleHealth())

	api := router.Group("/api")
	api.GET("/prompts", handlePromptList(opts.Prompts))
	api.GET("/prompts/:profile", handlePrompt(opts.Prompts))
	api.GET("/sessions", handleSessions(opts.Sessions))

	if opts.Webhook != nil {
		path := opts.WebhookPath
		if path == "" {
			path = "/telegram"
		}
		router.POST(path, gin.WrapH(opts.Webhook))
	}
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handlePromptList(src PromptReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := make([]profileView, 0, len(prompts.Profiles()))
		for _, p := range prompts.Profiles() {
			out = append(out, view(p, src.Get(p)))
		}
		c.JSON(http.StatusOK, out)
	}
}

func handlePrompt(src PromptReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := prompts.Profile(c.Param("profile"))
		if !prompts.IsKnown(p) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown profile " + string(p)})
			return
		}
		c.JSON(http.StatusOK, view(p, src.Get(p)))
	}
}

func handleSessions(src SessionLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		snaps := src.Snapshot()
		c.JSON(http.StatusOK, gin.H{"count": len(snaps), "sessions": snaps})
	}
}

func view(p prompts.Profile, pair prompts.Pair) profileView {
	return profileView{Profile: p, Instruction: pair.Instruction, Template: pair.Template}
}
