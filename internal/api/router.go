// Package api exposes the sync engine over HTTP for operational tooling.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRouter wires the HTTP surface onto a gin engine.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		trips := api.Group("/trips")
		{
			trips.GET("/:id", h.GetTrip)
			trips.POST("/:id/sync", h.SyncTrip)
		}

		jobs := api.Group("/jobs")
		{
			jobs.POST("", h.CreateJob)
			jobs.GET("/:id", h.GetJob)
		}
	}

	return r
}
