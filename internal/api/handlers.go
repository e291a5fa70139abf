package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleetops/tripsync/internal/common"
	"github.com/fleetops/tripsync/internal/engine"
	"github.com/fleetops/tripsync/internal/service"
)

// Handler holds the dependencies for the HTTP endpoints.
type Handler struct {
	storage service.Storage
	orch    *engine.Orchestrator
	tracker *engine.Tracker
}

// NewHandler creates a handler backed by the given storage and engine.
func NewHandler(storage service.Storage, orch *engine.Orchestrator, tracker *engine.Tracker) *Handler {
	return &Handler{
		storage: storage,
		orch:    orch,
		tracker: tracker,
	}
}

// GetTrip returns the persisted record for one trip.
// GET /api/trips/:id
func (h *Handler) GetTrip(c *gin.Context) {
	trip, err := h.storage.GetTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "trip not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, trip)
}

// SyncTrip synchronizes a single trip and returns the resulting record.
// POST /api/trips/:id/sync?force=true
func (h *Handler) SyncTrip(c *gin.Context) {
	force := c.Query("force") == "true"

	trip, res := h.orch.Sync(c.Request.Context(), c.Param("id"), force, nil, nil)
	if res.Err != nil {
		status := http.StatusBadGateway
		if errors.Is(res.Err, common.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": res.Err.Error(), "action": res.Action})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"action":         res.Action,
		"updated_fields": res.UpdatedFields,
		"reasons":        res.Reasons,
		"trip":           trip,
	})
}

// CreateJobRequest is the body for starting a bulk sync job.
type CreateJobRequest struct {
	TripIDs []string `json:"trip_ids" binding:"required"`
	Force   bool     `json:"force"`
}

// CreateJob starts an asynchronous bulk sync and returns its job ID.
// POST /api/jobs
func (h *Handler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// The job must outlive this request; workers get the background
	// context, not the request-scoped one.
	jobID, err := h.tracker.Start(context.Background(), req.TripIDs, req.Force)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "total": len(req.TripIDs)})
}

// GetJob returns a snapshot of a bulk job's progress.
// GET /api/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	job, ok := h.tracker.Snapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}
