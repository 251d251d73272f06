package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/02loveslollipop/wearable-agreement/services/api/db"
)

// handleV1Merged returns long-form merged samples for an occupant
// GET /api/v1/merged/:person/:wrist?start=2024-01-01T00:00:00Z&end=...&limit=1000
func (s *Server) handleV1Merged(c *gin.Context) {
	person := c.Param("person")
	wrist, ok := parseWrist(c.Param("wrist"))
	if person == "" || !ok || wrist == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "person and wrist (left or right) are required"})
		return
	}

	limit := s.cfg.DefaultLimit
	if l := c.Query("limit"); l != "" {
		val, err := strconv.Atoi(l)
		if err != nil || val <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = val
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	var since, until *time.Time
	if start := c.Query("start"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start time format, expected RFC3339"})
			return
		}
		tt := t.UTC()
		since = &tt
	}
	if end := c.Query("end"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end time format, expected RFC3339"})
			return
		}
		tt := t.UTC()
		until = &tt
	}
	if since != nil && until != nil && until.Before(*since) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must not be before start"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	samples, err := s.store.FetchMerged(ctx, db.MergedQuery{
		Person: person,
		Wrist:  wrist,
		Since:  since,
		Until:  until,
		Limit:  limit,
	})
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": samples,
		"meta": gin.H{
			"person": person,
			"wrist":  wrist,
			"count":  len(samples),
			"limit":  limit,
		},
	})
}

// handleV1Agreement returns the agreement statistics of the latest run
// covering an occupant
// GET /api/v1/agreement/:person/:wrist
func (s *Server) handleV1Agreement(c *gin.Context) {
	person := c.Param("person")
	wrist, ok := parseWrist(c.Param("wrist"))
	if person == "" || !ok || wrist == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "person and wrist (left or right) are required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	runID, rows, err := s.store.LatestAgreement(ctx, person, wrist)
	if err != nil {
		internalError(c, err)
		return
	}
	if runID == uuid.Nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no agreement statistics for occupant"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": rows,
		"meta": gin.H{
			"run_id": runID.String(),
			"person": person,
			"wrist":  wrist,
			"count":  len(rows),
		},
	})
}

// handleV1LatestRun returns the most recent organizer run
// GET /api/v1/runs/latest
func (s *Server) handleV1LatestRun(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	run, err := s.store.LatestRun(ctx)
	if err != nil {
		internalError(c, err)
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runs recorded"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": run,
	})
}
