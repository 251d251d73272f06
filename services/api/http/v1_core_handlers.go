package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/wearable-agreement/services/api/config"
	"github.com/02loveslollipop/wearable-agreement/services/api/db"
)

// handleV1WearEvents returns resolved wear events
// GET /api/v1/core/wear-events?person=P&wrist=left
func (s *Server) handleV1WearEvents(c *gin.Context) {
	wrist, ok := parseWrist(c.Query("wrist"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wrist must be left or right"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	events, err := s.store.ListWearEvents(ctx, db.WearEventQuery{
		Person: strings.TrimSpace(c.Query("person")),
		Wrist:  wrist,
	})
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": events,
		"meta": gin.H{
			"count": len(events),
		},
	})
}

// handleV1People returns every person/wrist pair with its devices
// GET /api/v1/core/people
func (s *Server) handleV1People(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	people, err := s.store.ListPeople(ctx)
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": people,
		"meta": gin.H{
			"count": len(people),
		},
	})
}

// handleV1Devices returns the configured device table, optionally for one
// sensor
// GET /api/v1/core/devices?sensor=accelerometer
func (s *Server) handleV1Devices(c *gin.Context) {
	sensor := strings.ToLower(strings.TrimSpace(c.Query("sensor")))
	out := make([]config.Device, 0, len(s.devices))
	for _, d := range s.devices {
		if sensor == "" || d.Sensor == sensor {
			out = append(out, d)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": out,
		"meta": gin.H{
			"count": len(out),
		},
	})
}

// handleV1Activities returns activity annotations
// GET /api/v1/core/activities?person=P
func (s *Server) handleV1Activities(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	acts, err := s.store.ListActivities(ctx, strings.TrimSpace(c.Query("person")))
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": acts,
		"meta": gin.H{
			"count": len(acts),
		},
	})
}

// parseWrist normalizes an optional wrist parameter.
func parseWrist(v string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return "", true
	case "left", "l":
		return "left", true
	case "right", "r":
		return "right", true
	}
	return "", false
}
