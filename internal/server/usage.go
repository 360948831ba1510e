package server

import (
	"net/http"
	"strings"

	obscontext "github.com/andora/tokenledger/internal/observability/context"
	usagedomain "github.com/andora/tokenledger/internal/usage/domain"
	"github.com/gin-gonic/gin"
)

// RecordUsage accepts a usage event and acknowledges it immediately. Events
// that fail validation or storage are dropped; the caller is never failed
// for a metering problem.
func (s *Server) RecordUsage(c *gin.Context) {
	var req usagedomain.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if taskType := strings.TrimSpace(req.TaskType); taskType != "" {
		c.Set("task_type", taskType)
	}

	ctx := obscontext.WithBrandID(c.Request.Context(), req.BrandID)
	result := s.usageSvc.Record(ctx, req)

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "accepted",
		"applied": result.Applied,
	})
}
