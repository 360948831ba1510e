package server

import (
	"net/http"
	"strconv"
	"strings"

	accountdomain "github.com/andora/tokenledger/internal/account/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// GetAlerts returns live alerts, newest first. An optional user_id query
// filters to one user.
func (s *Server) GetAlerts(c *gin.Context) {
	var userID snowflake.ID
	if raw := strings.TrimSpace(c.Query("user_id")); raw != "" {
		parsed, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, accountdomain.ErrInvalidID)
			return
		}
		userID = parsed
	}

	alerts := s.monitoringSvc.GetAlerts(userID)
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) GetSystemStats(c *gin.Context) {
	stats, err := s.monitoringSvc.GetSystemStats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) AnalyzeUserPattern(c *gin.Context) {
	userID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, accountdomain.ErrInvalidID)
		return
	}

	report, err := s.monitoringSvc.AnalyzeUserPattern(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) GetUserUsageBreakdown(c *gin.Context) {
	userID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, accountdomain.ErrInvalidID)
		return
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))

	breakdown, err := s.reportingSvc.GetUserUsageBreakdown(c.Request.Context(), userID, days)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}
