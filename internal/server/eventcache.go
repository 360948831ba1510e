package server

import (
	"net/http"
	"strconv"

	accountdomain "github.com/andora/tokenledger/internal/account/domain"
	eventdomain "github.com/andora/tokenledger/internal/eventcache/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type putEventCalendarRequest struct {
	Payload     any    `json:"payload"`
	Suggestions any    `json:"suggestions,omitempty"`
	GeneratedBy string `json:"generated_by,omitempty"`
	TTLHours    int    `json:"ttl_hours,omitempty"`
}

func (s *Server) PutEventCalendar(c *gin.Context) {
	brandID, err := snowflake.ParseString(c.Param("brand"))
	if err != nil {
		AbortWithError(c, accountdomain.ErrInvalidID)
		return
	}

	var req putEventCalendarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entry, err := s.eventCacheSvc.Put(c.Request.Context(), eventdomain.PutRequest{
		BrandID:     brandID,
		CacheKey:    c.Param("key"),
		Payload:     req.Payload,
		Suggestions: req.Suggestions,
		GeneratedBy: req.GeneratedBy,
		TTLHours:    req.TTLHours,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) GetEventCalendar(c *gin.Context) {
	brandID, err := snowflake.ParseString(c.Param("brand"))
	if err != nil {
		AbortWithError(c, accountdomain.ErrInvalidID)
		return
	}

	entry, err := s.eventCacheSvc.Get(c.Request.Context(), brandID, c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if entry == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) PurgeEventCalendar(c *gin.Context) {
	removed, err := s.eventCacheSvc.PurgeExpired(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) GetMonthlySummary(c *gin.Context) {
	brandID, err := snowflake.ParseString(c.Param("brand"))
	if err != nil {
		AbortWithError(c, accountdomain.ErrInvalidID)
		return
	}
	month, _ := strconv.Atoi(c.Query("month"))
	year, _ := strconv.Atoi(c.Query("year"))

	summary, err := s.reportingSvc.GetMonthlySummary(c.Request.Context(), brandID, month, year)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
