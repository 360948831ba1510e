package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/andora/tokenledger/internal/observability/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const recordEndpoint = "usage_record"

// classifyErrorForLog buckets a request error into a coarse type and a
// stable code for the access log. It never returns request-specific text.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}

	if vErr := asValidationErrors(err); vErr != nil {
		code := "validation_error"
		if len(vErr.Errors) > 0 {
			code = vErr.Errors[0].Code
		}
		return "validation", code
	}

	switch {
	case isValidationError(err):
		return "validation", validationErrorCode(err)
	case isNotFoundError(err):
		return "not_found", "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited", "rate_limited"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable", "service_unavailable"
	case errors.Is(err, gorm.ErrInvalidTransaction):
		return "internal", "invalid_transaction"
	default:
		return "internal", "internal_error"
	}
}

type recordBodyKey struct {
	BrandID string `json:"brand_id"`
}

// RecordRateLimit throttles the usage record endpoint per brand. The body
// is re-buffered so the handler can still bind it.
func (s *Server) RecordRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.recordLimiter == nil || !s.recordLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()

		brandID, err := readRecordBrandID(c)
		if err != nil {
			logger.FromContext(ctx).Warn("record rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if brandID == "" {
			// Validation rejects the request downstream; no bucket to charge.
			c.Next()
			return
		}

		allowed, err := s.recordLimiter.AllowBrand(ctx, brandID)
		if err != nil {
			logger.FromContext(ctx).Warn("record rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !allowed {
			logger.FromContext(ctx).Warn("record rate limit exceeded",
				zap.String("brand_id", brandID),
			)
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(ctx, recordEndpoint, "brand-rate")
			}
			c.Header("Retry-After", "1")
			AbortWithError(c, ErrRateLimited)
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, recordEndpoint)
		}
		c.Next()
	}
}

func readRecordBrandID(c *gin.Context) (string, error) {
	if c.Request.Body == nil {
		return "", nil
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}

	var key recordBodyKey
	if err := json.Unmarshal(body, &key); err != nil {
		return "", nil
	}
	return strings.TrimSpace(key.BrandID), nil
}
