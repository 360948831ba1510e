package server

import (
	"net/http"
	"strconv"
	"strings"

	agentdomain "github.com/andora/tokenledger/internal/agentconfig/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListAgentConfigs(c *gin.Context) {
	configs, err := s.agentSvc.GetAllConfigs(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": configs})
}

func (s *Server) GetAgentConfig(c *gin.Context) {
	agentName := c.Param("agent")
	useCache := c.Query("use_cache") != "false"

	cfg, err := s.agentSvc.GetConfig(c.Request.Context(), agentName, useCache)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if cfg == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) UpdateAgentConfig(c *gin.Context) {
	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	cfg, err := s.agentSvc.UpdateConfig(c.Request.Context(), c.Param("agent"), updates)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if cfg == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) ListAgentPrompts(c *gin.Context) {
	prompts, err := s.agentSvc.GetPrompts(c.Request.Context(), c.Param("agent"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompts": prompts})
}

func (s *Server) GetAgentPrompt(c *gin.Context) {
	prompt, err := s.agentSvc.GetPrompt(c.Request.Context(), c.Param("agent"), c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if prompt == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, prompt)
}

func (s *Server) UpsertAgentPrompt(c *gin.Context) {
	var req agentdomain.UpsertPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	// Path parameters win over whatever the body claims.
	req.AgentName = c.Param("agent")
	req.PromptKey = c.Param("key")

	version, err := s.agentSvc.UpsertPrompt(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version})
}

type renderPromptRequest struct {
	AgentName string         `json:"agent_name"`
	PromptKey string         `json:"prompt_key"`
	Template  string         `json:"template"`
	Variables map[string]any `json:"variables,omitempty"`
}

// RenderPrompt substitutes variables into a template. When agent_name and
// prompt_key are given the stored active template is used; otherwise the
// inline template from the body.
func (s *Server) RenderPrompt(c *gin.Context) {
	var req renderPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	template := req.Template
	if strings.TrimSpace(req.AgentName) != "" && strings.TrimSpace(req.PromptKey) != "" {
		prompt, err := s.agentSvc.GetPrompt(c.Request.Context(), req.AgentName, req.PromptKey)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if prompt == nil {
			AbortWithError(c, ErrNotFound)
			return
		}
		template = prompt.Template
	}

	c.JSON(http.StatusOK, gin.H{
		"rendered": agentdomain.RenderPrompt(template, req.Variables),
	})
}

func (s *Server) TrackAgentPerformance(c *gin.Context) {
	var req agentdomain.TrackPerformanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.AgentName = c.Param("agent")

	s.agentSvc.TrackPerformance(c.Request.Context(), req)

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) GetAgentAnalytics(c *gin.Context) {
	daysBack, _ := strconv.Atoi(c.DefaultQuery("days_back", "7"))

	analytics, err := s.agentSvc.GetPerformanceAnalytics(c.Request.Context(), c.Param("agent"), daysBack)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, analytics)
}

func (s *Server) ClearCaches(c *gin.Context) {
	s.agentSvc.ClearCaches()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
