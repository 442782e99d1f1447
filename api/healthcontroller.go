package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterHealthRoutes registers health check endpoints.
func (s *Server) RegisterHealthRoutes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.GET("/api/health", s.handleHealth)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"state":   s.runner.Status().State,
		"sources": s.runner.Sources(),
	}
	if s.publisher != nil {
		body["subscribers"] = s.publisher.Count()
	}
	if s.capabilities != nil {
		body["capabilities"] = s.capabilities
	}
	c.JSON(http.StatusOK, body)
}
