package api

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"
)

// RegisterCollectionRoutes registers the run trigger and report endpoints.
func (s *Server) RegisterCollectionRoutes(r *gin.Engine) {
	g := r.Group("/api/v1/collection")
	g.POST("/run", s.requireAPIKey, s.handleRun)
	g.GET("/status", s.handleStatus)
	g.GET("/reports", s.handleReports)
	g.GET("/reports/latest", s.handleLatestReport)
}

// handleRun runs a collection cycle, optionally scoped with ?source=.
// With ?async=true it returns 202 immediately; otherwise it returns the report.
func (s *Server) handleRun(c *gin.Context) {
	source := c.Query("source")
	if source != "" && !slices.Contains(s.runner.Sources(), source) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown source: " + source})
		return
	}

	if c.Query("async") == "true" {
		s.runner.RunCollectionAsync(c.Request.Context(), source)
		c.JSON(http.StatusAccepted, gin.H{"status": "collection started", "source": source})
		return
	}

	report := s.runner.RunCollection(c.Request.Context(), source)
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.runner.Status())
}

// handleReports returns recent reports, newest first. ?limit= caps the count.
func (s *Server) handleReports(c *gin.Context) {
	reports := s.runner.Reports()
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n < len(reports) {
			reports = reports[:n]
		}
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

func (s *Server) handleLatestReport(c *gin.Context) {
	reports := s.runner.Reports()
	if len(reports) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runs yet"})
		return
	}
	c.JSON(http.StatusOK, reports[0])
}
