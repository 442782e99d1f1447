package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"finpulse/storage"
)

// RegisterArticleRoutes registers article lookup endpoints.
func (s *Server) RegisterArticleRoutes(r *gin.Engine) {
	r.GET("/api/v1/articles/:id", s.handleGetArticle)
}

func (s *Server) handleGetArticle(c *gin.Context) {
	if s.articles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "article store not available"})
		return
	}
	a, err := s.articles.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load article: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, a)
}
