package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"finpulse/events"
)

// RegisterStreamRoutes registers the server-sent article stream.
func (s *Server) RegisterStreamRoutes(r *gin.Engine) {
	r.GET("/api/v1/stream", s.handleStream)
}

// handleStream pushes newly accepted articles as "article" events until the
// client disconnects. Filtered articles are hidden unless
// ?include_filtered=true.
func (s *Server) handleStream(c *gin.Context) {
	if s.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream not available"})
		return
	}
	var filter events.Filter = events.Visible
	if c.Query("include_filtered") == "true" {
		filter = nil
	}

	sub := s.publisher.Subscribe(filter)
	defer s.publisher.Unsubscribe(sub.ID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"subscription": sub.ID})
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	done := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case a, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent("article", a)
			return true
		case t := <-heartbeat.C:
			c.SSEvent("ping", t.Unix())
			return true
		}
	})
}
