package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"standalone/internal/journal"
)

const maxHistory = 500

// StatusHandler 返回编排器状态
func (s *Server) StatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		State:  s.status.State().String(),
		Status: s.status.Status(),
	})
}

// HistoryHandler 返回最近的状态变更，?limit=N
func (s *Server) HistoryHandler(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: "history is not available"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid limit"})
			return
		}
		limit = min(n, maxHistory)
	}

	entries, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: err.Error()})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, HistoryResponse{Entries: entries})
}
