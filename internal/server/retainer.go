package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetRetainerSummary(c *gin.Context) {
	caseID, ok := pathID(c, "case_id")
	if !ok {
		return
	}

	summary, err := s.retainerSvc.Summary(c.Request.Context(), caseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}
