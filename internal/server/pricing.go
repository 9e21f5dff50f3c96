package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ResolveRate(c *gin.Context) {
	caseID, ok := pathID(c, "case_id")
	if !ok {
		return
	}
	serviceID, ok := pathID(c, "service_id")
	if !ok {
		return
	}

	res, err := s.pricingSvc.ResolveRate(c.Request.Context(), caseID, serviceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res, "priced": res.Priced()})
}
