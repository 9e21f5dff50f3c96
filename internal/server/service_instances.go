package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
)

func (s *Server) UpdateServiceInstance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req casefiledomain.UpdateServiceInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	instance, err := s.caseSvc.UpdateServiceInstance(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": instance})
}
