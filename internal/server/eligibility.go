package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type previewTaskRequest struct {
	Hours decimal.Decimal `json:"hours"`
}

type skipActivityRequest struct {
	Reason string `json:"reason"`
}

type billActivityRequest struct {
	Hours *decimal.Decimal `json:"hours"`
}

func (s *Server) EvaluateActivity(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	res, err := s.eligibilitySvc.Evaluate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res, "billable": res != nil})
}

func (s *Server) PreviewTaskBilling(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req previewTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.eligibilitySvc.PreviewTask(c.Request.Context(), id, req.Hours)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res, "billable": res != nil})
}

func (s *Server) SkipActivityBilling(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req skipActivityRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	event, err := s.eligibilitySvc.Skip(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": event})
}

func (s *Server) BillActivity(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req billActivityRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	item, err := s.billingItemSvc.ConfirmActivity(c.Request.Context(), id, req.Hours)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}
