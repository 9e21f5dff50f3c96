package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingitemdomain "github.com/smallbiznis/casebill/internal/billingitem/domain"
)

type declineRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ListTimeEntries(c *gin.Context) {
	caseID, ok := pathID(c, "case_id")
	if !ok {
		return
	}

	entries, err := s.billingItemSvc.DeriveTimeEntries(c.Request.Context(), caseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) RecordTimeEntries(c *gin.Context) {
	caseID, ok := pathID(c, "case_id")
	if !ok {
		return
	}

	items, err := s.billingItemSvc.Record(c.Request.Context(), caseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) ListExpenses(c *gin.Context) {
	caseID, ok := pathID(c, "case_id")
	if !ok {
		return
	}

	expenses, err := s.billingItemSvc.ListExpenses(c.Request.Context(), caseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": expenses})
}

func (s *Server) RecordExpense(c *gin.Context) {
	caseID, ok := pathID(c, "case_id")
	if !ok {
		return
	}

	var req billingitemdomain.RecordExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.billingItemSvc.RecordExpense(c.Request.Context(), caseID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) GetBillingItem(c *gin.Context) {
	s.itemAction(c, s.billingItemSvc.Get)
}

func (s *Server) EditBillingItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req billingitemdomain.EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.billingItemSvc.Edit(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) SubmitBillingItem(c *gin.Context) {
	s.itemAction(c, s.billingItemSvc.Submit)
}

func (s *Server) ApproveBillingItem(c *gin.Context) {
	s.itemAction(c, s.billingItemSvc.Approve)
}

func (s *Server) ResubmitBillingItem(c *gin.Context) {
	s.itemAction(c, s.billingItemSvc.Resubmit)
}

func (s *Server) DeclineBillingItem(c *gin.Context) {
	var req declineRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	s.itemAction(c, func(ctx context.Context, id snowflake.ID) (*billingitemdomain.BillingItem, error) {
		return s.billingItemSvc.Decline(ctx, id, strings.TrimSpace(req.Reason))
	})
}

func (s *Server) itemAction(c *gin.Context, action func(context.Context, snowflake.ID) (*billingitemdomain.BillingItem, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	item, err := action(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}
