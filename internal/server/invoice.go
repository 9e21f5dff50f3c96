package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/casebill/internal/invoice/domain"
)

func (s *Server) PreviewInvoice(c *gin.Context) {
	req, ok := bindGenerateRequest(c)
	if !ok {
		return
	}

	preview, err := s.invoiceSvc.Preview(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": preview})
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	req, ok := bindGenerateRequest(c)
	if !ok {
		return
	}

	res, err := s.invoiceSvc.Generate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": res.Invoice, "warnings": res.Warnings})
}

func (s *Server) ListInvoices(c *gin.Context) {
	caseID, err := parseOptionalSnowflakeID(c.Query("case_id"))
	if err != nil {
		AbortWithError(c, newValidationError("case_id", "invalid_case_id", "invalid case_id"))
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{CaseID: caseID})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	item, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func bindGenerateRequest(c *gin.Context) (invoicedomain.GenerateRequest, bool) {
	caseID, ok := pathID(c, "case_id")
	if !ok {
		return invoicedomain.GenerateRequest{}, false
	}

	var req invoicedomain.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return invoicedomain.GenerateRequest{}, false
	}
	req.CaseID = caseID
	return req, true
}
