package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	billingitemdomain "github.com/smallbiznis/casebill/internal/billingitem/domain"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
	eligibilitydomain "github.com/smallbiznis/casebill/internal/eligibility/domain"
	invoicedomain "github.com/smallbiznis/casebill/internal/invoice/domain"
	pricingdomain "github.com/smallbiznis/casebill/internal/pricing/domain"
	retainerdomain "github.com/smallbiznis/casebill/internal/retainer/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	ItemIDs []string          `json:"item_ids,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// classifyErrorForLog returns the response type and code logged for a failed request.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	if payload.Code != "" {
		return payload.Type, payload.Code
	}
	return payload.Type, payload.Type
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var conflict *invoicedomain.ConflictError
	if errors.As(err, &conflict) {
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "billing items were already invoiced",
			Code:    invoicedomain.ErrItemAlreadyBilled.Error(),
			ItemIDs: conflict.ItemIDs,
		}
	}

	var itemsErr *invoicedomain.ItemsError
	if errors.As(err, &itemsErr) {
		if errors.Is(itemsErr.Err, invoicedomain.ErrBillingItemNotFound) {
			return http.StatusNotFound, errorPayload{
				Type:    "not_found",
				Message: "not found",
				Code:    itemsErr.Err.Error(),
				ItemIDs: itemsErr.ItemIDs,
			}
		}
		code := itemsErr.Err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			ItemIDs: itemsErr.ItemIDs,
			Errors: []ValidationError{
				{
					Field:   "billing_item_ids",
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized), isOrganizationError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict), isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
			Code:    conflictCode(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
			Code:    notFoundCode(err),
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationErrors = []error{
	ErrInvalidRequest,
	pricingdomain.ErrInvalidSubject,
	casefiledomain.ErrInvalidTimeRange,
	casefiledomain.ErrInvalidQuantity,
	casefiledomain.ErrInvalidScheduleStatus,
	casefiledomain.ErrInvalidServiceID,
	eligibilitydomain.ErrNotATask,
	eligibilitydomain.ErrHoursBelowMinimum,
	eligibilitydomain.ErrNotEligible,
	billingitemdomain.ErrDeclineReasonRequired,
	billingitemdomain.ErrInvalidQuantity,
	billingitemdomain.ErrInvalidRate,
	billingitemdomain.ErrInvalidDescription,
	billingitemdomain.ErrInvalidIncurredOn,
	billingitemdomain.ErrInvalidServiceID,
	billingitemdomain.ErrActivityNotCompleted,
	billingitemdomain.ErrHoursRequired,
	billingitemdomain.ErrUnpriced,
	invoicedomain.ErrInvalidInvoiceID,
	invoicedomain.ErrNothingToInvoice,
	invoicedomain.ErrInvalidBillingItemID,
	invoicedomain.ErrDuplicateBillingItem,
	invoicedomain.ErrInvalidRetainerAmount,
	invoicedomain.ErrRetainerExceedsAvailable,
	invoicedomain.ErrItemCaseMismatch,
	invoicedomain.ErrItemNotApproved,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
}

func isValidationError(err error) bool {
	return matchAny(err, validationErrors) != nil
}

var notFoundErrors = []error{
	ErrNotFound,
	casefiledomain.ErrCaseNotFound,
	casefiledomain.ErrActivityNotFound,
	casefiledomain.ErrServiceInstanceNotFound,
	catalogdomain.ErrServiceNotFound,
	billingitemdomain.ErrBillingItemNotFound,
	invoicedomain.ErrInvoiceNotFound,
	invoicedomain.ErrBillingItemNotFound,
	gorm.ErrRecordNotFound,
}

func isNotFoundError(err error) bool {
	return matchAny(err, notFoundErrors) != nil
}

func notFoundCode(err error) string {
	if match := matchAny(err, notFoundErrors); match != nil && match != gorm.ErrRecordNotFound {
		return match.Error()
	}
	return ""
}

var conflictErrors = []error{
	billingitemdomain.ErrInvalidTransition,
	billingitemdomain.ErrItemLocked,
	casefiledomain.ErrServiceInstanceLocked,
	invoicedomain.ErrItemAlreadyBilled,
	invoicedomain.ErrGenerationInProgress,
}

func isConflictError(err error) bool {
	return matchAny(err, conflictErrors) != nil
}

func conflictCode(err error) string {
	if match := matchAny(err, conflictErrors); match != nil {
		return match.Error()
	}
	return ""
}

func isOrganizationError(err error) bool {
	return matchAny(err, []error{
		pricingdomain.ErrInvalidOrganization,
		casefiledomain.ErrInvalidOrganization,
		eligibilitydomain.ErrInvalidOrganization,
		billingitemdomain.ErrInvalidOrganization,
		retainerdomain.ErrInvalidOrganization,
		invoicedomain.ErrInvalidOrganization,
		auditdomain.ErrInvalidOrganization,
	}) != nil
}

func matchAny(err error, targets []error) error {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}

func validationErrorCode(err error) string {
	if match := matchAny(err, validationErrors); match != nil {
		return match.Error()
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "hours_required":
		return "hours are required for this task"
	case "hours_below_minimum":
		return "hours are below the billable minimum"
	case "decline_reason_required":
		return "a decline reason is required"
	case "retainer_exceeds_available":
		return "retainer exceeds the amount that can be applied"
	case "nothing_to_invoice":
		return "select at least one billing item"
	default:
		return "invalid value"
	}
}
