// Package httpkit holds the gin plumbing shared by the API and the worker ops
// server: error mapping, agent authentication and webhook rate limiting.
package httpkit

import (
	"errors"
	"net/http"

	"chatflow_backend/platform/apperr"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

func JSON(c *gin.Context, status int, payload interface{}) {
	c.JSON(status, payload)
}

func OK(c *gin.Context, payload interface{}) {
	c.JSON(http.StatusOK, payload)
}

// HandleError writes err and reports whether it did. A wrapped *apperr.Error
// picks the status through its Kind; anything else is an opaque 500. 5xx causes
// are attached to the context for RequestLogger.
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	var domainErr *apperr.Error
	if !errors.As(err, &domainErr) {
		domainErr = apperr.Internal("internal server error")
	}
	if domainErr.HTTPStatus() >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(domainErr.HTTPStatus(), ErrorResponse{
		Error:   domainErr.Message,
		Details: domainErr.Details,
	})
	return true
}

// Abort writes err like HandleError and stops the handler chain.
func Abort(c *gin.Context, err error) {
	HandleError(c, err)
	c.Abort()
}
