// Package response renders the envelope every endpoint speaks: a success
// flag plus either a data payload or a coded error, never both.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/clearlane/onboard/pkg/errors"
)

// Response is the JSON envelope for all API replies.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the client-facing error payload. The message is the
// AppError's public text, never a wrapped internal error.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success writes data inside a success envelope with the given status.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
	})
}

// Error resolves err to an AppError and writes its code and message. Errors
// that are not AppErrors collapse to a generic 500 so internals stay hidden.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.JSON(status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	})
}
