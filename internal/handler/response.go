package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/medsolicita/case-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// RespondError maps application error kinds to HTTP statuses.
func RespondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.Code(err) {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrValidation:
		status = http.StatusBadRequest
	case apperrors.ErrUnauthorized:
		status = http.StatusForbidden
	case apperrors.ErrInvalidStateTransition, apperrors.ErrConflict:
		status = http.StatusConflict
	case apperrors.ErrGatewayUnavailable:
		status = http.StatusBadGateway
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	c.JSON(status, NewErrorResponse(message))
}
