package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "sla-monitor/pkg/errors"
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error sends JSON with the given HTTP status code and message.
func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FromError maps the error taxonomy onto HTTP statuses: validation 400,
// not-found 404, config 503 (alerting disabled/misconfigured), else 500.
func FromError(c *gin.Context, err error) {
	switch {
	case apperrors.IsValidation(err):
		Error(c, http.StatusBadRequest, err.Error())
	case apperrors.IsNotFound(err):
		Error(c, http.StatusNotFound, err.Error())
	case apperrors.IsConfig(err):
		Error(c, http.StatusServiceUnavailable, err.Error())
	default:
		Error(c, http.StatusInternalServerError, err.Error())
	}
}
