package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the uniform API envelope.
type Body struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success writes a 200 response with the standard envelope.
func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: message, Data: data})
}

// Fail writes a 400 response with the standard envelope.
func Fail(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusBadRequest, Body{Code: 1, Message: message, Data: data})
}

// FailWithStatus writes a response with an explicit HTTP status.
func FailWithStatus(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Body{Code: 1, Message: message, Data: data})
}
