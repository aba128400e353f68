package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse es el cuerpo estándar de error: {"error": {"message": "..."}}.
type ErrorResponse struct {
	Message string `json:"message"`
}

// SendSuccess envuelve el payload en {"data": ...}.
func SendSuccess(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, gin.H{"data": data})
}

func SendError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"error": ErrorResponse{Message: message}})
}

func SendBadRequest(c *gin.Context, message string) {
	SendError(c, http.StatusBadRequest, message)
}

func SendNotFound(c *gin.Context, message string) {
	SendError(c, http.StatusNotFound, message)
}

func SendConflict(c *gin.Context, message string) {
	SendError(c, http.StatusConflict, message)
}

// SendInternalServerError no expone el detalle del error al cliente.
func SendInternalServerError(c *gin.Context) {
	SendError(c, http.StatusInternalServerError, "internal error")
}

func SendServiceUnavailable(c *gin.Context, message string) {
	SendError(c, http.StatusServiceUnavailable, message)
}
