package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadpilot/adops-go/internal/utils"
)

// respondError maps service errors onto HTTP status codes: validation
// failures are the caller's fault, missing entities are 404, everything else
// is a server error with the detail kept out of the response body.
func respondError(c *gin.Context, err error) {
	switch {
	case utils.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case utils.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
