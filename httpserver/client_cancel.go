package httpserver

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
)

// HandleClientCancel reports requests whose client went away with the
// conventional 499 status, keeping them out of the 5XX counts.
func HandleClientCancel(c *gin.Context) {
	c.Next()
	if errors.Is(c.Request.Context().Err(), context.Canceled) {
		c.Status(499)
	}
}
