package middleware

import (
	"log"

	"github.com/Shashank188/CanvasCollab/internal/apierror"

	"github.com/gin-gonic/gin"
)

// ErrorHandler translates a handler's ctx.Error(...)-registered error
// into a JSON response, logging 5xx at error level and everything else
// at info level, per the teacher's error_handler.go.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := apierror.As(err)
		if !ok {
			appErr = apierror.ErrInternalServer(err)
		}

		if appErr.Code >= 500 {
			log.Printf("[ERROR] %v\n", appErr.Err)
		} else {
			log.Printf("[INFO] %s: %v\n", appErr.Message, appErr.Err)
		}

		c.AbortWithStatusJSON(appErr.Code, gin.H{"error": appErr.Message})
	}
}
