package middleware

import (
	"errors"

	apiError "mavedb/internal/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func ErrorHandler(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next() // Execute the handler first

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var apiErr *apiError.APIError
		if !errors.As(err, &apiErr) {
			// raw errors we didn't wrap are internal
			apiErr = apiError.Internal(err)
		}

		if apiErr.Status >= 500 {
			log.Error("request failed",
				zap.String("path", c.FullPath()),
				zap.Error(apiErr.Internal),
			)
		} else {
			log.Info(apiErr.Message,
				zap.String("path", c.FullPath()),
				zap.Int("status", apiErr.Status),
				zap.NamedError("cause", apiErr.Internal),
			)
		}

		c.AbortWithStatusJSON(apiErr.Status, apiErr)
	}
}
