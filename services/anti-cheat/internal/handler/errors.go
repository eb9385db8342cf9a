// services/anti-cheat/internal/handler/errors.go
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/repository"
	"trust-defense/services/anti-cheat/internal/service"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyReviewed),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrPermanentBan),
		errors.Is(err, service.ErrTooManyConflicts),
		errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes client errors verbatim. Server errors are logged and
// answered with msg only.
func respondError(c *gin.Context, log *zap.Logger, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
